package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestMemoryKV_TTL(t *testing.T) {
	ctx := context.Background()
	kv := NewMemoryKV()
	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	require.NoError(t, kv.Set(ctx, "k", "v", time.Minute))
	v, err := kv.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, "v", v)

	now = now.Add(time.Minute)
	_, err = kv.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrMiss))
}

func TestRedisKV(t *testing.T) {
	ctx := context.Background()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer client.Close()
	kv := NewRedisKV(client)

	_, err := kv.Get(ctx, "k")
	assert.True(t, errors.Is(err, ErrMiss))

	require.NoError(t, kv.Set(ctx, "k", "v", 30*time.Second))
	assert.Equal(t, 30*time.Second, mr.TTL("k"))

	require.NoError(t, kv.Delete(ctx, "k"))
	assert.False(t, mr.Exists("k"))
}

func TestPebbleKV_TTL(t *testing.T) {
	ctx := context.Background()
	kv, err := OpenPebbleKV(t.TempDir())
	require.NoError(t, err)
	defer kv.Close()

	now := time.Date(2026, 10, 17, 9, 0, 0, 0, time.UTC)
	kv.now = func() time.Time { return now }

	require.NoError(t, kv.Set(ctx, "forever", "a", 0))
	require.NoError(t, kv.Set(ctx, "short", "b", time.Second))

	now = now.Add(time.Hour)
	v, err := kv.Get(ctx, "forever")
	require.NoError(t, err)
	assert.Equal(t, "a", v)
	_, err = kv.Get(ctx, "short")
	assert.True(t, errors.Is(err, ErrMiss))

	require.NoError(t, kv.Delete(ctx, "forever"))
	_, err = kv.Get(ctx, "forever")
	assert.True(t, errors.Is(err, ErrMiss))
}

func setupMockDB(t *testing.T) (*sql.DB, sqlmock.Sqlmock, *PostgresKV) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	return db, mock, NewPostgresKV(db)
}

func TestPostgresKV_Get_Success(t *testing.T) {
	db, mock, kv := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT value\s+FROM taarini_kv`).
		WithArgs("k").
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(`{"version":1}`))

	v, err := kv.Get(context.Background(), "k")
	require.NoError(t, err)
	assert.Equal(t, `{"version":1}`, v)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKV_Get_Miss(t *testing.T) {
	db, mock, kv := setupMockDB(t)
	defer db.Close()

	mock.ExpectQuery(`SELECT value`).
		WithArgs("k").
		WillReturnError(sql.ErrNoRows)

	_, err := kv.Get(context.Background(), "k")
	assert.True(t, errors.Is(err, ErrMiss))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKV_Set_Upsert(t *testing.T) {
	db, mock, kv := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`(?s)INSERT INTO taarini_kv .* ON CONFLICT \(key\) DO UPDATE`).
		WithArgs("k", "v", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, kv.Set(context.Background(), "k", "v", 0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKV_Delete(t *testing.T) {
	db, mock, kv := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`DELETE FROM taarini_kv`).
		WithArgs("k").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, kv.Delete(context.Background(), "k"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresKV_EnsureSchema(t *testing.T) {
	db, mock, kv := setupMockDB(t)
	defer db.Close()

	mock.ExpectExec(`CREATE TABLE IF NOT EXISTS taarini_kv`).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, kv.EnsureSchema(context.Background()))
	require.NoError(t, mock.ExpectationsWereMet())
}

// captureArg 记录写入的参数值
type captureArg struct{ value *string }

func (c captureArg) Match(v driver.Value) bool {
	s, ok := v.(string)
	if ok {
		*c.value = s
	}
	return ok
}

func TestResultCache_PostgresRoundTrip(t *testing.T) {
	db, mock, kv := setupMockDB(t)
	defer db.Close()
	ctx := context.Background()

	var stored string
	mock.ExpectExec(`INSERT INTO taarini_kv`).
		WithArgs(testKey, captureArg{value: &stored}, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, NewResultCache(kv, testKey, zap.NewNop()).Persist(ctx, sampleResult()))
	require.NotEmpty(t, stored)

	// 重启后从表中读取
	mock.ExpectQuery(`SELECT value`).
		WithArgs(testKey).
		WillReturnRows(sqlmock.NewRows([]string{"value"}).AddRow(stored))

	loaded, err := NewResultCache(kv, testKey, zap.NewNop()).Load(ctx)
	require.NoError(t, err)
	assert.Equal(t, sampleResult(), loaded)

	require.NoError(t, mock.ExpectationsWereMet())
}
