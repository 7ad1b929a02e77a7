package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"github.com/cockroachdb/pebble"
)

// expiryHeaderLen 值前缀：8 字节过期时间（UnixNano，0 表示不过期）
const expiryHeaderLen = 8

// PebbleKV 本地磁盘持久化存储（结果缓存默认后端）
type PebbleKV struct {
	db  *pebble.DB
	now func() time.Time
}

// OpenPebbleKV 打开（不存在则创建）dir 下的数据库
func OpenPebbleKV(dir string) (*PebbleKV, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble at %s: %w", dir, err)
	}
	return &PebbleKV{db: db, now: time.Now}, nil
}

func (p *PebbleKV) Get(_ context.Context, key string) (string, error) {
	raw, closer, err := p.db.Get([]byte(key))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return "", ErrMiss
		}
		return "", err
	}
	defer closer.Close()

	if len(raw) < expiryHeaderLen {
		return "", fmt.Errorf("corrupt value for key %s", key)
	}
	if exp := int64(binary.BigEndian.Uint64(raw[:expiryHeaderLen])); exp != 0 && p.now().UnixNano() >= exp {
		return "", ErrMiss
	}
	// raw 在 closer.Close 后失效，需复制
	return string(raw[expiryHeaderLen:]), nil
}

func (p *PebbleKV) Set(_ context.Context, key string, value string, ttl time.Duration) error {
	buf := make([]byte, expiryHeaderLen+len(value))
	if ttl > 0 {
		binary.BigEndian.PutUint64(buf[:expiryHeaderLen], uint64(p.now().Add(ttl).UnixNano()))
	}
	copy(buf[expiryHeaderLen:], value)
	return p.db.Set([]byte(key), buf, pebble.Sync)
}

func (p *PebbleKV) Delete(_ context.Context, key string) error {
	return p.db.Delete([]byte(key), pebble.Sync)
}

// Close 关闭数据库
func (p *PebbleKV) Close() error {
	return p.db.Close()
}
