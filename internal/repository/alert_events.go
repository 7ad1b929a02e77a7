package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Akshita1414/Taarini/internal/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// AlertEventRepository 报警事件仓库
type AlertEventRepository struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewAlertEventRepository 创建报警事件仓库
func NewAlertEventRepository(db *sql.DB, logger *zap.Logger) *AlertEventRepository {
	return &AlertEventRepository{
		db:     db,
		logger: logger,
	}
}

// EnsureSchema 创建 alert_events 表
func (r *AlertEventRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS alert_events (
			event_id       UUID PRIMARY KEY,
			alert_level    TEXT NOT NULL,
			previous_level TEXT NOT NULL,
			message        TEXT NOT NULL,
			detection      TEXT NOT NULL,
			latitude       DOUBLE PRECISION,
			longitude      DOUBLE PRECISION,
			nearest_cm     DOUBLE PRECISION,
			revision       BIGINT NOT NULL,
			trigger_data   JSONB NOT NULL,
			triggered_at   TIMESTAMPTZ NOT NULL,
			created_at     TIMESTAMPTZ NOT NULL DEFAULT now()
		)`)
	if err != nil {
		return fmt.Errorf("failed to create alert_events table: %w", err)
	}
	return nil
}

// CreateAlertEvent 创建报警事件；EventID 为空时自动生成
func (r *AlertEventRepository) CreateAlertEvent(ctx context.Context, event *models.AlertEvent) error {
	if event == nil {
		return fmt.Errorf("event is required")
	}
	if !event.AlertLevel.Valid() {
		return fmt.Errorf("invalid alert_level: %q", event.AlertLevel)
	}
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	if event.TriggerData == "" {
		event.TriggerData = "{}"
	}
	if event.CreatedAt.IsZero() {
		event.CreatedAt = time.Now()
	}

	query := `
		INSERT INTO alert_events (
			event_id,
			alert_level,
			previous_level,
			message,
			detection,
			latitude,
			longitude,
			nearest_cm,
			revision,
			trigger_data,
			triggered_at,
			created_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12
		)
	`

	_, err := r.db.ExecContext(ctx,
		query,
		event.EventID,
		string(event.AlertLevel),
		string(event.PreviousLevel),
		event.Message,
		event.Detection.String(),
		event.Latitude,
		event.Longitude,
		event.NearestCM,
		int64(event.Revision),
		event.TriggerData,
		event.TriggeredAt,
		event.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert event: %w", err)
	}
	return nil
}

// ListRecentAlertEvents 按触发时间倒序获取最近的报警事件；level 为空表示不过滤
func (r *AlertEventRepository) ListRecentAlertEvents(ctx context.Context, level models.AlertLevel, limit int) ([]*models.AlertEvent, error) {
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	query := `
		SELECT
			event_id,
			alert_level,
			previous_level,
			message,
			detection,
			latitude,
			longitude,
			nearest_cm,
			revision,
			trigger_data,
			triggered_at,
			created_at
		FROM alert_events
		WHERE ($1 = '' OR alert_level = $1)
		ORDER BY triggered_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, string(level), limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert events: %w", err)
	}
	defer rows.Close()

	var events []*models.AlertEvent
	for rows.Next() {
		var event models.AlertEvent
		var alertLevel, previousLevel, detection string
		var latitude, longitude, nearest sql.NullFloat64
		var revision int64

		if err := rows.Scan(
			&event.EventID,
			&alertLevel,
			&previousLevel,
			&event.Message,
			&detection,
			&latitude,
			&longitude,
			&nearest,
			&revision,
			&event.TriggerData,
			&event.TriggeredAt,
			&event.CreatedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan alert event: %w", err)
		}

		event.AlertLevel = models.AlertLevel(alertLevel)
		event.PreviousLevel = models.AlertLevel(previousLevel)
		event.Revision = uint64(revision)
		event.Latitude = nullFloat(latitude)
		event.Longitude = nullFloat(longitude)
		event.NearestCM = nullFloat(nearest)

		flag, err := models.DetectionFlagFromString(detection)
		if err != nil {
			r.logger.Warn("Unknown detection value in alert event",
				zap.String("event_id", event.EventID),
				zap.String("detection", detection),
			)
		}
		event.Detection = flag

		events = append(events, &event)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate alert events: %w", err)
	}

	return events, nil
}

func nullFloat(v sql.NullFloat64) *float64 {
	if !v.Valid {
		return nil
	}
	f := v.Float64
	return &f
}
