package events

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/karloscodes/cartridge"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"leadflow/internal/metrics"
	"leadflow/internal/validation"
)

// Settings is the slice of the settings store the event log consults.
type Settings interface {
	IsIPExcluded(ip string) (bool, error)
	TrackingEnabled() bool
}

// TrackInput defines one interaction to record.
type TrackInput struct {
	Type      EventType      `json:"type" validate:"required,oneof=page_view contact_form gallery_view review_submission admin_login"`
	Page      string         `json:"page" validate:"max=2048"`
	SessionID string         `json:"sessionId" validate:"max=128"`
	IPAddress string         `json:"ipAddress" validate:"omitempty,ip"`
	UserAgent string         `json:"userAgent" validate:"max=1024"`
	Referrer  string         `json:"referrer" validate:"max=2048"`
	Metadata  map[string]any `json:"metadata"`
	Timestamp time.Time      `json:"timestamp"`
}

// Log appends events to the store.
type Log struct {
	dbManager cartridge.DBManager
	logger    *slog.Logger
	settings  Settings
	now       func() time.Time
}

func NewLog(dbManager cartridge.DBManager, logger *slog.Logger, settings Settings) *Log {
	return &Log{
		dbManager: dbManager,
		logger:    logger,
		settings:  settings,
		now:       time.Now,
	}
}

// Record validates and appends one event. Events from excluded IPs are
// skipped without error.
func (l *Log) Record(ctx context.Context, input TrackInput) error {
	if err := validation.Struct(input); err != nil {
		return err
	}

	if l.settings != nil {
		excluded, err := l.settings.IsIPExcluded(input.IPAddress)
		if err != nil {
			l.logger.Error("Error checking IP exclusion", slog.Any("error", err))
		} else if excluded {
			l.logger.Debug("Skipping event for excluded IP", slog.String("ip", input.IPAddress))
			metrics.EventsTracked.WithLabelValues(string(input.Type), "excluded").Inc()
			return nil
		}
	}

	event, err := l.prepare(input)
	if err != nil {
		return err
	}

	err = sqlite.PerformWrite(l.logger, l.dbManager.GetConnection().WithContext(ctx), func(tx *gorm.DB) error {
		return tx.Create(event).Error
	})
	if err != nil {
		return fmt.Errorf("failed to store %s event: %w", input.Type, err)
	}

	metrics.EventsTracked.WithLabelValues(string(input.Type), "stored").Inc()
	return nil
}

func (l *Log) prepare(input TrackInput) (*Event, error) {
	ts := input.Timestamp
	if ts.IsZero() {
		ts = l.now()
	}
	ts = ts.UTC().Truncate(time.Millisecond)

	var meta datatypes.JSON
	if len(input.Metadata) > 0 {
		raw, err := json.Marshal(input.Metadata)
		if err != nil {
			return nil, fmt.Errorf("failed to encode event metadata: %w", err)
		}
		meta = datatypes.JSON(raw)
	}

	return &Event{
		Type:      input.Type,
		Page:      strings.TrimSpace(input.Page),
		IPAddress: strings.TrimSpace(input.IPAddress),
		UserAgent: input.UserAgent,
		SessionID: input.SessionID,
		Referrer:  strings.TrimSpace(input.Referrer),
		Metadata:  meta,
		Timestamp: ts,
		CreatedAt: l.now().UTC().Truncate(time.Millisecond),
	}, nil
}
