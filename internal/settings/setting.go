package settings

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/karloscodes/cartridge/cache"
	"github.com/karloscodes/cartridge/sqlite"
	"gorm.io/gorm"

	"leadflow/internal/apperr"
)

// Setting represents a configuration item in the database. Value holds the
// JSON encoding of the value; Kind is the tag it was validated under.
type Setting struct {
	ID        uint      `gorm:"primaryKey"`
	Key       string    `gorm:"uniqueIndex;not null"`
	Kind      Kind      `gorm:"not null"`
	Value     string    `gorm:"not null"`
	CreatedAt time.Time `gorm:"not null;autoCreateTime:milli"`
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime:milli"`
}

// Known keys
const (
	KeyExcludedIPs           = "excluded_ips"
	KeyTrackingEnabled       = "tracking_enabled"
	KeyRecentActivityLimit   = "recent_activity_limit"
	KeyTopReferrersLimit     = "top_referrers_limit"
	KeyLeadNotificationEmail = "lead_notification_email"
	KeyFunnelLabels          = "funnel_labels"
)

func ptr(f float64) *float64 { return &f }

// Definition declares a key, its kind, its validation rule and default.
type Definition struct {
	Key         string
	Kind        Kind
	Rule        Rule
	Default     string // JSON
	Description string
}

func builtinDefinitions() []Definition {
	return []Definition{
		{
			Key:         KeyExcludedIPs,
			Kind:        KindArray,
			Rule:        Rule{Max: ptr(500), Pattern: `^[0-9a-fA-F:.]+$`},
			Default:     `[]`,
			Description: "IP addresses whose interactions are not recorded",
		},
		{
			Key:         KeyTrackingEnabled,
			Kind:        KindBoolean,
			Default:     `true`,
			Description: "Master switch for interaction tracking",
		},
		{
			Key:         KeyRecentActivityLimit,
			Kind:        KindNumber,
			Rule:        Rule{Min: ptr(1), Max: ptr(100), Integer: true},
			Default:     `20`,
			Description: "Rows in the dashboard recent activity feed",
		},
		{
			Key:         KeyTopReferrersLimit,
			Kind:        KindNumber,
			Rule:        Rule{Min: ptr(1), Max: ptr(50), Integer: true},
			Default:     `10`,
			Description: "Referrers kept per day in rollups",
		},
		{
			Key:         KeyLeadNotificationEmail,
			Kind:        KindString,
			Rule:        Rule{Max: ptr(254), Pattern: `^$|^[^@\s]+@[^@\s]+\.[^@\s]+$`},
			Default:     `""`,
			Description: "Address notified about new leads",
		},
		{
			Key:         KeyFunnelLabels,
			Kind:        KindObject,
			Rule:        Rule{Options: []string{"new", "tour_scheduled", "booked"}},
			Default:     `{"booked":"Booked","new":"New inquiry","tour_scheduled":"Tour scheduled"}`,
			Description: "Display names of the funnel stages",
		},
	}
}

// Store reads and writes settings, validating every write against the
// key's definition and caching decoded values.
type Store struct {
	db     *gorm.DB
	logger *slog.Logger

	mu    sync.RWMutex
	defs  map[string]Definition
	cache *cache.Cache[string, Value]
}

// NewStore creates a settings store with the built-in definitions.
func NewStore(db *gorm.DB, logger *slog.Logger) *Store {
	s := &Store{
		db:     db,
		logger: logger,
		defs:   make(map[string]Definition),
	}
	for _, def := range builtinDefinitions() {
		s.defs[def.Key] = def
	}
	s.cache = cache.NewCache[string, Value](logger, 5*time.Minute, s.fetch)
	return s
}

// Define registers an additional key. The default must satisfy the rule.
func (s *Store) Define(def Definition) error {
	if _, err := decodeAndValidate(def, def.Default); err != nil {
		return fmt.Errorf("default for %s: %w", def.Key, err)
	}
	s.mu.Lock()
	s.defs[def.Key] = def
	s.mu.Unlock()
	return nil
}

func (s *Store) definition(key string) (Definition, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	def, ok := s.defs[key]
	if !ok {
		return Definition{}, apperr.NewNotFoundError("setting", key)
	}
	return def, nil
}

// SetupDefaults inserts every defined key that is not stored yet.
func (s *Store) SetupDefaults() error {
	s.mu.RLock()
	defs := make([]Definition, 0, len(s.defs))
	for _, def := range s.defs {
		defs = append(defs, def)
	}
	s.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })

	err := sqlite.PerformWrite(s.logger, s.db, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		for _, def := range defs {
			err := tx.Exec(`
                INSERT INTO settings (key, kind, value, created_at, updated_at)
                VALUES (?, ?, ?, ?, ?)
                ON CONFLICT(key) DO NOTHING
            `, def.Key, def.Kind, def.Default, now, now).Error
			if err != nil {
				s.logger.Error("Failed to upsert setting", slog.String("key", def.Key), slog.Any("error", err))
				return fmt.Errorf("failed to upsert setting %s: %w", def.Key, err)
			}
		}
		return nil
	})
	s.cache.Clear()
	return err
}

// fetch loads and decodes a key; missing rows resolve to the default.
func (s *Store) fetch(key string) (Value, error) {
	def, err := s.definition(key)
	if err != nil {
		return Value{}, err
	}

	var raw string
	result := s.db.WithContext(context.Background()).
		Raw("SELECT value FROM settings WHERE key = ? LIMIT 1", key).Scan(&raw)
	if result.Error != nil {
		return Value{}, result.Error
	}
	if result.RowsAffected == 0 {
		raw = def.Default
	}

	v, err := decodeAndValidate(def, raw)
	if err != nil {
		// a stored value that no longer satisfies its rule falls back to the default
		s.logger.Warn("Stored setting invalid, using default",
			slog.String("key", key), slog.Any("error", err))
		return decodeAndValidate(def, def.Default)
	}
	return v, nil
}

// Get returns the decoded value of key.
func (s *Store) Get(key string) (Value, error) {
	return s.cache.Get(key)
}

// Set validates raw (JSON) against the key's definition and stores it.
func (s *Store) Set(key string, raw string) (Value, error) {
	def, err := s.definition(key)
	if err != nil {
		return Value{}, err
	}
	v, err := decodeAndValidate(def, raw)
	if err != nil {
		return Value{}, err
	}
	encoded, err := v.JSON()
	if err != nil {
		return Value{}, err
	}

	err = sqlite.PerformWrite(s.logger, s.db, func(tx *gorm.DB) error {
		now := time.Now().UTC()
		return tx.Exec(`
            INSERT INTO settings (key, kind, value, created_at, updated_at)
            VALUES (?, ?, ?, ?, ?)
            ON CONFLICT(key) DO UPDATE SET
                kind = excluded.kind,
                value = excluded.value,
                updated_at = excluded.updated_at
        `, key, def.Kind, encoded, now, now).Error
	})
	if err != nil {
		return Value{}, fmt.Errorf("failed to update setting %s: %w", key, err)
	}

	s.cache.Clear()
	return v, nil
}

// Entry is a setting as shown to administrators.
type Entry struct {
	Key         string `json:"key"`
	Kind        Kind   `json:"kind"`
	Value       Value  `json:"value"`
	Description string `json:"description"`
}

// List returns every defined key with its current value.
func (s *Store) List() ([]Entry, error) {
	s.mu.RLock()
	defs := make([]Definition, 0, len(s.defs))
	for _, def := range s.defs {
		defs = append(defs, def)
	}
	s.mu.RUnlock()
	sort.Slice(defs, func(i, j int) bool { return defs[i].Key < defs[j].Key })

	entries := make([]Entry, 0, len(defs))
	for _, def := range defs {
		v, err := s.Get(def.Key)
		if err != nil {
			return nil, err
		}
		entries = append(entries, Entry{Key: def.Key, Kind: def.Kind, Value: v, Description: def.Description})
	}
	return entries, nil
}

// IsIPExcluded reports whether ip is in the excluded_ips list.
func (s *Store) IsIPExcluded(ip string) (bool, error) {
	if ip == "" {
		return false, nil
	}
	v, err := s.Get(KeyExcludedIPs)
	if err != nil {
		return false, fmt.Errorf("failed to check excluded IPs: %w", err)
	}
	for _, excluded := range v.Strings() {
		if excluded == ip {
			return true, nil
		}
	}
	return false, nil
}

// TrackingEnabled reports the tracking master switch; errors leave tracking on.
func (s *Store) TrackingEnabled() bool {
	v, err := s.Get(KeyTrackingEnabled)
	if err != nil {
		return true
	}
	return v.Bool
}

// IntOr returns a numeric setting as int, or fallback when unavailable.
func (s *Store) IntOr(key string, fallback int) int {
	v, err := s.Get(key)
	if err != nil || v.Kind != KindNumber {
		return fallback
	}
	return int(v.Number)
}

// StringMap returns an object setting with string values.
func (s *Store) StringMap(key string) map[string]string {
	out := map[string]string{}
	v, err := s.Get(key)
	if err != nil || v.Kind != KindObject {
		return out
	}
	for k, raw := range v.Object {
		if str, ok := raw.(string); ok {
			out[k] = str
		}
	}
	return out
}

func decodeAndValidate(def Definition, raw string) (Value, error) {
	h, ok := handlers[def.Kind]
	if !ok {
		return Value{}, apperr.NewValidationError(def.Key, fmt.Sprintf("unknown kind %q", def.Kind))
	}
	v, err := h.decode(json.RawMessage(raw))
	if err != nil {
		return Value{}, apperr.NewValidationError(def.Key, fmt.Sprintf("expected %s value", def.Kind))
	}
	if err := h.validate(v, def.Rule); err != nil {
		return Value{}, apperr.NewValidationError(def.Key, err.Error())
	}
	return v, nil
}
