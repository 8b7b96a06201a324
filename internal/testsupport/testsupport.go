package testsupport

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/karloscodes/cartridge"
	ctestsupport "github.com/karloscodes/cartridge/testsupport"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"leadflow/internal/config"
	"leadflow/internal/database"
	"leadflow/internal/events"
	"leadflow/internal/leads"
	"leadflow/internal/partners"
	"leadflow/internal/settings"
)

// testDBCache caches test databases by root test name so helpers called from
// subtests share the parent's database.
var testDBCache = make(map[string]*gorm.DB)
var testDBCacheMu sync.Mutex

// TestDBManager wraps cartridge's TestDBManager.
type TestDBManager struct {
	*ctestsupport.TestDBManager
}

// NewTestDBManager creates a TestDBManager that implements cartridge.DBManager
func NewTestDBManager(db *gorm.DB) *TestDBManager {
	return &TestDBManager{
		TestDBManager: ctestsupport.NewTestDBManager(db),
	}
}

var _ cartridge.DBManager = (*TestDBManager)(nil)

// SetupTestDB creates a migrated, named in-memory database. The pool is
// limited to one connection so concurrent goroutines in a test serialize on
// it the way immediate transactions serialize on a file database.
func SetupTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	rootName := t.Name()
	if idx := strings.Index(rootName, "/"); idx > 0 {
		rootName = rootName[:idx]
	}

	testDBCacheMu.Lock()
	if db, exists := testDBCache[rootName]; exists {
		testDBCacheMu.Unlock()
		return db
	}
	testDBCacheMu.Unlock()

	sanitizedName := strings.ReplaceAll(rootName, "/", "_")
	dsn := fmt.Sprintf("file:test_%s_%d?mode=memory&cache=shared", sanitizedName, time.Now().UnixNano())

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("testsupport: failed to open test database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("testsupport: failed to get sql.DB: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	db.Exec("PRAGMA foreign_keys = ON")

	if err := db.AutoMigrate(database.Models()...); err != nil {
		t.Fatalf("testsupport: failed to migrate models: %v", err)
	}

	testDBCacheMu.Lock()
	testDBCache[rootName] = db
	testDBCacheMu.Unlock()

	t.Cleanup(func() {
		testDBCacheMu.Lock()
		delete(testDBCache, rootName)
		testDBCacheMu.Unlock()
		sqlDB.Close()
	})

	return db
}

// SetupTestDBManager creates a test DB manager using cartridge's testsupport
func SetupTestDBManager(t *testing.T) (*TestDBManager, *slog.Logger) {
	t.Helper()
	db := SetupTestDB(t)
	return NewTestDBManager(db), GetLogger()
}

// SetupSettings returns a settings store with defaults stored.
func SetupSettings(t *testing.T, db *gorm.DB) *settings.Store {
	t.Helper()
	store := settings.NewStore(db, GetLogger())
	require.NoError(t, store.SetupDefaults())
	return store
}

// CleanTables clears the given tables, or every table when none is given.
func CleanTables(db *gorm.DB, tables ...string) {
	if len(tables) == 0 {
		db.Raw("SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%'").Scan(&tables)
	}

	db.Transaction(func(tx *gorm.DB) error {
		for _, table := range tables {
			tx.Exec("DELETE FROM " + table)
			tx.Exec("DELETE FROM sqlite_sequence WHERE name=?", table)
		}
		return nil
	})
}

// TestConfig loads the default configuration for the test environment.
func TestConfig(t *testing.T) *config.Config {
	t.Helper()
	t.Setenv("LEADFLOW_ENV", config.Test)
	cfg, err := config.Load()
	require.NoError(t, err)
	return cfg
}

// GetLogger returns a test logger
func GetLogger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError})
	return slog.New(handler)
}

// CreateTestPartner inserts an active partner with the given code.
func CreateTestPartner(t *testing.T, db *gorm.DB, name, code string) *partners.Partner {
	t.Helper()
	p := &partners.Partner{
		Name:        name,
		ContactType: partners.ContactTypeAffiliate,
		Email:       strings.ToLower(strings.ReplaceAll(name, " ", ".")) + "@example.com",
		Code:        code,
		Active:      true,
	}
	require.NoError(t, db.Create(p).Error)
	return p
}

// LeadOption adjusts a lead built by CreateTestLead.
type LeadOption func(*leads.Lead)

// WithRefCode attributes the lead to code with the affiliate source.
func WithRefCode(code string) LeadOption {
	return func(l *leads.Lead) {
		source := string(partners.ContactTypeAffiliate)
		l.RefSource = &source
		l.RefCode = &code
	}
}

// WithTour marks the lead's tour as scheduled.
func WithTour() LeadOption {
	return func(l *leads.Lead) { l.TourScheduled = true }
}

// WithBooking marks the lead as booked for amount.
func WithBooking(amount string) LeadOption {
	return func(l *leads.Lead) {
		d := decimal.RequireFromString(amount)
		l.Booked = true
		l.BookingAmount = &d
	}
}

// WithCreatedAt sets the lead's creation time.
func WithCreatedAt(ts time.Time) LeadOption {
	return func(l *leads.Lead) {
		l.CreatedAt = ts.UTC()
		l.UpdatedAt = ts.UTC()
	}
}

// CreateTestLead inserts a lead directly, bypassing attribution.
func CreateTestLead(t *testing.T, db *gorm.DB, email string, opts ...LeadOption) *leads.Lead {
	t.Helper()
	now := time.Now().UTC().Truncate(time.Millisecond)
	l := &leads.Lead{
		SubmissionKey: fmt.Sprintf("%s-%d", email, time.Now().UnixNano()),
		FirstName:     "Test",
		Email:         email,
		Status:        leads.StatusNew,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	for _, opt := range opts {
		opt(l)
	}
	require.NoError(t, db.Create(l).Error)
	return l
}

// CreateTestEvent inserts an event directly.
func CreateTestEvent(t *testing.T, db *gorm.DB, typ events.EventType, page, ip string, ts time.Time) *events.Event {
	t.Helper()
	e := &events.Event{
		Type:      typ,
		Page:      page,
		IPAddress: ip,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 Chrome/120.0 Safari/537.36",
		Timestamp: ts.UTC().Truncate(time.Millisecond),
		CreatedAt: time.Now().UTC(),
	}
	require.NoError(t, db.Create(e).Error)
	return e
}

// CreateTestEventWith inserts e as given, with its timestamp normalized.
func CreateTestEventWith(t *testing.T, db *gorm.DB, e events.Event) *events.Event {
	t.Helper()
	e.Timestamp = e.Timestamp.UTC().Truncate(time.Millisecond)
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	require.NoError(t, db.Create(&e).Error)
	return &e
}
