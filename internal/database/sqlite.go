package database

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"

	"github.com/bigdegenenergy/open-cloud-ops/optimizer/pkg/models"
)

//go:embed schema_sqlite.sql
var sqliteSchema string

// sqliteTimeLayout has a fixed-width fraction so stored timestamps sort
// lexicographically in time order.
const sqliteTimeLayout = "2006-01-02 15:04:05.000000000"

// SQLiteStore keeps cost tracking records in a SQLite database.
type SQLiteStore struct {
	db   *sql.DB
	path string
}

// NewSQLiteStore opens (or creates) the database at path. ":memory:" gives a
// private in-memory database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Every connection to ":memory:" is a separate database.
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	} else {
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Enable WAL mode for better concurrency
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
		}
		if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set busy timeout: %w", err)
		}
	}

	if _, err := db.Exec(sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}

	log.WithFields(log.Fields{"component": "database", "path": path}).Info("SQLite storage initialized")
	return &SQLiteStore{db: db, path: path}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Ping checks connectivity.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Insert stores a cost tracking record.
func (s *SQLiteStore) Insert(ctx context.Context, rec *models.CostTrackingRecord) error {
	metadata := rec.Metadata
	if metadata == nil {
		metadata = map[string]any{}
	}
	meta, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("failed to encode metadata: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO cost_tracking (`+recordColumns+`
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, rec.ID, rec.OrganizationID, rec.UserID, rec.RequestID, rec.PromptExcerpt,
		rec.PromptTokens, rec.CompletionTokens, rec.ModelUsed, string(rec.Provider), string(rec.Tier),
		rec.ComplexityScore, rec.CostUSD, rec.LatencyMs, rec.Cached, rec.SavingsUSD,
		string(meta), formatSQLiteTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// ListRecords returns an organization's records created in [from, to],
// oldest first.
func (s *SQLiteStore) ListRecords(ctx context.Context, orgID string, from, to time.Time) ([]models.CostTrackingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM cost_tracking
		WHERE organization_id = ? AND created_at >= ? AND created_at <= ?
		ORDER BY created_at ASC
	`, orgID, formatSQLiteTime(from), formatSQLiteTime(to))
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	return scanSQLiteRecords(rows)
}

// RecentRecords returns an organization's newest records, newest first.
func (s *SQLiteStore) RecentRecords(ctx context.Context, orgID string, limit int) ([]models.CostTrackingRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+recordColumns+`
		FROM cost_tracking
		WHERE organization_id = ?
		ORDER BY created_at DESC LIMIT ?
	`, orgID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent records: %w", err)
	}
	return scanSQLiteRecords(rows)
}

func scanSQLiteRecords(rows *sql.Rows) ([]models.CostTrackingRecord, error) {
	defer rows.Close()

	results := []models.CostTrackingRecord{}
	for rows.Next() {
		var (
			r                        models.CostTrackingRecord
			userID                   sql.NullString
			provider, tier, meta, ts string
		)
		if err := rows.Scan(
			&r.ID, &r.OrganizationID, &userID, &r.RequestID, &r.PromptExcerpt,
			&r.PromptTokens, &r.CompletionTokens, &r.ModelUsed, &provider, &tier,
			&r.ComplexityScore, &r.CostUSD, &r.LatencyMs, &r.Cached, &r.SavingsUSD,
			&meta, &ts,
		); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		if userID.Valid {
			u := userID.String
			r.UserID = &u
		}
		r.Provider, r.Tier = models.Provider(provider), models.Tier(tier)
		if err := json.Unmarshal([]byte(meta), &r.Metadata); err != nil {
			return nil, fmt.Errorf("failed to decode metadata of %s: %w", r.RequestID, err)
		}
		created, err := time.ParseInLocation(sqliteTimeLayout, ts, time.UTC)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at of %s: %w", r.RequestID, err)
		}
		r.CreatedAt = created
		results = append(results, r)
	}
	return results, rows.Err()
}

func formatSQLiteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}
