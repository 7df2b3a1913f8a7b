// Package sqlite provides a SQLite-backed credential store for local runs.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	shared "github.com/fitglue/journey/pkg"
	"github.com/fitglue/journey/pkg/storage/sqlite/migrations"
	"github.com/fitglue/journey/pkg/types"
)

// Store persists one TokenRecord per subject in SQLite.
type Store struct {
	sqlDB *sql.DB
	now   func() time.Time
}

func toUnix(value time.Time) int64 {
	if value.IsZero() {
		return 0
	}
	return value.UTC().Unix()
}

func fromUnix(value int64) time.Time {
	if value == 0 {
		return time.Time{}
	}
	return time.Unix(value, 0).UTC()
}

// Open opens a SQLite store and applies embedded migrations.
func Open(path string) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("storage path is required")
	}
	dsn := filepath.Clean(path) + "?_journal_mode=WAL&_foreign_keys=ON&_busy_timeout=5000&_synchronous=NORMAL"
	sqlDB, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := sqlDB.Ping(); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := applyMigrations(sqlDB, migrations.FS); err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	return &Store{sqlDB: sqlDB, now: time.Now}, nil
}

// Close closes the SQLite handle.
func (s *Store) Close() error {
	if s == nil || s.sqlDB == nil {
		return nil
	}
	return s.sqlDB.Close()
}

// applyMigrations executes each embedded .sql file at most once, in name order.
func applyMigrations(sqlDB *sql.DB, migrationFS fs.FS) error {
	if _, err := sqlDB.Exec(`CREATE TABLE IF NOT EXISTS schema_migrations (
    name TEXT PRIMARY KEY,
    applied_at INTEGER NOT NULL
)`); err != nil {
		return fmt.Errorf("ensure migration table: %w", err)
	}

	entries, err := fs.ReadDir(migrationFS, ".")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	var files []string
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		var count int
		if err := sqlDB.QueryRow(`SELECT COUNT(1) FROM schema_migrations WHERE name = ?`, file).Scan(&count); err != nil {
			return fmt.Errorf("check migration %s: %w", file, err)
		}
		if count > 0 {
			continue
		}
		content, err := fs.ReadFile(migrationFS, file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}

		tx, err := sqlDB.BeginTx(context.Background(), nil)
		if err != nil {
			return fmt.Errorf("begin migration %s: %w", file, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("exec migration %s: %w", file, err)
		}
		if _, err := tx.Exec(`INSERT INTO schema_migrations (name, applied_at) VALUES (?, ?)`, file, time.Now().UTC().Unix()); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("record migration %s: %w", file, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit migration %s: %w", file, err)
		}
	}
	return nil
}

func (s *Store) GetToken(ctx context.Context, subjectID string) (*types.TokenRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var (
		rec                             types.TokenRecord
		expiresAt, createdAt, updatedAt int64
		startDate, tokensJSON           string
	)
	err := s.sqlDB.QueryRowContext(ctx,
		`SELECT subject_id, access_token, refresh_token, expires_at, journey_start_date,
		        notification_tokens, created_at, updated_at
		   FROM subjects WHERE subject_id = ?`,
		subjectID,
	).Scan(&rec.SubjectID, &rec.AccessToken, &rec.RefreshToken, &expiresAt, &startDate,
		&tokensJSON, &createdAt, &updatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%s: %w", subjectID, shared.ErrSubjectNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get subject: %w", err)
	}

	rec.ExpiresAt = fromUnix(expiresAt)
	rec.CreatedAt = fromUnix(createdAt)
	rec.UpdatedAt = fromUnix(updatedAt)
	if startDate != "" {
		d, err := types.ParseDate(startDate)
		if err != nil {
			return nil, fmt.Errorf("subject %s: %w", subjectID, err)
		}
		rec.JourneyStartDate = d
	}
	if err := json.Unmarshal([]byte(tokensJSON), &rec.NotificationTokens); err != nil {
		return nil, fmt.Errorf("subject %s: decode notification tokens: %w", subjectID, err)
	}
	return &rec, nil
}

// PutToken inserts or fully replaces a subject record, keeping created_at.
func (s *Store) PutToken(ctx context.Context, record *types.TokenRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if strings.TrimSpace(record.SubjectID) == "" {
		return fmt.Errorf("subject id is required")
	}

	now := s.now().UTC()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	record.UpdatedAt = now

	tokens := record.NotificationTokens
	if tokens == nil {
		tokens = []string{}
	}
	tokensJSON, err := json.Marshal(tokens)
	if err != nil {
		return fmt.Errorf("encode notification tokens: %w", err)
	}

	_, err = s.sqlDB.ExecContext(ctx,
		`INSERT INTO subjects (
		   subject_id, access_token, refresh_token, expires_at, journey_start_date,
		   notification_tokens, created_at, updated_at
		 ) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(subject_id) DO UPDATE SET
		   access_token = excluded.access_token,
		   refresh_token = excluded.refresh_token,
		   expires_at = excluded.expires_at,
		   journey_start_date = excluded.journey_start_date,
		   notification_tokens = excluded.notification_tokens,
		   updated_at = excluded.updated_at`,
		record.SubjectID,
		record.AccessToken,
		record.RefreshToken,
		toUnix(record.ExpiresAt),
		record.JourneyStartDate.String(),
		string(tokensJSON),
		toUnix(record.CreatedAt),
		toUnix(record.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("put subject: %w", err)
	}
	return nil
}

// UpdateCredentials replaces the token triple in a single UPDATE statement.
func (s *Store) UpdateCredentials(ctx context.Context, subjectID string, creds types.Credentials) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	res, err := s.sqlDB.ExecContext(ctx,
		`UPDATE subjects
		    SET access_token = ?, refresh_token = ?, expires_at = ?, updated_at = ?
		  WHERE subject_id = ?`,
		creds.AccessToken,
		creds.RefreshToken,
		toUnix(creds.ExpiresAt),
		toUnix(s.now()),
		subjectID,
	)
	if err != nil {
		return fmt.Errorf("update credentials: %w", err)
	}
	return requireRow(res, subjectID)
}

func (s *Store) ListSubjects(ctx context.Context) ([]string, error) {
	rows, err := s.sqlDB.QueryContext(ctx, `SELECT subject_id FROM subjects ORDER BY subject_id`)
	if err != nil {
		return nil, fmt.Errorf("list subjects: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan subject: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// AddNotificationToken appends a device token unless already present.
func (s *Store) AddNotificationToken(ctx context.Context, subjectID, token string) error {
	tx, err := s.sqlDB.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	var tokensJSON string
	err = tx.QueryRowContext(ctx, `SELECT notification_tokens FROM subjects WHERE subject_id = ?`, subjectID).Scan(&tokensJSON)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", subjectID, shared.ErrSubjectNotFound)
	}
	if err != nil {
		return fmt.Errorf("read notification tokens: %w", err)
	}

	var tokens []string
	if err := json.Unmarshal([]byte(tokensJSON), &tokens); err != nil {
		return fmt.Errorf("decode notification tokens: %w", err)
	}
	for _, t := range tokens {
		if t == token {
			return nil
		}
	}
	encoded, err := json.Marshal(append(tokens, token))
	if err != nil {
		return fmt.Errorf("encode notification tokens: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`UPDATE subjects SET notification_tokens = ?, updated_at = ? WHERE subject_id = ?`,
		string(encoded), toUnix(s.now()), subjectID,
	); err != nil {
		return fmt.Errorf("update notification tokens: %w", err)
	}
	return tx.Commit()
}

func requireRow(res sql.Result, subjectID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %w", subjectID, shared.ErrSubjectNotFound)
	}
	return nil
}
