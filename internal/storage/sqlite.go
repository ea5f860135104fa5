// Package storage is the SQLite persistence layer: distributor credentials,
// escalation records, the durable job queue, and the lookup audit log.
package storage

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/glasspoint/nags/internal/distributor"
	"github.com/glasspoint/nags/internal/escalation"
	"github.com/glasspoint/nags/internal/glass"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// Store wraps a SQLite database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) a SQLite database in dataDir and runs pending
// migrations. Pass ":memory:" as dataDir for an in-memory database (tests).
func Open(dataDir string) (*Store, error) {
	var dsn string
	if dataDir == ":memory:" {
		dsn = ":memory:"
	} else {
		if err := os.MkdirAll(dataDir, 0o755); err != nil {
			return nil, fmt.Errorf("creating data directory: %w", err)
		}
		dsn = filepath.Join(dataDir, "nags.db")
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	// Limit to single connection to avoid "database is locked" errors.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting busy timeout: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting journal mode: %w", err)
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}
	return s, nil
}

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// migrate applies any embedded SQL migration files not yet recorded in
// schema_version, in ascending filename order.
func (s *Store) migrate() error {
	if _, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at DATETIME DEFAULT CURRENT_TIMESTAMP
	)`); err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("reading migrations directory: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].Name() < entries[j].Name()
	})

	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".sql") {
			continue
		}

		var version int
		if _, err := fmt.Sscanf(entry.Name(), "%d_", &version); err != nil {
			return fmt.Errorf("parsing migration version from %q: %w", entry.Name(), err)
		}

		var applied int
		if err := s.db.QueryRow("SELECT COUNT(*) FROM schema_version WHERE version = ?", version).Scan(&applied); err != nil {
			return fmt.Errorf("checking migration %d: %w", version, err)
		}
		if applied > 0 {
			continue
		}

		content, err := migrationsFS.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("reading migration %s: %w", entry.Name(), err)
		}

		tx, err := s.db.Begin()
		if err != nil {
			return fmt.Errorf("beginning transaction for migration %d: %w", version, err)
		}
		if _, err := tx.Exec(string(content)); err != nil {
			tx.Rollback()
			return fmt.Errorf("applying migration %d: %w", version, err)
		}
		if _, err := tx.Exec("INSERT INTO schema_version (version) VALUES (?)", version); err != nil {
			tx.Rollback()
			return fmt.Errorf("recording migration %d: %w", version, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("committing migration %d: %w", version, err)
		}
	}
	return nil
}

// AppliedMigrations returns the applied migration versions in ascending order.
func (s *Store) AppliedMigrations() ([]int, error) {
	rows, err := s.db.Query("SELECT version FROM schema_version ORDER BY version ASC")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var versions []int
	for rows.Next() {
		var v int
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		versions = append(versions, v)
	}
	return versions, rows.Err()
}

// --- Distributor credentials ---

// UpsertCredential inserts or replaces one credential row.
func (s *Store) UpsertCredential(cred distributor.Credential) error {
	_, err := s.db.Exec(`
		INSERT INTO distributor_credentials (distributor, login_url, username, encrypted_password, is_active, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(distributor) DO UPDATE SET
			login_url = excluded.login_url,
			username = excluded.username,
			encrypted_password = excluded.encrypted_password,
			is_active = excluded.is_active,
			updated_at = excluded.updated_at`,
		cred.Distributor, cred.LoginURL, cred.Username, cred.EncryptedPassword,
		boolInt(cred.Active), time.Now().UTC().Format(time.RFC3339),
	)
	return err
}

// SetCredentialActive flips the is_active flag for one distributor. The
// change takes effect on the next lookup; the tier never caches membership.
func (s *Store) SetCredentialActive(distributorName string, active bool) error {
	res, err := s.db.Exec(`UPDATE distributor_credentials SET is_active = ?, updated_at = ? WHERE distributor = ?`,
		boolInt(active), time.Now().UTC().Format(time.RFC3339), distributorName)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ActiveCredentials returns only the credentials with is_active set. It
// satisfies the distributor tier's CredentialSource.
func (s *Store) ActiveCredentials(ctx context.Context) ([]distributor.Credential, error) {
	return s.queryCredentials(ctx, `SELECT distributor, login_url, username, encrypted_password, is_active
		FROM distributor_credentials WHERE is_active = 1 ORDER BY distributor`)
}

// ListCredentials returns every credential row, active or not.
func (s *Store) ListCredentials(ctx context.Context) ([]distributor.Credential, error) {
	return s.queryCredentials(ctx, `SELECT distributor, login_url, username, encrypted_password, is_active
		FROM distributor_credentials ORDER BY distributor`)
}

func (s *Store) queryCredentials(ctx context.Context, query string) ([]distributor.Credential, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var creds []distributor.Credential
	for rows.Next() {
		var c distributor.Credential
		var active int
		if err := rows.Scan(&c.Distributor, &c.LoginURL, &c.Username, &c.EncryptedPassword, &active); err != nil {
			return nil, err
		}
		c.Active = active != 0
		creds = append(creds, c)
	}
	return creds, rows.Err()
}

// --- Escalations ---

// SaveEscalation appends one escalation record. Records are never updated by
// the pipeline after creation; the research workflow owns them from here.
func (s *Store) SaveEscalation(rec escalation.Record) error {
	status := rec.Status
	if status == "" {
		status = escalation.StatusPending
	}
	_, err := s.db.Exec(`
		INSERT INTO escalations (id, vin, glass_position, year, make, model, transaction_id, customer_name, customer_phone, urgency, attempt_log, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.VIN, string(rec.Position), rec.Year, rec.Make, rec.Model,
		rec.TransactionID, rec.CustomerName, rec.CustomerPhone,
		string(rec.Urgency), rec.AttemptLog, status,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetEscalation loads one escalation record by id.
func (s *Store) GetEscalation(id string) (escalation.Record, error) {
	row := s.db.QueryRow(`
		SELECT id, vin, glass_position, year, make, model, transaction_id, customer_name, customer_phone, urgency, attempt_log, status, created_at
		FROM escalations WHERE id = ?`, id)
	rec, err := scanEscalation(row)
	if err == sql.ErrNoRows {
		return escalation.Record{}, ErrNotFound
	}
	return rec, err
}

// ListEscalations returns records filtered by status (empty for all), newest
// first.
func (s *Store) ListEscalations(status string, limit int) ([]escalation.Record, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `SELECT id, vin, glass_position, year, make, model, transaction_id, customer_name, customer_phone, urgency, attempt_log, status, created_at
		FROM escalations`
	args := []any{}
	if status != "" {
		query += ` WHERE status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY created_at DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []escalation.Record
	for rows.Next() {
		rec, err := scanEscalation(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEscalation(row rowScanner) (escalation.Record, error) {
	var rec escalation.Record
	var position, urgency, createdAt string
	err := row.Scan(&rec.ID, &rec.VIN, &position, &rec.Year, &rec.Make, &rec.Model,
		&rec.TransactionID, &rec.CustomerName, &rec.CustomerPhone,
		&urgency, &rec.AttemptLog, &rec.Status, &createdAt)
	if err != nil {
		return escalation.Record{}, err
	}
	rec.Position = glass.Position(position)
	rec.Urgency = escalation.Urgency(urgency)
	if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return escalation.Record{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return rec, nil
}

// --- Jobs ---

// EnqueueJob adds a pending job. MaxAttempts defaults to 3, RunAfter to now.
func (s *Store) EnqueueJob(job Job) error {
	now := time.Now().UTC().Format(time.RFC3339)
	runAfter := now
	if !job.RunAfter.IsZero() {
		runAfter = job.RunAfter.UTC().Format(time.RFC3339)
	}
	maxAttempts := job.MaxAttempts
	if maxAttempts == 0 {
		maxAttempts = 3
	}
	_, err := s.db.Exec(`
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, 'pending', 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, maxAttempts, runAfter, now, now,
	)
	return err
}

// ClaimNextJob atomically claims the oldest due pending job of any of the
// given types, moving it to running. Returns nil when the queue is empty.
func (s *Store) ClaimNextJob(types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}

	now := time.Now().UTC().Format(time.RFC3339)
	placeholders := strings.Repeat(",?", len(types)-1)
	query := `SELECT id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error
		FROM jobs
		WHERE status = 'pending' AND run_after <= ? AND type IN (?` + placeholders + `)
		ORDER BY run_after ASC, created_at ASC
		LIMIT 1`

	args := make([]any, 0, len(types)+1)
	args = append(args, now)
	for _, t := range types {
		args = append(args, t)
	}

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}

	var j Job
	var runAfter, createdAt, updatedAt string
	var lastError sql.NullString
	err = tx.QueryRow(query, args...).Scan(
		&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &createdAt, &updatedAt, &lastError,
	)
	if err == sql.ErrNoRows {
		tx.Rollback()
		return nil, nil
	}
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("selecting next job: %w", err)
	}

	res, err := tx.Exec(`UPDATE jobs SET status = 'running', updated_at = ? WHERE id = ? AND status = 'pending'`, now, j.ID)
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("updating job status: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("checking updated job rows: %w", err)
	}
	if n != 1 {
		tx.Rollback()
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	j.Status = "running"
	j.LastError = lastError.String
	if j.RunAfter, err = time.Parse(time.RFC3339, runAfter); err != nil {
		return nil, fmt.Errorf("parsing run_after for job %s: %w", j.ID, err)
	}
	if j.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at for job %s: %w", j.ID, err)
	}
	j.UpdatedAt = j.CreatedAt
	if t, err := time.Parse(time.RFC3339, now); err == nil {
		j.UpdatedAt = t
	}
	return &j, nil
}

// CompleteJob marks a running job completed.
func (s *Store) CompleteJob(id string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE jobs SET status = 'completed', updated_at = ? WHERE id = ?`, now, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// FailJob records a failed attempt. The job is rescheduled with exponential
// backoff while attempts remain, then parked as failed.
func (s *Store) FailJob(id string, errMsg string) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning fail transaction: %w", err)
	}
	defer tx.Rollback()

	var attempts, maxAttempts int
	err = tx.QueryRow(`SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	attempts++

	if attempts >= maxAttempts {
		_, err = tx.Exec(`UPDATE jobs SET status = 'failed', attempts = ?, last_error = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, now.Format(time.RFC3339), id)
	} else {
		backoff := time.Duration(math.Pow(2, float64(attempts))) * time.Second
		runAfter := now.Add(backoff)
		_, err = tx.Exec(`UPDATE jobs SET status = 'pending', attempts = ?, last_error = ?, run_after = ?, updated_at = ? WHERE id = ?`,
			attempts, errMsg, runAfter.Format(time.RFC3339), now.Format(time.RFC3339), id)
	}
	if err != nil {
		return err
	}
	return tx.Commit()
}

// --- Lookup audit log ---

// SaveLookup appends one lookup audit row.
func (s *Store) SaveLookup(rec LookupRecord) error {
	_, err := s.db.Exec(`
		INSERT INTO lookups (id, vin, success, requested, resolved, escalated, cached, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.VIN, boolInt(rec.Success), rec.Requested, rec.Resolved,
		rec.Escalated, boolInt(rec.Cached), rec.DurationMs,
		rec.CreatedAt.UTC().Format(time.RFC3339),
	)
	return err
}

// GetRecentLookups returns the newest audit rows, most recent first.
func (s *Store) GetRecentLookups(limit int) ([]LookupRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, vin, success, requested, resolved, escalated, cached, duration_ms, created_at
		FROM lookups ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []LookupRecord
	for rows.Next() {
		var rec LookupRecord
		var success, cached int
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.VIN, &success, &rec.Requested, &rec.Resolved,
			&rec.Escalated, &cached, &rec.DurationMs, &createdAt); err != nil {
			return nil, err
		}
		rec.Success = success != 0
		rec.Cached = cached != 0
		if rec.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
			return nil, fmt.Errorf("parsing created_at: %w", err)
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
