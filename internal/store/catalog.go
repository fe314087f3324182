package store

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3" // SQLite3 driver

	"image-analyzer/internal/logging"
	"image-analyzer/internal/record"
)

// Default timeout for catalog operations
const defaultTimeout = 5 * time.Second

// Catalog is the relational sink: one row per fingerprint in a SQLite table.
type Catalog struct {
	db     *sql.DB
	dbPath string
	log    *logging.Logger
	mu     sync.RWMutex
}

// OpenCatalog opens (creating if needed) the SQLite catalog at dbPath.
func OpenCatalog(ctx context.Context, dbPath string, log *logging.Logger) (*Catalog, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}

	// busy_timeout helps prevent "database is locked" errors
	connStr := fmt.Sprintf("%s?_journal_mode=WAL&_synchronous=NORMAL&_cache_size=10000&_temp_store=MEMORY&_busy_timeout=5000", dbPath)

	db, err := sql.Open("sqlite3", connStr)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, defaultTimeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("failed to close catalog after ping failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to connect to catalog: %w", err)
	}

	db.SetMaxOpenConns(4)
	db.SetMaxIdleConns(2)
	db.SetConnMaxLifetime(time.Hour)

	c := &Catalog{db: db, dbPath: dbPath, log: log}
	if err := c.initialize(ctx); err != nil {
		if closeErr := db.Close(); closeErr != nil {
			log.Error("failed to close catalog after initialization failure: %v", closeErr)
		}
		return nil, fmt.Errorf("failed to initialize catalog schema: %w", err)
	}

	log.Debug("Catalog initialized at %s", dbPath)
	return c, nil
}

func (c *Catalog) initialize(ctx context.Context) error {
	schema := `
	CREATE TABLE IF NOT EXISTS analysis_results (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		fingerprint TEXT NOT NULL UNIQUE,
		filename TEXT NOT NULL,
		directory TEXT NOT NULL,
		size_bytes INTEGER NOT NULL DEFAULT 0,
		status TEXT NOT NULL,
		caption_model TEXT,
		vision_models TEXT,
		modes TEXT,
		prompts TEXT,
		analysis_results TEXT,
		errors TEXT,
		settings TEXT,
		processing_time REAL NOT NULL DEFAULT 0,
		run_id TEXT,
		date_added INTEGER NOT NULL,
		date_processed INTEGER
	);

	CREATE INDEX IF NOT EXISTS idx_analysis_results_directory ON analysis_results(directory);
	CREATE INDEX IF NOT EXISTS idx_analysis_results_status ON analysis_results(status);
	`

	_, err := c.db.ExecContext(ctx, schema)
	return err
}

// Name implements Sink.
func (c *Catalog) Name() string { return "catalog" }

// Path returns the catalog file path.
func (c *Catalog) Path() string { return c.dbPath }

// jsonColumn stores a value as JSON text.
type jsonColumn[T any] struct {
	V T
}

// Value implements driver.Valuer.
func (j jsonColumn[T]) Value() (driver.Value, error) {
	b, err := json.Marshal(j.V)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// Scan implements sql.Scanner.
func (j *jsonColumn[T]) Scan(src any) error {
	var data []byte
	switch v := src.(type) {
	case nil:
		return nil
	case string:
		data = []byte(v)
	case []byte:
		data = v
	default:
		return fmt.Errorf("unsupported JSON column type %T", src)
	}
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, &j.V)
}

// storedResult is a Result with its payload kept alongside, since the
// record-level JSON omits payloads from the analyzers map.
type storedResult struct {
	record.Result
	Payload record.Payload `json:"payload,omitempty"`
}

func toMillis(t time.Time) sql.NullInt64 {
	if t.IsZero() {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: t.UnixMilli(), Valid: true}
}

func fromMillis(v sql.NullInt64) time.Time {
	if !v.Valid {
		return time.Time{}
	}
	return time.UnixMilli(v.Int64).UTC()
}

// Put implements Sink. An existing row for the fingerprint is replaced in
// full.
func (c *Catalog) Put(ctx context.Context, r *record.Record) error {
	results := make(map[string]storedResult, len(r.Results))
	for name, res := range r.Results {
		results[name] = storedResult{Result: *res, Payload: res.Payload}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	_, err := c.db.ExecContext(ctx, `
		INSERT INTO analysis_results (
			fingerprint, filename, directory, size_bytes, status,
			caption_model, vision_models, modes, prompts,
			analysis_results, errors, settings,
			processing_time, run_id, date_added, date_processed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(fingerprint) DO UPDATE SET
			filename = excluded.filename,
			directory = excluded.directory,
			size_bytes = excluded.size_bytes,
			status = excluded.status,
			caption_model = excluded.caption_model,
			vision_models = excluded.vision_models,
			modes = excluded.modes,
			prompts = excluded.prompts,
			analysis_results = excluded.analysis_results,
			errors = excluded.errors,
			settings = excluded.settings,
			processing_time = excluded.processing_time,
			run_id = excluded.run_id,
			date_added = excluded.date_added,
			date_processed = excluded.date_processed
	`,
		r.Fingerprint, r.Filename, r.Directory, r.SizeBytes, string(r.Status),
		r.Settings.CaptionModel,
		jsonColumn[[]string]{r.Settings.VisionModels},
		jsonColumn[[]string]{r.Settings.CaptionModes},
		jsonColumn[[]string]{r.Settings.Prompts},
		jsonColumn[map[string]storedResult]{results},
		jsonColumn[[]record.ErrorEntry]{r.Errors},
		jsonColumn[record.Settings]{r.Settings},
		r.ProcessingTime.Seconds(), r.RunID,
		toMillis(r.CreatedAt), toMillis(r.ProcessedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert %s: %w", r.Fingerprint, err)
	}
	return nil
}

const selectColumns = `
	fingerprint, filename, directory, size_bytes, status,
	analysis_results, errors, settings,
	processing_time, run_id, date_added, date_processed
`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(row rowScanner) (*record.Record, error) {
	var (
		r           record.Record
		status      string
		results     jsonColumn[map[string]storedResult]
		errs        jsonColumn[[]record.ErrorEntry]
		settings    jsonColumn[record.Settings]
		procSeconds float64
		runID       sql.NullString
		added       sql.NullInt64
		processed   sql.NullInt64
	)
	if err := row.Scan(
		&r.Fingerprint, &r.Filename, &r.Directory, &r.SizeBytes, &status,
		&results, &errs, &settings,
		&procSeconds, &runID, &added, &processed,
	); err != nil {
		return nil, err
	}

	r.Status = record.Status(status)
	r.Errors = errs.V
	r.Settings = settings.V
	r.ProcessingTime = time.Duration(procSeconds * float64(time.Second)).Round(time.Microsecond)
	r.RunID = runID.String
	r.CreatedAt = fromMillis(added)
	r.ProcessedAt = fromMillis(processed)
	r.Results = make(map[string]*record.Result, len(results.V))
	for name, sr := range results.V {
		res := sr.Result
		res.Analyzer = name
		res.Payload = sr.Payload
		r.Results[name] = &res
	}
	return &r, nil
}

// Get implements Sink.
func (c *Catalog) Get(ctx context.Context, fingerprint string) (*record.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	row := c.db.QueryRowContext(ctx,
		`SELECT `+selectColumns+` FROM analysis_results WHERE fingerprint = ?`, fingerprint)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", fingerprint, err)
	}
	return r, nil
}

// All implements Sink. Rows are ordered by directory then filename.
func (c *Catalog) All(ctx context.Context) ([]*record.Record, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx,
		`SELECT `+selectColumns+` FROM analysis_results ORDER BY directory, filename, fingerprint`)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			c.log.Debug("failed to close rows: %v", closeErr)
		}
	}()

	var records []*record.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan catalog row: %w", err)
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Stats returns the number of rows per status.
func (c *Catalog) Stats(ctx context.Context) (map[record.Status]int, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	rows, err := c.db.QueryContext(ctx,
		`SELECT status, COUNT(*) FROM analysis_results GROUP BY status`)
	if err != nil {
		return nil, fmt.Errorf("failed to query catalog stats: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			c.log.Debug("failed to close rows: %v", closeErr)
		}
	}()

	stats := make(map[record.Status]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		stats[record.Status(status)] = count
	}
	return stats, rows.Err()
}

// Delete removes the row for fingerprint. Missing rows return ErrNotFound.
func (c *Catalog) Delete(ctx context.Context, fingerprint string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	res, err := c.db.ExecContext(ctx, `DELETE FROM analysis_results WHERE fingerprint = ?`, fingerprint)
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", fingerprint, err)
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

// Clear implements Sink.
func (c *Catalog) Clear(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, err := c.db.ExecContext(ctx, `DELETE FROM analysis_results`); err != nil {
		return fmt.Errorf("failed to clear catalog: %w", err)
	}
	return nil
}

// Close implements Sink.
func (c *Catalog) Close() error {
	return c.db.Close()
}
