package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/andresmejia3/voucherscan/internal/types"
)

// Store manages the PostgreSQL connection for scan history and found codes.
type Store struct {
	conn *pgx.Conn
}

// New establishes a connection to the database and ensures the schema is initialized.
func New(ctx context.Context, connString string) (*Store, error) {
	conn, err := pgx.Connect(ctx, connString)
	if err != nil {
		return nil, err
	}

	// Initialize schema (Auto-Migration)
	if err := initSchema(ctx, conn); err != nil {
		conn.Close(ctx)
		return nil, fmt.Errorf("failed to initialize database schema: %w", err)
	}

	return &Store{conn: conn}, nil
}

// initSchema creates the necessary tables if they don't exist (Auto-Migration).
func initSchema(ctx context.Context, conn *pgx.Conn) error {
	query := `
		CREATE TABLE IF NOT EXISTS video_metadata (
			id TEXT PRIMARY KEY,
			source TEXT NOT NULL,
			indexed_at TIMESTAMPTZ DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS scans (
			id UUID PRIMARY KEY,
			video_id TEXT NOT NULL REFERENCES video_metadata(id) ON DELETE CASCADE,
			frames_read INT NOT NULL,
			frames_sampled INT NOT NULL,
			frames_failed INT NOT NULL,
			scanned_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS voucher_codes (
			id BIGSERIAL PRIMARY KEY,
			scan_id UUID NOT NULL REFERENCES scans(id) ON DELETE CASCADE,
			video_id TEXT NOT NULL REFERENCES video_metadata(id) ON DELETE CASCADE,
			code TEXT NOT NULL,
			first_seen DOUBLE PRECISION NOT NULL,
			UNIQUE (video_id, code)
		);
		CREATE INDEX IF NOT EXISTS voucher_codes_code_idx ON voucher_codes (code);
	`
	_, err := conn.Exec(ctx, query)
	return err
}

// Close terminates the database connection.
func (s *Store) Close(ctx context.Context) {
	s.conn.Close(ctx)
}

// EnsureVideoMetadata registers the video in the database. If it exists, it updates the timestamp.
func (s *Store) EnsureVideoMetadata(ctx context.Context, videoID, source string) error {
	_, err := s.conn.Exec(ctx, `
		INSERT INTO video_metadata (id, source, indexed_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (id) DO UPDATE SET indexed_at = NOW(), source = EXCLUDED.source
	`, videoID, source)
	return err
}

// SaveScan records one extraction run and its codes atomically and returns the new scan ID.
// The codes replace whatever an earlier scan stored for the video; on failure the old set stays.
// The video must already be registered with EnsureVideoMetadata.
func (s *Store) SaveScan(ctx context.Context, scan types.ScanRecord, codes []types.CodeRecord) (string, error) {
	id := uuid.New()
	if scan.ScannedAt.IsZero() {
		scan.ScannedAt = time.Now()
	}

	tx, err := s.conn.Begin(ctx)
	if err != nil {
		return "", err
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, "DELETE FROM voucher_codes WHERE video_id = $1", scan.VideoID); err != nil {
		return "", fmt.Errorf("clear codes: %w", err)
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO scans (id, video_id, frames_read, frames_sampled, frames_failed, scanned_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, id, scan.VideoID, scan.FramesRead, scan.FramesSampled, scan.FramesFailed, scan.ScannedAt)
	if err != nil {
		return "", fmt.Errorf("insert scan: %w", err)
	}

	batch := &pgx.Batch{}
	for _, c := range codes {
		// Keep the earliest sighting when a code is reported twice.
		batch.Queue(`
			INSERT INTO voucher_codes (scan_id, video_id, code, first_seen)
			VALUES ($1, $2, $3, $4)
			ON CONFLICT (video_id, code) DO UPDATE
			SET first_seen = LEAST(voucher_codes.first_seen, EXCLUDED.first_seen), scan_id = EXCLUDED.scan_id
		`, id, scan.VideoID, c.Code, c.FirstSeen)
	}
	if batch.Len() > 0 {
		if err := tx.SendBatch(ctx, batch).Close(); err != nil {
			return "", fmt.Errorf("insert codes: %w", err)
		}
	}

	return id.String(), tx.Commit(ctx)
}

// ListCodes returns stored codes ordered by video then first sighting.
// An empty videoID lists every video.
func (s *Store) ListCodes(ctx context.Context, videoID string) ([]types.CodeRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT c.code, c.video_id, v.source, c.first_seen, sc.scanned_at
		FROM voucher_codes c
		JOIN video_metadata v ON v.id = c.video_id
		JOIN scans sc ON sc.id = c.scan_id
		WHERE $1 = '' OR c.video_id = $1
		ORDER BY v.indexed_at DESC, c.video_id, c.first_seen, c.code
	`, videoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var codes []types.CodeRecord
	for rows.Next() {
		var c types.CodeRecord
		if err := rows.Scan(&c.Code, &c.VideoID, &c.Source, &c.FirstSeen, &c.ScannedAt); err != nil {
			return nil, err
		}
		codes = append(codes, c)
	}
	return codes, rows.Err()
}

// ListScans returns the scan history, newest first.
func (s *Store) ListScans(ctx context.Context) ([]types.ScanRecord, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT sc.id::text, sc.video_id, v.source, sc.frames_read, sc.frames_sampled, sc.frames_failed, sc.scanned_at
		FROM scans sc
		JOIN video_metadata v ON v.id = sc.video_id
		ORDER BY sc.scanned_at DESC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var scans []types.ScanRecord
	for rows.Next() {
		var r types.ScanRecord
		if err := rows.Scan(&r.ID, &r.VideoID, &r.Source, &r.FramesRead, &r.FramesSampled, &r.FramesFailed, &r.ScannedAt); err != nil {
			return nil, err
		}
		scans = append(scans, r)
	}
	return scans, rows.Err()
}

// Reset drops all application tables to clear the database state.
// This is useful for development to force a schema refresh without migrations.
func (s *Store) Reset(ctx context.Context) error {
	_, err := s.conn.Exec(ctx, `
		DROP TABLE IF EXISTS voucher_codes CASCADE;
		DROP TABLE IF EXISTS scans CASCADE;
		DROP TABLE IF EXISTS video_metadata CASCADE;
	`)
	return err
}
