package store

import (
	"bytes"
	"compress/gzip"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"fmt"
	"io"
	"time"
)

// FetchRecord is one adapter call: the audit row and, when the source
// answered, the response body. Error is empty for a successful call.
type FetchRecord struct {
	ID          int64
	LocationID  int64
	Source      string
	Endpoint    string
	FetchedAt   time.Time
	HTTPStatus  int
	Bytes       int
	Records     int
	ParseErrors int
	Note        string
	Error       string
	Body        []byte
}

// RecordFetch writes r and its body in one transaction. Bodies are stored
// gzipped once per sha256; a repeat only moves last_seen. It reports
// whether a new body was written.
func (s *Store) RecordFetch(r *FetchRecord) (bool, error) {
	if r.FetchedAt.IsZero() {
		r.FetchedAt = time.Now()
	}
	at := r.FetchedAt.UTC().Unix()

	tx, err := s.db.Begin()
	if err != nil {
		return false, fmt.Errorf("begin fetch: %w", err)
	}
	defer tx.Rollback()

	var payloadID sql.NullInt64
	var stored bool
	if len(r.Body) > 0 {
		payloadID.Int64, stored, err = upsertBody(tx, r.Source, r.Body, at)
		if err != nil {
			return false, err
		}
		payloadID.Valid = true
	}

	var locationID sql.NullInt64
	if r.LocationID > 0 {
		locationID = sql.NullInt64{Int64: r.LocationID, Valid: true}
	}
	result, err := tx.Exec(`
		INSERT INTO ingest_runs (location_id, source, endpoint, fetched_at, http_status,
			response_bytes, records, parse_errors, note, error, payload_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, locationID, r.Source, r.Endpoint, at, r.HTTPStatus, r.Bytes, r.Records,
		r.ParseErrors, r.Note, r.Error, payloadID)
	if err != nil {
		return false, fmt.Errorf("insert ingest run: %w", err)
	}
	if r.ID, err = result.LastInsertId(); err != nil {
		return false, err
	}
	return stored, tx.Commit()
}

func upsertBody(tx *sql.Tx, source string, body []byte, at int64) (int64, bool, error) {
	sum := sha256.Sum256(body)
	hash := hex.EncodeToString(sum[:])

	var id int64
	err := tx.QueryRow(`SELECT id FROM raw_payloads WHERE sha256 = ?`, hash).Scan(&id)
	if err == nil {
		_, err = tx.Exec(`UPDATE raw_payloads SET last_seen = ? WHERE id = ?`, at, id)
		return id, false, err
	}
	if err != sql.ErrNoRows {
		return 0, false, fmt.Errorf("lookup payload: %w", err)
	}

	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(body); err != nil {
		return 0, false, fmt.Errorf("gzip payload: %w", err)
	}
	if err := zw.Close(); err != nil {
		return 0, false, fmt.Errorf("gzip payload: %w", err)
	}

	result, err := tx.Exec(`
		INSERT INTO raw_payloads (source, sha256, size_bytes, body_gzip, first_seen, last_seen)
		VALUES (?, ?, ?, ?, ?, ?)
	`, source, hash, len(body), buf.Bytes(), at, at)
	if err != nil {
		return 0, false, fmt.Errorf("insert payload: %w", err)
	}
	id, err = result.LastInsertId()
	return id, err == nil, err
}

const fetchColumns = `r.id, COALESCE(r.location_id, 0), r.source, r.endpoint, r.fetched_at,
	r.http_status, r.response_bytes, r.records, r.parse_errors, r.note, r.error`

func scanFetch(row scanner, extra ...any) (*FetchRecord, error) {
	var r FetchRecord
	var at int64
	dest := append([]any{&r.ID, &r.LocationID, &r.Source, &r.Endpoint, &at,
		&r.HTTPStatus, &r.Bytes, &r.Records, &r.ParseErrors, &r.Note, &r.Error}, extra...)
	if err := row.Scan(dest...); err != nil {
		return nil, err
	}
	r.FetchedAt = time.Unix(at, 0).UTC()
	return &r, nil
}

// GetFetch returns run id with its decompressed body, or nil when there
// is no such run.
func (s *Store) GetFetch(id int64) (*FetchRecord, error) {
	var compressed []byte
	r, err := scanFetch(s.db.QueryRow(`
		SELECT `+fetchColumns+`, p.body_gzip
		FROM ingest_runs r LEFT JOIN raw_payloads p ON p.id = r.payload_id
		WHERE r.id = ?
	`, id), &compressed)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get fetch: %w", err)
	}
	if len(compressed) > 0 {
		zr, err := gzip.NewReader(bytes.NewReader(compressed))
		if err != nil {
			return nil, fmt.Errorf("gunzip payload: %w", err)
		}
		defer zr.Close()
		if r.Body, err = io.ReadAll(zr); err != nil {
			return nil, fmt.Errorf("gunzip payload: %w", err)
		}
	}
	return r, nil
}

// RecentFetchFailures returns failed calls, newest first.
func (s *Store) RecentFetchFailures(limit int) ([]FetchRecord, error) {
	rows, err := s.db.Query(`
		SELECT `+fetchColumns+`
		FROM ingest_runs r
		WHERE r.error != ''
		ORDER BY r.fetched_at DESC, r.id DESC
		LIMIT ?
	`, limit)
	if err != nil {
		return nil, fmt.Errorf("recent failures: %w", err)
	}
	defer rows.Close()

	var out []FetchRecord
	for rows.Next() {
		r, err := scanFetch(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *r)
	}
	return out, rows.Err()
}

// SourceFetchStats summarises one source's calls since a point in time.
type SourceFetchStats struct {
	Source      string
	Calls       int
	Failures    int
	Records     int
	ParseErrors int
	LastOK      time.Time
}

func (s *Store) FetchStats(since time.Time) ([]SourceFetchStats, error) {
	rows, err := s.db.Query(`
		SELECT source, COUNT(*),
		       SUM(CASE WHEN error = '' THEN 0 ELSE 1 END),
		       SUM(records), SUM(parse_errors),
		       COALESCE(MAX(CASE WHEN error = '' THEN fetched_at END), 0)
		FROM ingest_runs
		WHERE fetched_at >= ?
		GROUP BY source
		ORDER BY source
	`, since.UTC().Unix())
	if err != nil {
		return nil, fmt.Errorf("fetch stats: %w", err)
	}
	defer rows.Close()

	var out []SourceFetchStats
	for rows.Next() {
		var st SourceFetchStats
		var lastOK int64
		if err := rows.Scan(&st.Source, &st.Calls, &st.Failures, &st.Records, &st.ParseErrors, &lastOK); err != nil {
			return nil, err
		}
		if lastOK > 0 {
			st.LastOK = time.Unix(lastOK, 0).UTC()
		}
		out = append(out, st)
	}
	return out, rows.Err()
}

// PayloadUsage is the footprint of stored response bodies.
type PayloadUsage struct {
	Count           int
	CompressedBytes int64
	RawBytes        int64
	Oldest          time.Time
	Newest          time.Time
	BySource        map[string]int
}

func (s *Store) PayloadUsage() (*PayloadUsage, error) {
	u := &PayloadUsage{BySource: make(map[string]int)}
	var oldest, newest int64
	err := s.db.QueryRow(`
		SELECT COUNT(*), COALESCE(SUM(LENGTH(body_gzip)), 0), COALESCE(SUM(size_bytes), 0),
		       COALESCE(MIN(first_seen), 0), COALESCE(MAX(last_seen), 0)
		FROM raw_payloads
	`).Scan(&u.Count, &u.CompressedBytes, &u.RawBytes, &oldest, &newest)
	if err != nil {
		return nil, fmt.Errorf("payload usage: %w", err)
	}
	if u.Count > 0 {
		u.Oldest = time.Unix(oldest, 0).UTC()
		u.Newest = time.Unix(newest, 0).UTC()
	}

	rows, err := s.db.Query(`SELECT source, COUNT(*) FROM raw_payloads GROUP BY source`)
	if err != nil {
		return nil, fmt.Errorf("payload usage: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var source string
		var n int
		if err := rows.Scan(&source, &n); err != nil {
			return nil, err
		}
		u.BySource[source] = n
	}
	return u, rows.Err()
}

// PruneFetches removes runs fetched before the cutoff and bodies not seen
// since then.
func (s *Store) PruneFetches(before time.Time) (runs, payloads int64, err error) {
	cutoff := before.UTC().Unix()
	result, err := s.db.Exec(`DELETE FROM ingest_runs WHERE fetched_at < ?`, cutoff)
	if err != nil {
		return 0, 0, fmt.Errorf("prune runs: %w", err)
	}
	runs, _ = result.RowsAffected()

	result, err = s.db.Exec(`DELETE FROM raw_payloads WHERE last_seen < ?`, cutoff)
	if err != nil {
		return runs, 0, fmt.Errorf("prune payloads: %w", err)
	}
	payloads, _ = result.RowsAffected()
	return runs, payloads, nil
}
