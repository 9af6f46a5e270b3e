package store

import (
	"fmt"
	"time"

	"github.com/lox/aurorawatch/internal/models"
)

// UpsertKpRecords stores Kp history. Later values for the same source and
// time replace earlier ones, so a GFZ nowcast is overwritten once the
// definitive value arrives.
func (s *Store) UpsertKpRecords(records []models.KpRecord) (int, error) {
	if len(records) == 0 {
		return 0, nil
	}
	tx, err := s.db.Begin()
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO kp_records (source, observed_at, kp, status, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source, observed_at) DO UPDATE SET
			kp = excluded.kp,
			status = excluded.status,
			updated_at = excluded.updated_at
	`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, r := range records {
		if _, err := stmt.Exec(r.Source, r.ObservedAt.UTC().Truncate(time.Second), r.Kp, r.Status, now); err != nil {
			return 0, fmt.Errorf("upsert kp %s %s: %w", r.Source, r.ObservedAt.Format(time.RFC3339), err)
		}
	}
	if err := tx.Commit(); err != nil {
		return 0, err
	}
	return len(records), nil
}

// GetKpRecords returns records for source observed at or after since, in
// ascending time order. An empty source matches every source.
func (s *Store) GetKpRecords(source string, since time.Time) ([]models.KpRecord, error) {
	rows, err := s.db.Query(`
		SELECT source, observed_at, kp, COALESCE(status, '')
		FROM kp_records
		WHERE (? = '' OR source = ?) AND observed_at >= ?
		ORDER BY observed_at, source
	`, source, source, since.UTC().Truncate(time.Second))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []models.KpRecord
	for rows.Next() {
		var r models.KpRecord
		if err := rows.Scan(&r.Source, &r.ObservedAt, &r.Kp, &r.Status); err != nil {
			return nil, err
		}
		r.ObservedAt = r.ObservedAt.UTC()
		records = append(records, r)
	}
	return records, rows.Err()
}

// DailyKpMax is the peak Kp for one local calendar day.
type DailyKpMax struct {
	Date  string
	Kp    float64
	Count int
}

// GetDailyKpMax groups records since the given time by day in the store's
// timezone.
func (s *Store) GetDailyKpMax(source string, since time.Time) ([]DailyKpMax, error) {
	records, err := s.GetKpRecords(source, since)
	if err != nil {
		return nil, err
	}

	var days []DailyKpMax
	for _, r := range records {
		date := r.ObservedAt.In(s.loc).Format("2006-01-02")
		if n := len(days); n > 0 && days[n-1].Date == date {
			days[n-1].Count++
			if r.Kp > days[n-1].Kp {
				days[n-1].Kp = r.Kp
			}
			continue
		}
		days = append(days, DailyKpMax{Date: date, Kp: r.Kp, Count: 1})
	}
	return days, nil
}
