package store

import (
	"database/sql"
	"time"
)

// ProviderUsage returns the number of calls made to provider since the
// given time and when the latest of them happened.
func (s *Store) ProviderUsage(provider string, since time.Time) (int, sql.NullTime, error) {
	var count int
	err := s.db.QueryRow(`
		SELECT COUNT(*) FROM provider_calls WHERE provider = ? AND called_at >= ?
	`, provider, since.UTC()).Scan(&count)
	if err != nil {
		return 0, sql.NullTime{}, err
	}

	var last sql.NullTime
	err = s.db.QueryRow(`
		SELECT called_at FROM provider_calls WHERE provider = ? ORDER BY called_at DESC LIMIT 1
	`, provider).Scan(&last.Time)
	if err == sql.ErrNoRows {
		return count, sql.NullTime{}, nil
	}
	if err != nil {
		return 0, sql.NullTime{}, err
	}
	last.Valid = true
	return count, last, nil
}

func (s *Store) RecordProviderCall(provider string, at time.Time) error {
	_, err := s.db.Exec(`INSERT INTO provider_calls (provider, called_at) VALUES (?, ?)`, provider, at.UTC())
	return err
}

// CleanupProviderCalls removes call records older than before.
func (s *Store) CleanupProviderCalls(before time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM provider_calls WHERE called_at < ?`, before.UTC())
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
