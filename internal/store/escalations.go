package store

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/aurorawatch/internal/models"
)

// InsertEscalation stores e unless the location has already seen its
// token. It reports whether a row was inserted.
func (s *Store) InsertEscalation(e *models.Escalation) (bool, error) {
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(`
		INSERT INTO escalations (location_id, token, source, observed_at, kp, message, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(location_id, token) DO NOTHING
	`, e.LocationID, e.Token, e.Source, e.ObservedAt.UTC(), e.Kp, e.Message, e.CreatedAt.UTC())
	if err != nil {
		return false, fmt.Errorf("insert escalation: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	if n == 0 {
		return false, nil
	}
	e.ID, err = result.LastInsertId()
	return true, err
}

// GetRecentEscalations returns up to limit escalations for a location,
// newest first. A locationID of zero returns escalations for every
// location.
func (s *Store) GetRecentEscalations(locationID int64, limit int) ([]models.Escalation, error) {
	rows, err := s.db.Query(`
		SELECT id, location_id, token, source, observed_at, kp, COALESCE(message, ''), created_at
		FROM escalations
		WHERE ? = 0 OR location_id = ?
		ORDER BY created_at DESC, id DESC
		LIMIT ?
	`, locationID, locationID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var escalations []models.Escalation
	for rows.Next() {
		var e models.Escalation
		if err := rows.Scan(&e.ID, &e.LocationID, &e.Token, &e.Source, &e.ObservedAt, &e.Kp,
			&e.Message, &e.CreatedAt); err != nil {
			return nil, err
		}
		escalations = append(escalations, e)
	}
	return escalations, rows.Err()
}

// MaxEscalatedKp returns the highest Kp already alerted for the location
// at source and observedAt. It is invalid when nothing was recorded.
func (s *Store) MaxEscalatedKp(locationID int64, source string, observedAt time.Time) (sql.NullFloat64, error) {
	var kp sql.NullFloat64
	err := s.db.QueryRow(`
		SELECT MAX(kp) FROM escalations
		WHERE location_id = ? AND source = ? AND observed_at = ?
	`, locationID, source, observedAt.UTC()).Scan(&kp)
	if err != nil {
		return sql.NullFloat64{}, fmt.Errorf("max escalated kp: %w", err)
	}
	return kp, nil
}
