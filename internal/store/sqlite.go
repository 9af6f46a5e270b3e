package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lox/aurorawatch/internal/models"
)

type Store struct {
	db  *sql.DB
	loc *time.Location
}

func New(db *sql.DB, loc *time.Location) *Store {
	if loc == nil {
		loc = time.UTC
	}
	return &Store{db: db, loc: loc}
}

// ErrLocationExists is returned when creating a location whose name is taken.
var ErrLocationExists = errors.New("location already exists")

const locationColumns = `id, name, latitude, longitude, timezone, kp_threshold, active, last_combined_id, last_alert_at, created_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanLocation(row scanner) (*models.Location, error) {
	var l models.Location
	if err := row.Scan(&l.ID, &l.Name, &l.Latitude, &l.Longitude, &l.TimezoneName, &l.KpThreshold,
		&l.Active, &l.LastCombinedID, &l.LastAlertAt, &l.CreatedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// CreateLocation inserts l and sets its ID.
func (s *Store) CreateLocation(l *models.Location) error {
	existing, err := s.GetLocationByName(l.Name)
	if err != nil {
		return err
	}
	if existing != nil {
		return fmt.Errorf("%w: %s", ErrLocationExists, l.Name)
	}

	if l.CreatedAt.IsZero() {
		l.CreatedAt = time.Now().UTC()
	}
	result, err := s.db.Exec(`
		INSERT INTO locations (name, latitude, longitude, timezone, kp_threshold, active, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, l.Name, l.Latitude, l.Longitude, l.TimezoneName, l.KpThreshold, l.Active, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert location: %w", err)
	}
	l.ID, err = result.LastInsertId()
	return err
}

// GetLocation returns nil when no location has id.
func (s *Store) GetLocation(id int64) (*models.Location, error) {
	l, err := scanLocation(s.db.QueryRow(`SELECT `+locationColumns+` FROM locations WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (s *Store) GetLocationByName(name string) (*models.Location, error) {
	l, err := scanLocation(s.db.QueryRow(`SELECT `+locationColumns+` FROM locations WHERE name = ?`, name))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	return l, err
}

func (s *Store) ListLocations(activeOnly bool) ([]models.Location, error) {
	query := `SELECT ` + locationColumns + ` FROM locations`
	if activeOnly {
		query += ` WHERE active = TRUE`
	}
	query += ` ORDER BY id`

	rows, err := s.db.Query(query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var locations []models.Location
	for rows.Next() {
		l, err := scanLocation(rows)
		if err != nil {
			return nil, err
		}
		locations = append(locations, *l)
	}
	return locations, rows.Err()
}

// UpdateLocationAlertState records the last combined ID for a location.
// alertAt is only written when valid, so silent updates keep the previous
// alert time.
func (s *Store) UpdateLocationAlertState(id int64, combinedID string, alertAt sql.NullTime) error {
	_, err := s.db.Exec(`
		UPDATE locations SET
			last_combined_id = ?,
			last_alert_at = CASE WHEN ? THEN ? ELSE last_alert_at END
		WHERE id = ?
	`, combinedID, alertAt.Valid, alertAt.Time.UTC(), id)
	return err
}

func (s *Store) SetLocationActive(id int64, active bool) error {
	result, err := s.db.Exec(`UPDATE locations SET active = ? WHERE id = ?`, active, id)
	if err != nil {
		return err
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("location %d not found", id)
	}
	return nil
}

// EnsureDefaultLocation creates a location from cfg when none exist and
// returns the first active location.
func (s *Store) EnsureDefaultLocation(cfg models.EngineConfig) (*models.Location, error) {
	locations, err := s.ListLocations(true)
	if err != nil {
		return nil, err
	}
	if len(locations) > 0 {
		return &locations[0], nil
	}

	l := &models.Location{
		Name:         cfg.LocationName,
		Latitude:     cfg.Latitude,
		Longitude:    cfg.Longitude,
		TimezoneName: cfg.TimezoneName,
		KpThreshold:  cfg.KpThreshold,
		Active:       true,
	}
	if l.Name == "" {
		l.Name = models.DefaultLocationName
	}
	if l.TimezoneName == "" {
		l.TimezoneName = models.DefaultTimezone
	}
	if err := s.CreateLocation(l); err != nil {
		return nil, err
	}
	return l, nil
}
