package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

// Repository adapts the package functions to the collaborator interfaces
// used by the store, coordinator and prediction engine. Every error is
// wrapped in model.ErrPersistence.
type Repository struct {
	conn *sql.DB
}

func NewRepository(conn *sql.DB) *Repository {
	return &Repository{conn: conn}
}

func (r *Repository) LoadState() (*model.LampState, error) {
	s, err := LoadState(r.conn)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	return s, nil
}

func (r *Repository) SaveState(s model.LampState) error {
	if err := SaveState(r.conn, s); err != nil {
		return fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	return nil
}

func (r *Repository) AppendInteraction(rec model.InteractionRecord) error {
	if err := AppendInteraction(r.conn, rec); err != nil {
		return fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	return nil
}

func (r *Repository) AppendSystemEvent(ev model.SystemEvent) error {
	if err := AppendSystemEvent(r.conn, ev); err != nil {
		return fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	return nil
}

func (r *Repository) LogAlert(a model.Alert) error {
	if err := LogAlert(r.conn, a); err != nil {
		return fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	return nil
}

func (r *Repository) Interactions(since time.Time) ([]model.InteractionRecord, error) {
	recs, err := GetInteractions(r.conn, since)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	return recs, nil
}

func (r *Repository) Alerts(since time.Time, limit int) ([]model.Alert, error) {
	alerts, err := GetAlerts(r.conn, since, limit)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", model.ErrPersistence, err)
	}
	return alerts, nil
}

func (r *Repository) Stats() (Stats, error) {
	return GetStats(r.conn)
}

func (r *Repository) Prune(cutoff time.Time) (int64, error) {
	return PruneHistory(r.conn, cutoff)
}
