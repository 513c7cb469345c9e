package db

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

// LoadState returns nil, nil when no snapshot has been saved yet.
func LoadState(db *sql.DB) (*model.LampState, error) {
	var (
		s       model.LampState
		mode    string
		trigger string
		updated string
	)
	err := db.QueryRow(`SELECT is_on, brightness, color_r, color_g, color_b, mode, last_trigger, updated_at FROM lamp_state WHERE id = 1`).
		Scan(&s.IsOn, &s.Brightness, &s.Color.R, &s.Color.G, &s.Color.B, &mode, &trigger, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load lamp state: %w", err)
	}

	s.Mode = model.Mode(mode)
	s.LastTrigger = model.Trigger(trigger)
	s.UpdatedAt, err = parseTime(updated)
	if err != nil {
		return nil, fmt.Errorf("parse lamp state timestamp: %w", err)
	}
	return &s, nil
}

// GetInteractions returns interactions at or after since, oldest first.
func GetInteractions(db *sql.DB, since time.Time) ([]model.InteractionRecord, error) {
	rows, err := db.Query(`SELECT timestamp, action, is_on, brightness, color_r, color_g, color_b, hour, day_of_week, is_weekend
		FROM user_interactions WHERE timestamp >= ? ORDER BY timestamp ASC, id ASC`, formatTime(since))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInteractions(rows)
}

// GetRecentInteractions returns the newest limit interactions, newest first.
func GetRecentInteractions(db *sql.DB, limit int) ([]model.InteractionRecord, error) {
	rows, err := db.Query(`SELECT timestamp, action, is_on, brightness, color_r, color_g, color_b, hour, day_of_week, is_weekend
		FROM user_interactions ORDER BY timestamp DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanInteractions(rows)
}

func scanInteractions(rows *sql.Rows) ([]model.InteractionRecord, error) {
	var out []model.InteractionRecord
	for rows.Next() {
		var (
			rec    model.InteractionRecord
			ts     string
			action string
		)
		if err := rows.Scan(&ts, &action, &rec.IsOn, &rec.Brightness, &rec.Color.R, &rec.Color.G, &rec.Color.B,
			&rec.Hour, &rec.DayOfWeek, &rec.IsWeekend); err != nil {
			return nil, err
		}
		t, err := parseTime(ts)
		if err != nil {
			return nil, fmt.Errorf("parse interaction timestamp: %w", err)
		}
		rec.Timestamp = t
		rec.Action = model.Action(action)
		out = append(out, rec)
	}
	return out, rows.Err()
}

func GetSystemEvents(db *sql.DB, limit int) ([]model.SystemEvent, error) {
	rows, err := db.Query(`SELECT id, timestamp, kind, COALESCE(event_trigger, ''), COALESCE(detail, '')
		FROM system_events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.SystemEvent
	for rows.Next() {
		var (
			ev      model.SystemEvent
			ts      string
			trigger string
		)
		if err := rows.Scan(&ev.ID, &ts, &ev.Kind, &trigger, &ev.Detail); err != nil {
			return nil, err
		}
		if ev.Timestamp, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse event timestamp: %w", err)
		}
		ev.Trigger = model.Trigger(trigger)
		out = append(out, ev)
	}
	return out, rows.Err()
}

// GetAlerts returns up to limit alerts received at or after since, newest first.
func GetAlerts(db *sql.DB, since time.Time, limit int) ([]model.Alert, error) {
	rows, err := db.Query(`SELECT id, timestamp, data_type, COALESCE(severity, ''), COALESCE(value, 0), COALESCE(details, '')
		FROM environmental_data WHERE timestamp >= ? ORDER BY timestamp DESC LIMIT ?`, formatTime(since), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Alert
	for rows.Next() {
		var (
			a        model.Alert
			ts       string
			kind     string
			severity string
			details  string
		)
		if err := rows.Scan(&a.ID, &ts, &kind, &severity, &a.Value, &details); err != nil {
			return nil, err
		}
		if a.ReceivedAt, err = parseTime(ts); err != nil {
			return nil, fmt.Errorf("parse alert timestamp: %w", err)
		}
		a.Type = model.AlertType(kind)
		a.Severity = model.Severity(severity)
		if details != "" && details != "null" {
			if err := json.Unmarshal([]byte(details), &a.Payload); err != nil {
				return nil, fmt.Errorf("decode alert %s payload: %w", a.ID, err)
			}
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

type Stats struct {
	Interactions      int       `json:"interactions"`
	SystemEvents      int       `json:"system_events"`
	Alerts            int       `json:"alerts"`
	FirstInteraction  time.Time `json:"first_interaction,omitempty"`
	LatestInteraction time.Time `json:"latest_interaction,omitempty"`
}

func GetStats(db *sql.DB) (Stats, error) {
	var (
		s           Stats
		first, last sql.NullString
	)
	err := db.QueryRow(`SELECT COUNT(*), MIN(timestamp), MAX(timestamp) FROM user_interactions`).Scan(&s.Interactions, &first, &last)
	if err != nil {
		return s, fmt.Errorf("count interactions: %w", err)
	}
	if first.Valid {
		s.FirstInteraction, _ = parseTime(first.String)
		s.LatestInteraction, _ = parseTime(last.String)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM system_events`).Scan(&s.SystemEvents); err != nil {
		return s, fmt.Errorf("count system events: %w", err)
	}
	if err := db.QueryRow(`SELECT COUNT(*) FROM environmental_data`).Scan(&s.Alerts); err != nil {
		return s, fmt.Errorf("count alerts: %w", err)
	}
	return s, nil
}
