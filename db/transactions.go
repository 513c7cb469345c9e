package db

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

// fixed-width UTC timestamps so text comparison in sqlite orders correctly
const timeLayout = "2006-01-02T15:04:05.000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timeLayout, s)
}

// StartTransaction starts a new database transaction.
func StartTransaction(db *sql.DB) (*sql.Tx, error) {
	tx, err := db.Begin()
	if err != nil {
		return nil, fmt.Errorf("failed to start transaction: %w", err)
	}
	return tx, nil
}

// CommitTransaction commits the given transaction.
func CommitTransaction(tx *sql.Tx) error {
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// RollbackTransaction rolls back the given transaction.
func RollbackTransaction(tx *sql.Tx) {
	tx.Rollback()
}

func SaveState(db *sql.DB, s model.LampState) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	if err := SaveStateWithTx(tx, s); err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit()
}

func SaveStateWithTx(tx *sql.Tx, s model.LampState) error {
	updated := s.UpdatedAt
	if updated.IsZero() {
		updated = time.Now()
	}
	_, err := tx.Exec(`INSERT OR REPLACE INTO lamp_state
		(id, is_on, brightness, color_r, color_g, color_b, mode, last_trigger, updated_at)
		VALUES (1, ?, ?, ?, ?, ?, ?, ?, ?)`,
		s.IsOn, s.Brightness, s.Color.R, s.Color.G, s.Color.B, string(s.Mode), string(s.LastTrigger), formatTime(updated))
	if err != nil {
		return fmt.Errorf("save lamp state: %w", err)
	}
	return nil
}

func SetModeWithTx(tx *sql.Tx, mode model.Mode) error {
	res, err := tx.Exec(`UPDATE lamp_state SET mode = ?, last_trigger = ?, updated_at = ? WHERE id = 1`,
		string(mode), string(model.TriggerManual), formatTime(time.Now()))
	if err != nil {
		return fmt.Errorf("update mode: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("update mode: no lamp state row")
	}
	return nil
}

func AppendInteraction(db *sql.DB, rec model.InteractionRecord) error {
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO user_interactions
		(timestamp, action, is_on, brightness, color_r, color_g, color_b, hour, day_of_week, is_weekend)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(rec.Timestamp), string(rec.Action), rec.IsOn, rec.Brightness,
		rec.Color.R, rec.Color.G, rec.Color.B, rec.Hour, rec.DayOfWeek, rec.IsWeekend)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("append interaction: %w", err)
	}
	return tx.Commit()
}

func AppendSystemEvent(db *sql.DB, ev model.SystemEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT INTO system_events (id, timestamp, kind, event_trigger, detail) VALUES (?, ?, ?, ?, ?)`,
		ev.ID, formatTime(ev.Timestamp), ev.Kind, string(ev.Trigger), ev.Detail)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("append system event: %w", err)
	}
	return tx.Commit()
}

func LogAlert(db *sql.DB, a model.Alert) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	tx, err := db.Begin()
	if err != nil {
		return fmt.Errorf("start transaction: %w", err)
	}
	_, err = tx.Exec(`INSERT OR IGNORE INTO environmental_data (id, timestamp, data_type, severity, value, details) VALUES (?, ?, ?, ?, ?, ?)`,
		a.ID, formatTime(a.ReceivedAt), string(a.Type), string(a.Severity), a.Value, marshalJSON(a.Payload))
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("log alert: %w", err)
	}
	return tx.Commit()
}

// PruneHistory deletes interactions, system events and alerts older than
// cutoff and reports how many rows were removed.
func PruneHistory(db *sql.DB, cutoff time.Time) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("start transaction: %w", err)
	}
	defer tx.Rollback()

	var total int64
	for _, table := range []string{"user_interactions", "system_events", "environmental_data"} {
		res, err := tx.Exec(`DELETE FROM `+table+` WHERE timestamp < ?`, formatTime(cutoff))
		if err != nil {
			return 0, fmt.Errorf("prune %s: %w", table, err)
		}
		n, _ := res.RowsAffected()
		total += n
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return total, nil
}
