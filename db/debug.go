package db

import (
	"fmt"
	"time"

	"github.com/thatsimonsguy/smart-lamp/internal/model"
)

// SetModeCLI rewrites the persisted mode. The running service only reads it
// back on its next start.
func SetModeCLI(dbPath, mode string) error {
	m := model.Mode(mode)
	if !m.Valid() {
		return fmt.Errorf("unknown mode %q", mode)
	}

	dbConn, err := Open(dbPath)
	if err != nil {
		return err
	}
	defer dbConn.Close()

	tx, err := StartTransaction(dbConn)
	if err != nil {
		return err
	}
	if err := SetModeWithTx(tx, m); err != nil {
		RollbackTransaction(tx)
		return err
	}
	return CommitTransaction(tx)
}

func PruneCLI(dbPath string, days int) (int64, error) {
	dbConn, err := Open(dbPath)
	if err != nil {
		return 0, err
	}
	defer dbConn.Close()

	return PruneHistory(dbConn, time.Now().AddDate(0, 0, -days))
}

func StatusCLI(dbPath string) (*model.LampState, Stats, error) {
	dbConn, err := Open(dbPath)
	if err != nil {
		return nil, Stats{}, err
	}
	defer dbConn.Close()

	state, err := LoadState(dbConn)
	if err != nil {
		return nil, Stats{}, err
	}
	stats, err := GetStats(dbConn)
	return state, stats, err
}

func InteractionsCLI(dbPath string, limit int) ([]model.InteractionRecord, error) {
	dbConn, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer dbConn.Close()

	return GetRecentInteractions(dbConn, limit)
}

func EventsCLI(dbPath string, limit int) ([]model.SystemEvent, error) {
	dbConn, err := Open(dbPath)
	if err != nil {
		return nil, err
	}
	defer dbConn.Close()

	return GetSystemEvents(dbConn, limit)
}
