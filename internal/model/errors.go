package model

import "errors"

var (
	// ErrHardwareRead is recoverable; callers fall back to the last good value.
	ErrHardwareRead = errors.New("hardware read failed")

	// ErrHardwareWrite is surfaced through status but never blocks later commands.
	ErrHardwareWrite = errors.New("hardware write failed")

	ErrPersistence = errors.New("persistence failed")

	// ErrModelTraining leaves the previous model in place.
	ErrModelTraining = errors.New("model training failed")

	ErrInvalidTransition = errors.New("invalid state transition")

	ErrAlertProcessing = errors.New("alert processing failed")
)
