package shutdown

import (
	"os"

	"github.com/rs/zerolog/log"
)

// Outputs is implemented by gpio.Driver.
type Outputs interface {
	DisableOutputs() error
}

var exit = os.Exit

// Shutdown darkens the lamp and exits. Safe mode leaves the outputs alone.
func Shutdown(out Outputs, safeMode bool, code int) {
	if !safeMode && out != nil {
		if err := out.DisableOutputs(); err != nil {
			log.Error().Err(err).Msg("Failed to disable lamp outputs")
		} else {
			log.Info().Msg("Lamp outputs disabled")
		}
	}
	exit(code)
}

func ShutdownWithError(out Outputs, safeMode bool, err error, msg string) {
	log.Error().Err(err).Msg(msg)
	Shutdown(out, safeMode, 1)
}
