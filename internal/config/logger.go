package config

import (
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/artbay/market-bridge/internal/util"
)

// InitLogger configures the global zerolog logger from the environment.
func InitLogger() {
	level, err := zerolog.ParseLevel(util.GetEnv("LOGGER_LEVEL", "info"))
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if util.GetEnvAsBool("LOGGER_PRETTY_PRINT_CONSOLE", false) {
		log.Logger = log.Output(zerolog.NewConsoleWriter())
	}

	log.Logger = log.Logger.With().Str("service", ModuleName).Logger()
}
