package commands

import (
	"github.com/99designs/keyring"
	"github.com/rs/zerolog"

	"github.com/nhle/ticketdesk/internal/model"
)

// Flags holds global options and the state the root Before hook loads.
type Flags struct {
	// LogLevel and LogFile hold the resolved values once Before has run.
	LogLevel   string
	LogFile    string
	ConfigPath string

	// Config is loaded in the Before hook and available to all commands
	Config *model.AppConfig

	// Logger is the root logger built from the log flags and config.
	Logger zerolog.Logger

	// Keyring replaces the platform keyring when set.
	Keyring keyring.Keyring
}

// DefaultConfigPath returns the default config file path.
func DefaultConfigPath() string {
	return model.DefaultConfigPath()
}
