package app

// Config carries the command-line level settings for an aolcore process.
type Config struct {
	// Debug enables debug-level logging.
	Debug bool

	// Silent suppresses all log output.
	Silent bool

	// ConfigPath is the YAML configuration file; empty uses defaults.
	ConfigPath string
}

// NewConfig creates an application configuration.
func NewConfig(debug, silent bool, configPath string) *Config {
	return &Config{
		Debug:      debug,
		Silent:     silent,
		ConfigPath: configPath,
	}
}
