// internal/logger/config.go
package logger

type Config struct {
	// LogFile receives JSON lines. Empty disables the file sink.
	LogFile    string
	MaxSize    int  // megabytes
	MaxAge     int  // days
	MaxBackups int  // files
	Compress   bool // gzip rotated files
	Debug      bool
	// Pretty switches the console sink to the colored short format.
	Pretty bool
}

// DefaultConfig returns the configuration used when none is given.
func DefaultConfig() *Config {
	return &Config{
		LogFile:    "dispatch.log",
		MaxSize:    100,
		MaxAge:     7,
		MaxBackups: 3,
		Compress:   true,
		Debug:      false,
		Pretty:     true,
	}
}
