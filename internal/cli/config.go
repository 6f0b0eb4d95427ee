package cli

import "os"

// Config holds CLI configuration
type Config struct {
	ConfigPath string
	ListenAddr string
	Output     string
	Verbose    bool
}

// DefaultConfig returns a Config with default values
func DefaultConfig() *Config {
	return &Config{
		ConfigPath: getEnvOrDefault("PLAYTIMED_CONFIG", "config.yml"),
		ListenAddr: os.Getenv("PLAYTIMED_LISTEN"),
		Output:     "text",
	}
}

func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
