package config

import (
	"fmt"
	"os"

	"github.com/joho/godotenv"
)

// Config holds all terminal configuration
type Config struct {
	NodeEnv    string
	Port       string
	TerminalID string
	Database   DatabaseConfig
	Server     ServerConfig
}

// DatabaseConfig holds local database configuration
type DatabaseConfig struct {
	Host     string
	Port     string
	Username string
	Password string
	Database string
	Alter    bool
}

// ServerConfig holds the central server connection configuration
type ServerConfig struct {
	BaseURL        string
	TerminalSecret string
	RequestTimeout int // seconds
	OperatorPINHash string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists
	_ = godotenv.Load()

	serverURL := os.Getenv("POS_SERVER_URL")
	if serverURL == "" {
		return nil, fmt.Errorf("POS_SERVER_URL is required")
	}

	terminalSecret := os.Getenv("TERMINAL_SECRET")
	if terminalSecret == "" {
		return nil, fmt.Errorf("TERMINAL_SECRET is required")
	}

	return &Config{
		NodeEnv:    getEnv("NODE_ENV", "development"),
		Port:       getEnv("PORT", "3001"),
		TerminalID: getEnv("TERMINAL_ID", "terminal-1"),
		Database: DatabaseConfig{
			Host:     getEnv("PG_HOST", "localhost"),
			Port:     getEnv("PG_PORT", "5432"),
			Username: getEnv("PG_USERNAME", "postgres"),
			Password: os.Getenv("PG_PASSWORD"),
			Database: getEnv("PG_DATABASE", "posterm"),
			Alter:    getEnv("DB_ALTER", "false") == "true",
		},
		Server: ServerConfig{
			BaseURL:         serverURL,
			TerminalSecret:  terminalSecret,
			RequestTimeout:  getIntEnv("POS_SERVER_TIMEOUT", 12),
			OperatorPINHash: os.Getenv("OPERATOR_PIN_HASH"),
		},
	}, nil
}

// getEnv gets environment variable with default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
