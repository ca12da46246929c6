package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// OfflineConfig holds offline queue and synchronization configuration
type OfflineConfig struct {
	// ============ SCHEDULING ============
	AutoSyncEnabled  bool `json:"auto_sync_enabled"`
	AutoSyncInterval int  `json:"auto_sync_interval"` // seconds
	SyncOnStartup    bool `json:"sync_on_startup"`

	// ============ CONNECTIVITY ============
	ProbeInterval int `json:"probe_interval"` // seconds
	DebounceMs    int `json:"debounce_ms"`    // online transition debounce

	// ============ RETRY ============
	MaxAttempts    int `json:"max_attempts"`
	BackoffBaseSec int `json:"backoff_base_sec"`
	BackoffCapSec  int `json:"backoff_cap_sec"`

	// ============ RETENTION ============
	SyncedRetentionHours int `json:"synced_retention_hours"`
	SyncLogRetentionDays int `json:"sync_log_retention_days"`

	// ============ REFERENCE CACHE ============
	CacheTTLDays     int `json:"cache_ttl_days"`
	CachePageSize    int `json:"cache_page_size"`
	CacheMaxPages    int `json:"cache_max_pages"`
	CacheMaxResults  int `json:"cache_max_results"`
}

// LoadOfflineConfig loads offline configuration from file or environment
func LoadOfflineConfig() *OfflineConfig {
	// Try to load from file first
	if configPath := os.Getenv("OFFLINE_CONFIG_PATH"); configPath != "" {
		if cfg, err := loadOfflineConfigFromFile(configPath); err == nil {
			return cfg
		}
	}

	// Otherwise use defaults
	return getDefaultOfflineConfig()
}

// loadOfflineConfigFromFile loads offline config from JSON file
func loadOfflineConfigFromFile(path string) (*OfflineConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg OfflineConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// getDefaultOfflineConfig returns default offline configuration
func getDefaultOfflineConfig() *OfflineConfig {
	return &OfflineConfig{
		AutoSyncEnabled:  getBoolEnv("SYNC_AUTO_ENABLED", true),
		AutoSyncInterval: getIntEnv("SYNC_AUTO_INTERVAL", 45),
		SyncOnStartup:    getBoolEnv("SYNC_ON_STARTUP", true),

		ProbeInterval: getIntEnv("CONNECTIVITY_PROBE_INTERVAL", 15),
		DebounceMs:    getIntEnv("CONNECTIVITY_DEBOUNCE_MS", 2500),

		MaxAttempts:    getIntEnv("SYNC_MAX_ATTEMPTS", 5),
		BackoffBaseSec: getIntEnv("SYNC_BACKOFF_BASE", 2),
		BackoffCapSec:  getIntEnv("SYNC_BACKOFF_CAP", 300),

		SyncedRetentionHours: getIntEnv("SYNC_RETENTION_HOURS", 24),
		SyncLogRetentionDays: getIntEnv("SYNC_LOG_RETENTION_DAYS", 14),

		CacheTTLDays:    getIntEnv("CACHE_TTL_DAYS", 7),
		CachePageSize:   getIntEnv("CACHE_PAGE_SIZE", 100),
		CacheMaxPages:   getIntEnv("CACHE_MAX_PAGES", 10),
		CacheMaxResults: getIntEnv("CACHE_MAX_RESULTS", 25),
	}
}

// Debounce returns the online-transition debounce window as a duration
func (c *OfflineConfig) Debounce() time.Duration {
	return time.Duration(c.DebounceMs) * time.Millisecond
}

// BackoffBase returns the base retry delay as a duration
func (c *OfflineConfig) BackoffBase() time.Duration {
	return time.Duration(c.BackoffBaseSec) * time.Second
}

// BackoffCap returns the retry delay ceiling as a duration
func (c *OfflineConfig) BackoffCap() time.Duration {
	return time.Duration(c.BackoffCapSec) * time.Second
}

// CacheTTL returns the reference cache TTL as a duration
func (c *OfflineConfig) CacheTTL() time.Duration {
	return time.Duration(c.CacheTTLDays) * 24 * time.Hour
}

// Helper functions for environment variables

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return value == "true" || value == "1" || value == "yes"
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		var result int
		if _, err := fmt.Sscanf(value, "%d", &result); err == nil {
			return result
		}
	}
	return defaultValue
}
