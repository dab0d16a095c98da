package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds the application configuration
type Config struct {
	// HTTP server
	Port           string
	AllowedOrigins []string

	// GitHub API
	GitHubToken       string
	RateLimitLowWater int
	RequestsPerSecond float64

	// Scanner
	MaxFileSize          int64
	MaxFilesPerScan      int
	MaxConcurrentFetches int
	ScanTimeout          time.Duration

	// Detector
	EntropyThreshold float64
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		Port:        os.Getenv("PORT"),
		GitHubToken: os.Getenv("GITHUB_TOKEN"),
	}

	// Set defaults
	if cfg.Port == "" {
		cfg.Port = "8000"
	}
	cfg.AllowedOrigins = []string{"http://localhost:5173", "http://localhost:3000"}
	cfg.RateLimitLowWater = 20
	cfg.RequestsPerSecond = 10
	cfg.MaxFileSize = 1 << 20 // 1 MiB
	cfg.MaxFilesPerScan = 2000
	cfg.MaxConcurrentFetches = 8
	cfg.ScanTimeout = 5 * time.Minute
	cfg.EntropyThreshold = 4.5

	// Parse allowed CORS origins
	if origins := os.Getenv("ALLOWED_ORIGINS"); origins != "" {
		cfg.AllowedOrigins = nil
		for _, origin := range strings.Split(origins, ",") {
			if trimmed := strings.TrimSpace(origin); trimmed != "" {
				cfg.AllowedOrigins = append(cfg.AllowedOrigins, trimmed)
			}
		}
		if len(cfg.AllowedOrigins) == 0 {
			return nil, fmt.Errorf("ALLOWED_ORIGINS must contain at least one origin")
		}
	}

	// Parse max file size
	if maxSize := os.Getenv("MAX_FILE_SIZE"); maxSize != "" {
		size, err := strconv.ParseInt(maxSize, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_FILE_SIZE value: %v", err)
		}
		if size <= 0 {
			return nil, fmt.Errorf("MAX_FILE_SIZE must be greater than 0")
		}
		cfg.MaxFileSize = size
	}

	// Parse max files per scan
	if maxFiles := os.Getenv("MAX_FILES_PER_SCAN"); maxFiles != "" {
		max, err := strconv.Atoi(maxFiles)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_FILES_PER_SCAN value: %v", err)
		}
		if max <= 0 {
			return nil, fmt.Errorf("MAX_FILES_PER_SCAN must be greater than 0")
		}
		cfg.MaxFilesPerScan = max
	}

	// Parse max concurrent fetches
	if maxFetches := os.Getenv("MAX_CONCURRENT_FETCHES"); maxFetches != "" {
		max, err := strconv.Atoi(maxFetches)
		if err != nil {
			return nil, fmt.Errorf("invalid MAX_CONCURRENT_FETCHES value: %v", err)
		}
		if max <= 0 {
			return nil, fmt.Errorf("MAX_CONCURRENT_FETCHES must be greater than 0")
		}
		cfg.MaxConcurrentFetches = max
	}

	// Parse scan timeout
	if timeout := os.Getenv("SCAN_TIMEOUT"); timeout != "" {
		duration, err := time.ParseDuration(timeout)
		if err != nil {
			return nil, fmt.Errorf("invalid SCAN_TIMEOUT value: %v", err)
		}
		if duration <= 0 {
			return nil, fmt.Errorf("SCAN_TIMEOUT must be greater than 0")
		}
		cfg.ScanTimeout = duration
	}

	// Parse entropy threshold
	if threshold := os.Getenv("ENTROPY_THRESHOLD"); threshold != "" {
		value, err := strconv.ParseFloat(threshold, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid ENTROPY_THRESHOLD value: %v", err)
		}
		if value <= 0 {
			return nil, fmt.Errorf("ENTROPY_THRESHOLD must be greater than 0")
		}
		cfg.EntropyThreshold = value
	}

	// Parse rate limit low-water mark
	if lowWater := os.Getenv("RATE_LIMIT_LOW_WATER"); lowWater != "" {
		value, err := strconv.Atoi(lowWater)
		if err != nil {
			return nil, fmt.Errorf("invalid RATE_LIMIT_LOW_WATER value: %v", err)
		}
		if value < 0 {
			return nil, fmt.Errorf("RATE_LIMIT_LOW_WATER must be non-negative")
		}
		cfg.RateLimitLowWater = value
	}

	// Parse request pacing rate
	if rps := os.Getenv("REQUESTS_PER_SECOND"); rps != "" {
		value, err := strconv.ParseFloat(rps, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid REQUESTS_PER_SECOND value: %v", err)
		}
		if value <= 0 {
			return nil, fmt.Errorf("REQUESTS_PER_SECOND must be greater than 0")
		}
		cfg.RequestsPerSecond = value
	}

	return cfg, nil
}
