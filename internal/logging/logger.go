package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"strings"
)

type contextKey string

const scanIDKey contextKey = "scan_id"

// Config holds the logging configuration
type Config struct {
	Level     string
	Format    string
	Output    string
	AddSource bool
	Service   string
	Version   string
}

// NewLogger creates a new slog logger with the given configuration
func NewLogger(cfg Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(cfg.Level),
		AddSource: cfg.AddSource,
	}

	output := getOutput(cfg.Output)

	// Create handler based on format
	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}

	// Add default attributes
	attrs := []slog.Attr{
		slog.String("service", cfg.Service),
	}

	// Add version if available
	if cfg.Version != "" {
		attrs = append(attrs, slog.String("version", cfg.Version))
	} else if info, ok := debug.ReadBuildInfo(); ok {
		// Try to get version from build info
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" && len(setting.Value) >= 8 {
				attrs = append(attrs, slog.String("version", setting.Value[:8]))
				break
			}
		}
	}

	return slog.New(handler.WithAttrs(attrs))
}

// parseLogLevel converts a string log level to slog.Level
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getOutput returns the appropriate output writer based on configuration
func getOutput(output string) io.Writer {
	switch strings.ToLower(output) {
	case "stderr":
		return os.Stderr
	case "stdout", "":
		return os.Stdout
	default:
		// Assume it's a file path
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			// Fall back to stdout if file cannot be opened
			fmt.Fprintf(os.Stderr, "Failed to open log file %s: %v, falling back to stdout\n", output, err)
			return os.Stdout
		}
		return file
	}
}

// WithScanID adds a scan ID to the context
func WithScanID(ctx context.Context, scanID string) context.Context {
	return context.WithValue(ctx, scanIDKey, scanID)
}

// ScanIDFromContext returns the scan ID stored in the context, if any
func ScanIDFromContext(ctx context.Context) string {
	scanID, _ := ctx.Value(scanIDKey).(string)
	return scanID
}

// FromContext creates a logger with context values as attributes
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}

	if scanID := ScanIDFromContext(ctx); scanID != "" {
		return logger.With(slog.String("scan_id", scanID))
	}

	return logger
}

// DefaultConfig returns a default logging configuration
func DefaultConfig(service string) Config {
	return Config{
		Level:     getEnv("LOG_LEVEL", "info"),
		Format:    getEnv("LOG_FORMAT", "json"),
		Output:    getEnv("LOG_OUTPUT", "stdout"),
		AddSource: getEnvBool("LOG_ADD_SOURCE", false),
		Service:   service,
		Version:   getEnv("SERVICE_VERSION", ""),
	}
}

// Helper functions to read environment variables
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}
