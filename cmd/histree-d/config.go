package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

const (
	defaultAddr           = "127.0.0.1:8091"
	defaultRetention      = 30 * 24 * time.Hour
	defaultRollupInterval = 30 * time.Second
	defaultWebAssetsMode  = "embedded"
)

type Config struct {
	Addr           string
	DBPath         string // "" runs without a change journal
	RedisAddr      string // "" disables the stream mirror
	BlobDir        string // "" prunes aged events instead of archiving
	Retention      time.Duration
	RollupInterval time.Duration
	WebAssetsMode  string
	WebDir         string
	TLSCertFile    string
	TLSKeyFile     string
}

func LoadConfig(args []string) (Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return Config{}, fmt.Errorf("failed to get cwd: %w", err)
	}

	dbPath := envOrDefault("HISTREE_DB_PATH", filepath.Join(cwd, "histree.db"))
	redisAddr := os.Getenv("HISTREE_REDIS_ADDR")
	blobDir := os.Getenv("HISTREE_BLOB_DIR")
	addr := addrFromEnv(defaultAddr)

	retention := defaultRetention
	if retentionEnv := os.Getenv("HISTREE_RETENTION"); retentionEnv != "" {
		parsed, err := time.ParseDuration(retentionEnv)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HISTREE_RETENTION: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("HISTREE_RETENTION must be positive")
		}
		retention = parsed
	}

	rollupInterval := defaultRollupInterval
	if rollupEnv := os.Getenv("HISTREE_ROLLUP_INTERVAL"); rollupEnv != "" {
		parsed, err := time.ParseDuration(rollupEnv)
		if err != nil {
			return Config{}, fmt.Errorf("invalid HISTREE_ROLLUP_INTERVAL: %w", err)
		}
		if parsed <= 0 {
			return Config{}, errors.New("HISTREE_ROLLUP_INTERVAL must be positive")
		}
		rollupInterval = parsed
	}

	webAssetsMode := envOrDefault("HISTREE_WEB_ASSETS_MODE", defaultWebAssetsMode)
	webDir := os.Getenv("HISTREE_WEB_DIR")
	tlsCert := os.Getenv("HISTREE_TLS_CERT_FILE")
	tlsKey := os.Getenv("HISTREE_TLS_KEY_FILE")

	flagSet := flag.NewFlagSet("histree-d", flag.ContinueOnError)
	flagSet.SetOutput(io.Discard)
	flagAddr := flagSet.String("addr", addr, "HTTP listen address")
	flagDB := flagSet.String("db", dbPath, `path to the SQLite change journal ("off" to disable)`)
	flagRedis := flagSet.String("redis", redisAddr, "Redis address for the journal stream mirror (empty disables)")
	flagBlobDir := flagSet.String("blob-dir", blobDir, "directory for archived journal segments (empty prunes instead)")
	flagRetention := flagSet.String("retention", retention.String(), "journal retention window")
	flagRollup := flagSet.String("rollup-interval", rollupInterval.String(), "activity rollup interval")
	flagWebAssets := flagSet.String("web-assets", webAssetsMode, "web assets mode: embedded|fs|off")
	flagWebDir := flagSet.String("web-dir", webDir, "web assets directory when web-assets=fs")

	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			flagSet.SetOutput(os.Stdout)
			flagSet.PrintDefaults()
			return Config{}, err
		}
		return Config{}, err
	}

	retentionParsed, err := time.ParseDuration(*flagRetention)
	if err != nil {
		return Config{}, fmt.Errorf("invalid retention: %w", err)
	}
	if retentionParsed <= 0 {
		return Config{}, errors.New("retention must be positive")
	}

	rollupParsed, err := time.ParseDuration(*flagRollup)
	if err != nil {
		return Config{}, fmt.Errorf("invalid rollup interval: %w", err)
	}
	if rollupParsed <= 0 {
		return Config{}, errors.New("rollup interval must be positive")
	}

	config := Config{
		Addr:           strings.TrimSpace(*flagAddr),
		DBPath:         normalizeDBPath(*flagDB, cwd),
		RedisAddr:      strings.TrimSpace(*flagRedis),
		BlobDir:        resolvePath(*flagBlobDir, cwd),
		Retention:      retentionParsed,
		RollupInterval: rollupParsed,
		WebAssetsMode:  normalizeWebAssetsMode(*flagWebAssets),
		WebDir:         strings.TrimSpace(*flagWebDir),
		TLSCertFile:    strings.TrimSpace(tlsCert),
		TLSKeyFile:     strings.TrimSpace(tlsKey),
	}

	if config.Addr == "" {
		return Config{}, errors.New("addr cannot be empty")
	}

	if config.WebAssetsMode == "fs" {
		if config.WebDir == "" {
			return Config{}, errors.New("web-assets=fs requires web-dir")
		}
		config.WebDir = resolvePath(config.WebDir, cwd)
	}

	if config.WebAssetsMode != "embedded" && config.WebAssetsMode != "fs" && config.WebAssetsMode != "off" {
		return Config{}, fmt.Errorf("unsupported web-assets mode: %s", config.WebAssetsMode)
	}

	if (config.TLSCertFile == "") != (config.TLSKeyFile == "") {
		return Config{}, errors.New("HISTREE_TLS_CERT_FILE and HISTREE_TLS_KEY_FILE must be set together")
	}

	if config.DBPath == "" && config.RedisAddr != "" {
		return Config{}, errors.New("redis mirror requires the journal; set -db")
	}

	return config, nil
}

func envOrDefault(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func addrFromEnv(fallback string) string {
	if value := os.Getenv("HISTREE_ADDR"); value != "" {
		return value
	}
	if port := os.Getenv("HISTREE_PORT"); port != "" {
		return fmt.Sprintf("127.0.0.1:%s", port)
	}
	return fallback
}

// normalizeDBPath resolves the journal path, with "off" (or an explicitly
// blanked flag) meaning no journal at all.
func normalizeDBPath(path, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" || strings.EqualFold(trimmed, "off") {
		return ""
	}
	return resolvePath(trimmed, cwd)
}

func resolvePath(path string, cwd string) string {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return trimmed
	}
	if filepath.IsAbs(trimmed) {
		return trimmed
	}
	return filepath.Join(cwd, trimmed)
}

func normalizeWebAssetsMode(mode string) string {
	switch strings.ToLower(strings.TrimSpace(mode)) {
	case "", "embedded":
		return "embedded"
	case "fs", "dir", "directory":
		return "fs"
	case "off", "disabled", "none":
		return "off"
	default:
		return strings.ToLower(strings.TrimSpace(mode))
	}
}
