package main

import (
	"os"
	"strings"
	"testing"
	"time"
)

func TestLoadConfig_RetentionValidation(t *testing.T) {
	tests := []struct {
		name        string
		args        []string
		envVars     map[string]string
		expectError bool
		errorSubstr string
	}{
		{
			name:        "valid retention from flag",
			args:        []string{"-retention", "48h"},
			expectError: false,
		},
		{
			name:        "zero retention from flag",
			args:        []string{"-retention", "0s"},
			expectError: true,
			errorSubstr: "retention must be positive",
		},
		{
			name:        "negative retention from flag",
			args:        []string{"-retention", "-24h"},
			expectError: true,
			errorSubstr: "retention must be positive",
		},
		{
			name:        "invalid retention format from flag",
			args:        []string{"-retention", "fortnight"},
			expectError: true,
			errorSubstr: "invalid retention",
		},
		{
			name:        "valid retention from env",
			envVars:     map[string]string{"HISTREE_RETENTION": "48h"},
			expectError: false,
		},
		{
			name:        "zero retention from env",
			envVars:     map[string]string{"HISTREE_RETENTION": "0s"},
			expectError: true,
			errorSubstr: "HISTREE_RETENTION must be positive",
		},
		{
			name:        "invalid retention format from env",
			envVars:     map[string]string{"HISTREE_RETENTION": "fortnight"},
			expectError: true,
			errorSubstr: "invalid HISTREE_RETENTION",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			for k, v := range tt.envVars {
				os.Setenv(k, v)
				defer os.Unsetenv(k)
			}

			cfg, err := LoadConfig(tt.args)

			if tt.expectError {
				if err == nil {
					t.Errorf("expected error containing %q, got nil", tt.errorSubstr)
				} else if !strings.Contains(err.Error(), tt.errorSubstr) {
					t.Errorf("expected error containing %q, got %q", tt.errorSubstr, err.Error())
				}
			} else {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				} else if cfg.Retention <= 0 {
					t.Errorf("expected positive retention, got %v", cfg.Retention)
				}
			}
		})
	}
}

func TestLoadConfig_RollupIntervalValidation(t *testing.T) {
	if _, err := LoadConfig([]string{"-rollup-interval", "0s"}); err == nil || !strings.Contains(err.Error(), "rollup interval must be positive") {
		t.Errorf("zero rollup interval accepted: %v", err)
	}
	if _, err := LoadConfig([]string{"-rollup-interval", "nope"}); err == nil || !strings.Contains(err.Error(), "invalid rollup interval") {
		t.Errorf("garbage rollup interval accepted: %v", err)
	}
	t.Setenv("HISTREE_ROLLUP_INTERVAL", "-5s")
	if _, err := LoadConfig(nil); err == nil || !strings.Contains(err.Error(), "HISTREE_ROLLUP_INTERVAL must be positive") {
		t.Errorf("negative env rollup interval accepted: %v", err)
	}
}

func TestLoadConfig_Defaults(t *testing.T) {
	cfg, err := LoadConfig([]string{})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Addr != defaultAddr {
		t.Errorf("expected addr %s, got %s", defaultAddr, cfg.Addr)
	}
	if !strings.HasSuffix(cfg.DBPath, "histree.db") {
		t.Errorf("expected default db path ending in histree.db, got %s", cfg.DBPath)
	}
	if cfg.Retention != 30*24*time.Hour {
		t.Errorf("expected default retention of 720h, got %v", cfg.Retention)
	}
	if cfg.RollupInterval != 30*time.Second {
		t.Errorf("expected default rollup interval of 30s, got %v", cfg.RollupInterval)
	}
	if cfg.WebAssetsMode != "embedded" {
		t.Errorf("expected embedded web assets, got %s", cfg.WebAssetsMode)
	}
	if cfg.RedisAddr != "" || cfg.BlobDir != "" {
		t.Errorf("expected redis and blob dir off by default, got %q / %q", cfg.RedisAddr, cfg.BlobDir)
	}
}

func TestLoadConfig_AddrPrecedence(t *testing.T) {
	t.Setenv("HISTREE_PORT", "9200")
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != "127.0.0.1:9200" {
		t.Errorf("HISTREE_PORT ignored, got %s", cfg.Addr)
	}

	t.Setenv("HISTREE_ADDR", "0.0.0.0:9300")
	cfg, err = LoadConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != "0.0.0.0:9300" {
		t.Errorf("HISTREE_ADDR should beat HISTREE_PORT, got %s", cfg.Addr)
	}

	cfg, err = LoadConfig([]string{"-addr", "10.0.0.5:80"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Addr != "10.0.0.5:80" {
		t.Errorf("flag should beat env, got %s", cfg.Addr)
	}
}

func TestLoadConfig_JournalOff(t *testing.T) {
	cfg, err := LoadConfig([]string{"-db", "off"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath != "" {
		t.Errorf("-db off should clear the path, got %q", cfg.DBPath)
	}

	cfg, err = LoadConfig([]string{"-db", ""})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.DBPath != "" {
		t.Errorf("blank -db should clear the path, got %q", cfg.DBPath)
	}

	if _, err := LoadConfig([]string{"-db", "off", "-redis", "127.0.0.1:6379"}); err == nil {
		t.Error("redis mirror without a journal should be rejected")
	}
}

func TestLoadConfig_WebAssetsModes(t *testing.T) {
	if _, err := LoadConfig([]string{"-web-assets", "fs"}); err == nil {
		t.Error("web-assets=fs without web-dir should be rejected")
	}

	cfg, err := LoadConfig([]string{"-web-assets", "DIR", "-web-dir", "assets"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WebAssetsMode != "fs" {
		t.Errorf("expected fs mode, got %s", cfg.WebAssetsMode)
	}
	if !strings.HasSuffix(cfg.WebDir, "assets") || cfg.WebDir == "assets" {
		t.Errorf("web-dir not resolved to an absolute path: %s", cfg.WebDir)
	}

	cfg, err = LoadConfig([]string{"-web-assets", "none"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.WebAssetsMode != "off" {
		t.Errorf("expected off mode, got %s", cfg.WebAssetsMode)
	}

	if _, err := LoadConfig([]string{"-web-assets", "cdn"}); err == nil {
		t.Error("unsupported web-assets mode accepted")
	}
}

func TestLoadConfig_TLSPairing(t *testing.T) {
	t.Setenv("HISTREE_TLS_CERT_FILE", "/tmp/cert.pem")
	if _, err := LoadConfig(nil); err == nil {
		t.Error("cert without key should be rejected")
	}

	t.Setenv("HISTREE_TLS_KEY_FILE", "/tmp/key.pem")
	cfg, err := LoadConfig(nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.TLSCertFile == "" || cfg.TLSKeyFile == "" {
		t.Error("TLS pair not carried through")
	}
}
