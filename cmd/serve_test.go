// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

// newTestServeCmd builds a throwaway command carrying the same flags as
// serveCmd, so tests can drive serveCmdLoadConfig without mutating the
// package's real command tree or its global flag values.
func newTestServeCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "serve"}
	cmd.Flags().String("config", "", "Pathname of the configuration file")
	cmd.Flags().Bool("debug", false, "Print debug log output")
	cmd.Flags().String("http-ip", "", "IP address to listen on")
	cmd.Flags().String("http-port", "", "Port to listen on")
	cmd.Flags().String("db-type", "", "Catalog database driver (sqlite or postgres)")
	cmd.Flags().String("db-dsn", "", "Catalog database DSN")
	return cmd
}

func writeYAMLConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(p, []byte(contents), 0o600); err != nil {
		t.Fatal(err)
	}
	return p
}

const sampleConfig = `
log:
  level: "warn"
http:
  ip: "127.0.0.1"
  port: "8080"
db:
  type: "sqlite"
  dsn: "file:/tmp/catalog.db"
keys:
  key_x: "00000000000000000000000000000000"
  scrambler: "00000000000000000000000000000000"
  exheader_public_key: "00"
  cfa_public_key: "00"
registry:
  max_sessions: 16
  session_stale_seconds: 30
  cleanup_period_seconds: 10
`

func TestServeLoadsConfigFile(t *testing.T) {
	viper.Reset()
	configFilePath = ""

	path := writeYAMLConfig(t, sampleConfig)
	cmd := newTestServeCmd()
	if err := cmd.Flags().Set("config", path); err != nil {
		t.Fatal(err)
	}

	if err := serveCmdLoadConfig(cmd); err != nil {
		t.Fatalf("serveCmdLoadConfig: %v", err)
	}

	var cfg CatalogServerConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if cfg.HTTP.IP != "127.0.0.1" || cfg.HTTP.Port != "8080" {
		t.Fatalf("unexpected HTTP config: %+v", cfg.HTTP)
	}
	if cfg.DB.Type != "sqlite" || cfg.DB.DSN != "file:/tmp/catalog.db" {
		t.Fatalf("unexpected DB config: %+v", cfg.DB)
	}
	if cfg.Registry.MaxSessions != 16 {
		t.Fatalf("unexpected registry config: %+v", cfg.Registry)
	}
	if err := cfg.HTTP.validate(); err != nil {
		t.Fatalf("HTTP.validate: %v", err)
	}
	if err := cfg.DB.validate(); err != nil {
		t.Fatalf("DB.validate: %v", err)
	}
	if err := cfg.Registry.validate(); err != nil {
		t.Fatalf("Registry.validate: %v", err)
	}
}

func TestServeFlagOverridesConfigFile(t *testing.T) {
	viper.Reset()
	configFilePath = ""

	path := writeYAMLConfig(t, sampleConfig)
	cmd := newTestServeCmd()
	for flag, value := range map[string]string{
		"config":    path,
		"http-port": "9999",
		"db-dsn":    "file:/tmp/override.db",
	} {
		if err := cmd.Flags().Set(flag, value); err != nil {
			t.Fatal(err)
		}
	}

	if err := serveCmdLoadConfig(cmd); err != nil {
		t.Fatalf("serveCmdLoadConfig: %v", err)
	}

	var cfg CatalogServerConfig
	if err := viper.Unmarshal(&cfg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if cfg.HTTP.Port != "9999" {
		t.Fatalf("HTTP.Port=%q, want 9999", cfg.HTTP.Port)
	}
	if cfg.DB.DSN != "file:/tmp/override.db" {
		t.Fatalf("DB.DSN=%q, want override", cfg.DB.DSN)
	}
}

func TestServeErrorForInvalidConfigPath(t *testing.T) {
	viper.Reset()
	configFilePath = ""

	cmd := newTestServeCmd()
	if err := cmd.Flags().Set("config", "/no/such/file.yaml"); err != nil {
		t.Fatal(err)
	}

	if err := serveCmdLoadConfig(cmd); err == nil {
		t.Fatal("expected error reading config file")
	}
}

func TestHTTPConfigValidateRejectsMismatchedTLSPair(t *testing.T) {
	h := HTTPConfig{IP: "127.0.0.1", Port: "8080", CertPath: "/a.crt"}
	if err := h.validate(); err == nil {
		t.Fatal("expected error for cert without key")
	}
}

func TestDatabaseConfigValidateRejectsUnknownDriver(t *testing.T) {
	d := DatabaseConfig{Type: "mysql", DSN: "x"}
	if err := d.validate(); err == nil {
		t.Fatal("expected error for unsupported driver")
	}
}

func TestRegistryConfigValidateRejectsNonPositive(t *testing.T) {
	r := RegistryConfig{MaxSessions: 0, SessionStaleSec: 1, CleanupPeriodSec: 1}
	if err := r.validate(); err == nil {
		t.Fatal("expected error for non-positive max_sessions")
	}
}

func TestKeysConfigToKeysRejectsBadLength(t *testing.T) {
	k := KeysConfig{KeyX: "00", Scrambler: "00", ExheaderPublicKey: "00", CFAPublicKey: "00"}
	if _, err := k.toKeys(); err == nil {
		t.Fatal("expected error for short key_x")
	}
}
