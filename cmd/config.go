// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"crypto/rsa"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/wwylele/ncch-catalog/internal/crypto3ds"
	"github.com/wwylele/ncch-catalog/internal/verify"
)

// LogConfig configures the server's structured logger.
type LogConfig struct {
	Level string `mapstructure:"level"`
}

// HTTPConfig configures the server's HTTP endpoint.
type HTTPConfig struct {
	CertPath string `mapstructure:"cert"`
	KeyPath  string `mapstructure:"key"`
	IP       string `mapstructure:"ip"`
	Port     string `mapstructure:"port"`
}

// ListenAddress returns the concatenated IP:Port address for listening.
func (h *HTTPConfig) ListenAddress() string {
	return h.IP + ":" + h.Port
}

// UseTLS returns true if TLS should be used (cert and key are both set).
func (h *HTTPConfig) UseTLS() bool {
	return h.CertPath != "" && h.KeyPath != ""
}

func (h *HTTPConfig) validate() error {
	if h.IP == "" {
		return errors.New("the server's HTTP IP address is required")
	}
	if h.Port == "" {
		return errors.New("the server's HTTP port is required")
	}
	if (h.CertPath == "" && h.KeyPath != "") || (h.CertPath != "" && h.KeyPath == "") {
		return errors.New("both certificate and key must be provided together, or neither")
	}
	return nil
}

// DatabaseConfig configures the catalog's backing store.
type DatabaseConfig struct {
	Type string `mapstructure:"type"`
	DSN  string `mapstructure:"dsn"`
}

func (dc *DatabaseConfig) validate() error {
	if dc.DSN == "" {
		return errors.New("database configuration error: dsn is required")
	}
	dc.Type = strings.ToLower(dc.Type)
	if dc.Type != "sqlite" && dc.Type != "postgres" {
		return fmt.Errorf("unsupported database type: %s (must be 'sqlite' or 'postgres')", dc.Type)
	}
	return nil
}

// KeysConfig configures the cryptographic material the upload protocol
// verifies NCCH containers against: the scrambler inputs used to derive a
// content's AES key, and the two RSA public keys: the exheader key, which
// verifies a CXI's exheader signature, and the CFA key, which verifies a
// CFA's NCCH header signature.
//
// KeyX and Scrambler are 16-byte AES keys, hex-encoded. ExheaderPublicKey
// and CFAPublicKey are RSA-2048 moduli, hex-encoded (exponent is fixed at
// 0x10001, as the format requires).
type KeysConfig struct {
	KeyX              string `mapstructure:"key_x"`
	Scrambler         string `mapstructure:"scrambler"`
	ExheaderPublicKey string `mapstructure:"exheader_public_key"`
	CFAPublicKey      string `mapstructure:"cfa_public_key"`
}

func parseKey128(name, s string) (crypto3ds.Key128, error) {
	var k crypto3ds.Key128
	b, err := hex.DecodeString(s)
	if err != nil {
		return k, fmt.Errorf("%s: invalid hex: %w", name, err)
	}
	if len(b) != len(k) {
		return k, fmt.Errorf("%s: must be %d bytes, got %d", name, len(k), len(b))
	}
	copy(k[:], b)
	return k, nil
}

func parseRSAModulus(name, s string) (*rsa.PublicKey, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("%s: invalid hex: %w", name, err)
	}
	return crypto3ds.PublicKeyFromModulus(b), nil
}

// toKeys parses the configured hex strings into the cryptographic material
// the upload protocol consumes directly.
func (k *KeysConfig) toKeys() (verify.Keys, error) {
	keyX, err := parseKey128("key_x", k.KeyX)
	if err != nil {
		return verify.Keys{}, err
	}
	scrambler, err := parseKey128("scrambler", k.Scrambler)
	if err != nil {
		return verify.Keys{}, err
	}
	exheaderKey, err := parseRSAModulus("exheader_public_key", k.ExheaderPublicKey)
	if err != nil {
		return verify.Keys{}, err
	}
	cfaKey, err := parseRSAModulus("cfa_public_key", k.CFAPublicKey)
	if err != nil {
		return verify.Keys{}, err
	}

	return verify.Keys{
		KeyX:              keyX,
		ScramblerConstant: scrambler,
		ExheaderPublicKey: exheaderKey,
		CFAPublicKey:      cfaKey,
	}, nil
}

// RegistryConfig configures the upload session registry's admission control
// and cleanup sweep.
type RegistryConfig struct {
	MaxSessions      int `mapstructure:"max_sessions"`
	SessionStaleSec  int `mapstructure:"session_stale_seconds"`
	CleanupPeriodSec int `mapstructure:"cleanup_period_seconds"`
}

func (r *RegistryConfig) validate() error {
	if r.MaxSessions <= 0 {
		return errors.New("registry.max_sessions must be positive")
	}
	if r.SessionStaleSec <= 0 {
		return errors.New("registry.session_stale_seconds must be positive")
	}
	if r.CleanupPeriodSec <= 0 {
		return errors.New("registry.cleanup_period_seconds must be positive")
	}
	return nil
}

func (r *RegistryConfig) staleAfter() time.Duration {
	return time.Duration(r.SessionStaleSec) * time.Second
}

func (r *RegistryConfig) cleanupPeriod() time.Duration {
	return time.Duration(r.CleanupPeriodSec) * time.Second
}

// CatalogServerConfig holds the full contents of the configuration file.
type CatalogServerConfig struct {
	Log      LogConfig      `mapstructure:"log"`
	HTTP     HTTPConfig     `mapstructure:"http"`
	DB       DatabaseConfig `mapstructure:"db"`
	Keys     KeysConfig     `mapstructure:"keys"`
	Registry RegistryConfig `mapstructure:"registry"`
}
