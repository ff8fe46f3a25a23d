// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package cmd

import (
	"context"
	"crypto/tls"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/wwylele/ncch-catalog/api/handlers"
	"github.com/wwylele/ncch-catalog/internal/catalog"
	"github.com/wwylele/ncch-catalog/internal/registry"
	"github.com/wwylele/ncch-catalog/internal/upload"
	"github.com/wwylele/ncch-catalog/internal/verify"
)

var configFilePath string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the NCCH catalog HTTP API",
	PreRunE: func(cmd *cobra.Command, args []string) error {
		return serveCmdLoadConfig(cmd)
	},
	RunE: func(cmd *cobra.Command, args []string) error {
		var cfg CatalogServerConfig
		if err := viper.Unmarshal(&cfg); err != nil {
			return fmt.Errorf("parse configuration: %w", err)
		}
		return runServe(cmd.Context(), &cfg)
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().String("config", "", "Pathname of the configuration file")
	serveCmd.Flags().Bool("debug", false, "Print debug log output")
	serveCmd.Flags().String("http-ip", "", "IP address to listen on")
	serveCmd.Flags().String("http-port", "", "Port to listen on")
	serveCmd.Flags().String("db-type", "", "Catalog database driver (sqlite or postgres)")
	serveCmd.Flags().String("db-dsn", "", "Catalog database DSN")
}

func serveCmdLoadConfig(cmd *cobra.Command) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	var err error
	configFilePath, err = cmd.Flags().GetString("config")
	if err != nil {
		return fmt.Errorf("failed to get config flag: %w", err)
	}

	if configFilePath != "" {
		slog.Debug("loading configuration file", "path", configFilePath)
		viper.SetConfigFile(configFilePath)
		if err := viper.ReadInConfig(); err != nil {
			return fmt.Errorf("configuration file read failed: %w", err)
		}
	}

	if viper.GetBool("debug") {
		logLevel.Set(slog.LevelDebug)
	}

	viperBindFlagOverride("http.ip", "http-ip")
	viperBindFlagOverride("http.port", "http-port")
	viperBindFlagOverride("db.type", "db-type")
	viperBindFlagOverride("db.dsn", "db-dsn")

	return nil
}

// viperBindFlagOverride applies flagName's value over configKey only when
// the flag was actually set, since an unset string flag defaults to "" and
// would otherwise clobber a value already loaded from the config file.
func viperBindFlagOverride(configKey, flagName string) {
	if v := viper.GetString(flagName); v != "" {
		viper.Set(configKey, v)
	}
}

func runServe(ctx context.Context, cfg *CatalogServerConfig) error {
	if err := cfg.HTTP.validate(); err != nil {
		return err
	}
	if err := cfg.DB.validate(); err != nil {
		return err
	}
	if err := cfg.Registry.validate(); err != nil {
		return err
	}

	keys, err := cfg.Keys.toKeys()
	if err != nil {
		return fmt.Errorf("parse keys configuration: %w", err)
	}

	store, err := catalog.Open(cfg.DB.Type, cfg.DB.DSN)
	if err != nil {
		return fmt.Errorf("open catalog database: %w", err)
	}
	if err := store.Migrate(); err != nil {
		return fmt.Errorf("migrate catalog database: %w", err)
	}

	reg := registry.New(cfg.Registry.MaxSessions, cfg.Registry.staleAfter())

	cleanupCtx, cancelCleanup := context.WithCancel(ctx)
	defer cancelCleanup()
	go reg.RunCleanupLoop(cleanupCtx, cfg.Registry.cleanupPeriod())

	build := func(id uint32) registry.Session {
		return upload.New(id, keys, store)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /post_ncch", handlers.PostNcch(reg, build))
	mux.HandleFunc("POST /append_ncch/{session_id}", handlers.AppendNcch(reg))
	mux.HandleFunc("GET /ncch/{ncch_id}/{info_type}", handlers.NcchInfo(store))
	mux.HandleFunc("GET /query_ncch", handlers.QueryNcch(store))
	mux.HandleFunc("GET /query_ncch_count", handlers.QueryNcchCount(store))

	server := NewServer(cfg.HTTP.ListenAddress(), mux, cfg.HTTP.UseTLS(), cfg.HTTP.CertPath, cfg.HTTP.KeyPath)
	slog.Info("starting server", "addr", cfg.HTTP.ListenAddress())
	return server.Start()
}

// Server is the process's HTTP(S) listener, with graceful shutdown on
// SIGINT/SIGTERM.
type Server struct {
	addr     string
	handler  http.Handler
	useTLS   bool
	certPath string
	keyPath  string
}

// NewServer creates a Server listening on addr.
func NewServer(addr string, handler http.Handler, useTLS bool, certPath, keyPath string) *Server {
	return &Server{addr: addr, handler: handler, useTLS: useTLS, certPath: certPath, keyPath: keyPath}
}

// Start listens and serves until the process receives SIGINT or SIGTERM,
// then shuts down gracefully.
func (s *Server) Start() error {
	srv := &http.Server{
		Handler:           s.handler,
		ReadHeaderTimeout: 3 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		slog.Debug("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Debug("server forced to shutdown", "error", err)
		}
	}()

	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return err
	}
	defer func() { _ = lis.Close() }()
	slog.Info("listening", "addr", lis.Addr().String())

	if s.useTLS {
		preferredCipherSuites := []uint16{
			tls.TLS_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
			tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		}
		srv.TLSConfig = &tls.Config{
			MinVersion:   tls.VersionTLS12,
			CipherSuites: preferredCipherSuites,
		}
		return srv.ServeTLS(lis, s.certPath, s.keyPath)
	}
	return srv.Serve(lis)
}
