package main

import (
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	pkgerrors "github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/Tyrowin/chatrelay/internal/config"
	"github.com/Tyrowin/chatrelay/internal/log"
	"github.com/Tyrowin/chatrelay/internal/server"
)

type serveOptions struct {
	configPath string
	envFile    string
	addr       string
	logLevel   string
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Starts the relay server.",
		Args:  cobra.NoArgs,
		RunE: func(*cobra.Command, []string) error {
			return runServe(opts)
		},
	}
	cmd.Flags().StringVar(&opts.configPath, "config", "", "path to a TOML config file")
	cmd.Flags().StringVar(&opts.envFile, "env-file", ".env", "path to a .env file; ignored when missing")
	cmd.Flags().StringVar(&opts.addr, "addr", "", "listen address, overrides config (e.g. :8080)")
	cmd.Flags().StringVar(&opts.logLevel, "log-level", "", "log level, overrides config")
	return cmd
}

// loadConfig resolves the effective configuration, flags taking precedence.
func loadConfig(opts *serveOptions) (config.Config, error) {
	if err := config.LoadDotEnv(opts.envFile); err != nil {
		return config.Config{}, err
	}
	cfg, err := config.Load(opts.configPath)
	if err != nil {
		return config.Config{}, pkgerrors.Wrap(err, "load config failed")
	}
	if opts.addr != "" {
		cfg.Port = opts.addr
	}
	if opts.logLevel != "" {
		cfg.LogLevel = opts.logLevel
	}
	return cfg, nil
}

func runServe(opts *serveOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	log.SetLogger(cfg.LogLevel, cfg.LogFormat)
	logger := logrus.StandardLogger()

	hub := server.NewHub(cfg, logger)
	httpServer := server.CreateServer(cfg.Port, server.SetupRoutes(hub))

	serverErr := make(chan error, 1)
	go func() {
		serverErr <- server.StartServer(httpServer)
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serverErr:
		if !errors.Is(err, http.ErrServerClosed) {
			return pkgerrors.Wrap(err, "http server failed")
		}
		return nil
	case sig := <-stop:
		logger.WithField("signal", sig.String()).Info("Shutdown requested")
	}

	shutdownErr := server.ShutdownServer(httpServer, cfg.ShutdownTimeout)
	if err := hub.Shutdown(cfg.ShutdownTimeout); err != nil {
		return pkgerrors.Wrap(err, "hub shutdown failed")
	}
	return shutdownErr
}
