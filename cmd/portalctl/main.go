// Command portalctl exercises the portal session client from a terminal:
// sign in, inspect and refresh the session, and run the inactivity watcher.
package main

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/carelink/go-portal-session/backend"
	"github.com/carelink/go-portal-session/internal/config"
	"github.com/carelink/go-portal-session/session"
	"github.com/carelink/go-portal-session/store"
	"github.com/carelink/go-portal-session/store/filerepo"
)

func main() {
	root := &cobra.Command{
		Use:           "portalctl",
		Short:         "CareLink portal session tool",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.AddCommand(
		newLoginCommand(),
		newStatusCommand(),
		newRefreshCommand(),
		newWhoamiCommand(),
		newLogoutCommand(),
		newWatchCommand(),
	)

	if err := root.Execute(); err != nil {
		log.Error().Err(err).Msg("command failed")
		os.Exit(1)
	}
}

// app bundles everything a command needs.
type app struct {
	cfg     *config.Config
	store   *store.Store
	service *session.Service
}

// consoleNavigator prints navigation decisions; a terminal has no screens to
// switch between.
type consoleNavigator struct{}

func (consoleNavigator) NavigateTo(route session.Route, reason string) {
	if reason != "" {
		fmt.Printf("-> %s (%s)\n", route, reason)
		return
	}
	fmt.Printf("-> %s\n", route)
}

func newApp() (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	logger := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).Level(level).With().Timestamp().Logger()

	if err := os.MkdirAll(filepath.Dir(cfg.StorePath), 0o700); err != nil {
		return nil, err
	}
	repo, err := filerepo.New(cfg.StorePath, cfg.StorePassphrase)
	if err != nil {
		return nil, err
	}
	st := store.New(store.WithRepo(repo), store.WithLogger(logger))

	apiOptions := []backend.Option{backend.WithLogger(logger)}
	if cfg.DeviceID != "" {
		apiOptions = append(apiOptions, backend.WithDeviceID(cfg.DeviceID))
	}
	api, err := backend.NewClient(cfg.PortalBaseURL, apiOptions...)
	if err != nil {
		return nil, err
	}

	svc, err := session.NewService(
		session.Deps{API: api, Store: st, Navigator: consoleNavigator{}},
		session.WithLogger(logger),
	)
	if err != nil {
		return nil, err
	}

	return &app{cfg: cfg, store: st, service: svc}, nil
}

func banner() {
	figure.NewFigure("CareLink", "cybermedium", true).Print()
	fmt.Println()
}

func formatRemaining(d time.Duration) string {
	if d <= 0 {
		return "expired"
	}
	return d.Round(time.Second).String()
}
