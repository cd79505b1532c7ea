// Command dispatcher runs the dispenser-calibration automation
// engine's HTTP/WebSocket API and background job queue. Grounded on
// the teacher's cmd/quaero main.go startup sequence (config -> logger
// -> banner -> app -> server -> graceful shutdown on signal).
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ternarybob/arbor"
	arbormodels "github.com/ternarybob/arbor/models"
	"github.com/ternarybob/banner"

	"github.com/fossawork/dispatcher/internal/app"
	"github.com/fossawork/dispatcher/internal/config"
	"github.com/fossawork/dispatcher/internal/server"
)

type configPaths []string

func (c *configPaths) String() string { return fmt.Sprintf("%v", *c) }
func (c *configPaths) Set(value string) error {
	*c = append(*c, value)
	return nil
}

func main() {
	var configFiles configPaths
	flag.Var(&configFiles, "config", "configuration file path (repeatable; later files override earlier ones)")
	port := flag.Int("port", 0, "server port (overrides config)")
	flag.Parse()

	cfg, err := config.Load(configFiles...)
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("failed to load configuration")
		os.Exit(1)
	}
	if *port != 0 {
		cfg.Server.Port = *port
	}

	masterKey, err := config.MasterKey()
	if err != nil {
		arbor.NewLogger().Fatal().Err(err).Msg("startup aborted")
		os.Exit(1)
	}

	logger := arbor.NewLogger().
		WithConsoleWriter(arbormodels.WriterConfiguration{
			Type:       arbormodels.LogWriterTypeConsole,
			TimeFormat: "15:04:05",
			TextOutput: true,
		}).
		WithLevelFromString(cfg.Logging.Level)

	printBanner(cfg)

	application, err := app.New(cfg, masterKey, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize application")
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := application.Start(ctx); err != nil {
		logger.Fatal().Err(err).Msg("failed to start application")
		os.Exit(1)
	}

	tokens := loadTokenStore(cfg)
	srv := server.New(application, tokens)

	go func() {
		defer func() {
			if r := recover(); r != nil {
				logger.Fatal().Str("panic", fmt.Sprintf("%v", r)).Msg("server goroutine panicked")
			}
		}()
		if err := srv.Start(); err != nil {
			logger.Fatal().Err(err).Msg("server failed")
		}
	}()

	logger.Info().
		Str("url", fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)).
		Msg("dispatcher ready - press Ctrl+C to stop")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	logger.Info().Msg("shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}
	application.Shutdown()
	logger.Info().Msg("dispatcher stopped")
}

func printBanner(cfg *config.Config) {
	b := banner.New().
		SetStyle(banner.StyleDouble).
		SetBorderColor(banner.ColorGreen).
		SetTextColor(banner.ColorWhite).
		SetBold(true).
		SetWidth(72)

	fmt.Println()
	b.PrintTopLine()
	b.PrintCenteredText("DISPATCHER")
	b.PrintCenteredText("Dispenser Calibration Automation Engine")
	b.PrintSeparatorLine()
	b.PrintKeyValue("Environment", cfg.Environment, 14)
	b.PrintKeyValue("Listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port), 14)
	b.PrintKeyValue("Dev mode", fmt.Sprintf("%v", cfg.DevMode), 14)
	b.PrintBottomLine()
	fmt.Println()
}

// loadTokenStore builds the bearer-token table from config (spec §6
// bearer-token auth; tokens are operator-provisioned, see config.AuthConfig).
func loadTokenStore(cfg *config.Config) server.StaticTokenStore {
	tokens := make(server.StaticTokenStore, len(cfg.Auth.Tokens))
	for _, t := range cfg.Auth.Tokens {
		tokens[t.Token] = server.Principal{UserID: t.UserID, IsAdmin: t.IsAdmin}
	}
	return tokens
}
