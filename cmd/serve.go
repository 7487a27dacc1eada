package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"plum/internal/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the cache service",
	Long:  `Start the Plum scene cache service with the specified configuration.`,
	RunE:  runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	flags := serveCmd.Flags()

	// Server flags
	flags.StringP("host", "H", "0.0.0.0", "server host")
	flags.IntP("port", "p", 8080, "server port")
	flags.String("mode", "release", "server mode (debug/release/test)")

	// Store flags
	flags.String("store-type", "sqlite", "cache store backend (mongo/sqlite)")
	flags.String("sqlite-path", "data/plum.db", "sqlite database path")

	// AI flags
	flags.String("ai-provider", "ark", "LLM provider (openai/azure/ark/ark-sdk)")
	flags.String("ai-model", "", "LLM model name")
	flags.String("ai-api-key", "", "LLM API key (recommend using env: PLUM_AI_API_KEY)")

	// Scene cache flags
	flags.Bool("enable-reuse", true, "enable cache reuse (false forces generation)")
	flags.Int("no-repeat-window", 3, "no-repeat window in segments")

	// Log flags
	flags.String("log-level", "info", "log level (trace/debug/info/warn/error/fatal)")
	flags.String("log-format", "console", "log format (json/console)")

	// Bind flags to viper
	_ = viper.BindPFlag("server.host", flags.Lookup("host"))
	_ = viper.BindPFlag("server.port", flags.Lookup("port"))
	_ = viper.BindPFlag("server.mode", flags.Lookup("mode"))
	_ = viper.BindPFlag("store.type", flags.Lookup("store-type"))
	_ = viper.BindPFlag("store.sqlite.path", flags.Lookup("sqlite-path"))
	_ = viper.BindPFlag("ai.provider", flags.Lookup("ai-provider"))
	_ = viper.BindPFlag("ai.model", flags.Lookup("ai-model"))
	_ = viper.BindPFlag("ai.api_key", flags.Lookup("ai-api-key"))
	_ = viper.BindPFlag("scene_cache.enable_reuse", flags.Lookup("enable-reuse"))
	_ = viper.BindPFlag("scene_cache.no_repeat_window", flags.Lookup("no-repeat-window"))
	_ = viper.BindPFlag("log.level", flags.Lookup("log-level"))
	_ = viper.BindPFlag("log.format", flags.Lookup("log-format"))
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := GetConfig()

	// Validate config
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	// Create server
	srv, err := server.New(cfg)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	// Graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	group, ctx := errgroup.WithContext(ctx)

	group.Go(func() error {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(sigCh)

		select {
		case sig := <-sigCh:
			log.Info().Str("signal", sig.String()).Msg("received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		return nil
	})

	group.Go(func() error {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Info().
			Str("addr", addr).
			Str("mode", cfg.Server.Mode).
			Str("store", cfg.Store.Type).
			Msg("starting server")
		return srv.Run(ctx, addr)
	})

	return group.Wait()
}
