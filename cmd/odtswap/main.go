package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dfryer1193/odtswap/document/application"
	"github.com/dfryer1193/odtswap/document/persistence"
	"github.com/dfryer1193/odtswap/internal/config"
	"github.com/dfryer1193/odtswap/internal/metrics"
	"github.com/dfryer1193/odtswap/internal/rest"
	"github.com/dfryer1193/odtswap/shared/db/sqlite"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

const shutdownTimeout = 5 * time.Second

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		log.Error().Err(err).Msg("odtswap failed")
		stop()
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	v := viper.New()
	var configPath string

	root := &cobra.Command{
		Use:           "odtswap",
		Short:         "Replace the background image of OpenDocument text files",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to a config file (yaml, json or toml)")
	root.PersistentFlags().String("log-level", "info", "log level (debug, info, warn, error)")
	root.PersistentFlags().String("log-format", "console", "log format (console or json)")
	root.PersistentFlags().String("scratch-dir", "", "directory for extracted archives (defaults to the system temp dir)")
	root.PersistentFlags().Bool("keep-scratch", false, "keep extracted archives for debugging")
	mustBind(v, "log_level", root.PersistentFlags().Lookup("log-level"))
	mustBind(v, "log_format", root.PersistentFlags().Lookup("log-format"))
	mustBind(v, "scratch_dir", root.PersistentFlags().Lookup("scratch-dir"))
	mustBind(v, "keep_scratch", root.PersistentFlags().Lookup("keep-scratch"))

	load := func() (*config.Config, error) {
		cfg, err := config.Load(v, configPath)
		if err != nil {
			return nil, err
		}
		if err := setupLogging(cfg); err != nil {
			return nil, err
		}
		return cfg, nil
	}

	root.AddCommand(newServeCmd(v, load), newReplaceCmd(load))
	return root
}

func mustBind(v *viper.Viper, key string, flag *pflag.Flag) {
	if err := v.BindPFlag(key, flag); err != nil {
		panic(fmt.Sprintf("failed to bind flag %s: %v", key, err))
	}
}

func newServeCmd(v *viper.Viper, load func() (*config.Config, error)) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the upload server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
	cmd.Flags().Int("port", 3000, "port to listen on")
	cmd.Flags().String("upload-dir", "uploads", "directory for uploaded files")
	cmd.Flags().String("output-dir", "outputs", "directory for generated documents")
	cmd.Flags().String("static-dir", "public", "directory served at /")
	cmd.Flags().String("db-path", "odtswap.db", "SQLite database for the conversion history")
	mustBind(v, "port", cmd.Flags().Lookup("port"))
	mustBind(v, "upload_dir", cmd.Flags().Lookup("upload-dir"))
	mustBind(v, "output_dir", cmd.Flags().Lookup("output-dir"))
	mustBind(v, "static_dir", cmd.Flags().Lookup("static-dir"))
	mustBind(v, "db_path", cmd.Flags().Lookup("db-path"))
	return cmd
}

func newReplaceCmd(load func() (*config.Config, error)) *cobra.Command {
	return &cobra.Command{
		Use:   "replace <source.odt> <image> <destination.odt>",
		Short: "Replace the first picture of a document without starting the server",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := load()
			if err != nil {
				return err
			}

			replacer := application.NewReplacer(
				application.WithScratchRoot(cfg.ScratchDir),
				application.WithKeepScratch(cfg.KeepScratch),
			)

			result, err := replacer.Replace(cmd.Context(), args[0], args[1], args[2])
			if err != nil {
				log.Error().Err(err).Str("source", args[0]).Msg("Failed to process ODT file")
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "replaced %s (%d bytes), style %s\n", result.PictureEntry, result.ReplacementBytes, result.Style)
			return nil
		},
	}
}

func setupLogging(cfg *config.Config) error {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFormat == "console" {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	if err := cfg.EnsureDirs(); err != nil {
		return err
	}

	database := sqlite.NewSQLiteDB(sqlite.NewSQLiteConfig(cfg.DBPath))
	if err := database.Connect(); err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	recorder := metrics.NewRecorder()
	replacer := application.NewReplacer(
		application.WithScratchRoot(cfg.ScratchDir),
		application.WithKeepScratch(cfg.KeepScratch),
	)
	conversions := application.NewConversionService(
		replacer,
		persistence.NewConversionRepository(database.DB()),
		cfg.OutputDir,
		recorder,
	)

	gin.SetMode(gin.ReleaseMode)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           rest.NewRouter(cfg, conversions, recorder),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Msgf("Server running on http://localhost:%d", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("failed to start server: %w", err)
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("failed to shutdown server: %w", err)
	}

	log.Info().Msg("Server stopped")
	return nil
}
