package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"github.com/ehr/patients/internal/config"
	"github.com/ehr/patients/internal/domain/patient"
	"github.com/ehr/patients/internal/platform/httperr"
	"github.com/ehr/patients/internal/platform/middleware"
	"github.com/ehr/patients/internal/platform/validation"
)

const version = "0.1.0"

func main() {
	rootCmd := &cobra.Command{
		Use:          "patients-server",
		Short:        "Patient record management API",
		SilenceUsage: true,
	}

	rootCmd.AddCommand(serveCmd())
	rootCmd.AddCommand(storeCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the patient API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			memory, _ := cmd.Flags().GetBool("memory")
			return runServer(memory)
		},
	}
	cmd.Flags().Bool("memory", false, "Keep patients in memory instead of DATA_FILE")
	return cmd
}

func storeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "store",
		Short: "Inspect the patient data file",
	}

	verifyCmd := &cobra.Command{
		Use:   "verify",
		Short: "Report stored records that fail validation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			svc := newService(cfg, false, newLogger(cfg, cmd.ErrOrStderr()))

			total, problems, err := svc.Verify(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Checked %d record(s) in %s\n", total, cfg.DataFile)
			for _, p := range problems {
				fmt.Fprintf(out, "  %-12s %s\n", p.ID, p.Reason)
			}
			if len(problems) > 0 {
				return fmt.Errorf("%d corrupt record(s)", len(problems))
			}
			fmt.Fprintln(out, "All records are valid.")
			return nil
		},
	}
	cmd.AddCommand(verifyCmd)

	viewCmd := &cobra.Command{
		Use:   "view",
		Short: "Print stored patients with BMI and verdict",
		RunE: func(cmd *cobra.Command, args []string) error {
			sortBy, _ := cmd.Flags().GetString("sort-by")
			order, _ := cmd.Flags().GetString("order")

			cfg, err := config.Load()
			if err != nil {
				return err
			}
			svc := newService(cfg, false, newLogger(cfg, cmd.ErrOrStderr()))

			entries, err := svc.Sort(cmd.Context(), sortBy, order)
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(entries)
		},
	}
	viewCmd.Flags().String("sort-by", "bmi", "Sort field: height, weight or bmi")
	viewCmd.Flags().String("order", "asc", "Sort order: asc or desc")
	cmd.AddCommand(viewCmd)

	return cmd
}

func newLogger(cfg *config.Config, w io.Writer) zerolog.Logger {
	if cfg.IsDev() {
		return zerolog.New(zerolog.ConsoleWriter{Out: w}).With().Timestamp().Logger()
	}
	return zerolog.New(w).With().Timestamp().Logger()
}

func newService(cfg *config.Config, memory bool, logger zerolog.Logger) *patient.Service {
	var store patient.Store
	if memory {
		store = patient.NewMemoryStore()
	} else {
		store = patient.NewFileStore(afero.NewOsFs(), cfg.DataFile, logger)
	}
	return patient.NewService(store, validation.New(), logger)
}

// newServer builds the echo instance with middleware and routes.
func newServer(cfg *config.Config, svc *patient.Service, logger zerolog.Logger) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = httperr.Handler(logger)

	rateLimitCfg := middleware.RateLimitConfig{
		RequestsPerSecond: cfg.RateLimitRPS,
		BurstSize:         cfg.RateLimitBurst,
	}

	// Global middleware
	e.Use(middleware.Recovery(logger))
	e.Use(middleware.RequestID())
	e.Use(middleware.Logger(logger))
	e.Use(middleware.CORS(cfg.CORSOrigins))
	e.Use(middleware.SecurityHeaders())
	e.Use(middleware.Sanitize(logger))
	e.Use(echomw.BodyLimit(cfg.BodyLimit))
	e.Use(middleware.RateLimit(rateLimitCfg))

	e.GET("/health", func(c echo.Context) error {
		return c.JSON(http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version,
		})
	})

	patient.NewHandler(svc).RegisterRoutes(e.Group(""))
	return e
}

func runServer(memory bool) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	logger := newLogger(cfg, os.Stdout)

	svc := newService(cfg, memory, logger)
	e := newServer(cfg, svc, logger)

	if memory {
		logger.Warn().Msg("using in-memory patient store; data will not survive restart")
	} else {
		logger.Info().Str("data_file", cfg.DataFile).Msg("using file patient store")
	}

	// Graceful shutdown
	go func() {
		addr := ":" + cfg.Port
		logger.Info().Str("addr", addr).Msg("starting server")
		if err := e.Start(addr); err != nil && err != http.ErrServerClosed {
			logger.Fatal().Err(err).Msg("server error")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info().Msg("shutting down server")
	ctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		return fmt.Errorf("server shutdown failed: %w", err)
	}
	logger.Info().Msg("server stopped")
	return nil
}
