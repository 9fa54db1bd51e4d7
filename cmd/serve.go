package cmd

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/kozaktomas/face-attendance/internal/attendance"
	"github.com/kozaktomas/face-attendance/internal/config"
	"github.com/kozaktomas/face-attendance/internal/constants"
	"github.com/kozaktomas/face-attendance/internal/database"
	"github.com/kozaktomas/face-attendance/internal/database/mariadb"
	"github.com/kozaktomas/face-attendance/internal/database/postgres"
	"github.com/kozaktomas/face-attendance/internal/embedding"
	"github.com/kozaktomas/face-attendance/internal/metrics"
	"github.com/kozaktomas/face-attendance/internal/ratelimit"
	"github.com/kozaktomas/face-attendance/internal/web"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the web server",
	Long: `Start the Face Attendance API server.

The server exposes login, enrollment and attendance session endpoints under
/api/v1, plus Prometheus metrics on /metrics. When SIS_DATABASE_URL is set,
rosters are read from the student information system instead of the local
students table.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (overrides WEB_PORT)")
	serveCmd.Flags().String("host", "", "Host to bind to (overrides WEB_HOST)")
}

// openDatabase connects to PostgreSQL and applies pending migrations.
func openDatabase(ctx context.Context, cfg *config.Config) (*postgres.Pool, error) {
	if cfg.Database.URL == "" {
		return nil, errors.New("DATABASE_URL environment variable is required")
	}
	slog.Info("connecting to PostgreSQL")
	return postgres.Open(ctx, &cfg.Database)
}

// resolveRoster picks the roster source: the SIS when configured, local enrollments otherwise.
func resolveRoster(cfg *config.Config, students *postgres.StudentRepository) (database.RosterReader, func(), error) {
	if cfg.SIS.DatabaseURL == "" {
		return students, func() {}, nil
	}
	sis, err := mariadb.NewPool(cfg.SIS.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to SIS: %w", err)
	}
	slog.Info("reading rosters from SIS database")
	return sis, func() { _ = sis.Close() }, nil
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()
	if port := mustGetInt(cmd, "port"); port > 0 {
		cfg.Web.Port = port
	}
	if host := mustGetString(cmd, "host"); host != "" {
		cfg.Web.Host = host
	}
	if cfg.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET environment variable is required")
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	pool, err := openDatabase(ctx, cfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	students := postgres.NewStudentRepository(pool)
	roster, closeRoster, err := resolveRoster(cfg, students)
	if err != nil {
		return err
	}
	defer closeRoster()

	detector := embedding.NewClient(cfg.Embedding.URL, cfg.Embedding.Model)
	limiter := ratelimit.NewCooldown(cfg.Attendance.Cooldown)
	go limiter.RunJanitor(ctx, constants.RateLimitJanitorInterval)

	var m *metrics.Manager
	if cfg.Web.MetricsEnabled {
		m = metrics.New("")
	}

	threshold := cfg.MatchThreshold()
	service := attendance.NewService(roster, postgres.NewSessionRepository(pool), limiter, threshold,
		attendance.WithDetector(detector),
		attendance.WithMetrics(m),
		attendance.WithLocation(cfg.Attendance.Location),
		attendance.WithDescriptorDim(cfg.DescriptorDim()),
	)
	slog.Info("attendance service ready",
		"model", detector.Model(), "threshold", threshold, "descriptor_dim", cfg.DescriptorDim(),
		"cooldown", cfg.Attendance.Cooldown, "timezone", cfg.Attendance.Location.String())

	server := web.NewServer(cfg, web.Dependencies{
		Service:  service,
		Faculty:  postgres.NewFacultyRepository(pool),
		Students: students,
		Detector: detector,
		Tokens:   middleware.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.TokenTTL),
		Metrics:  m,
	})

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer shutdownCancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			slog.Error("error during shutdown", "error", err)
		}
	}()

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
