package config

import (
	"testing"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
)

func TestLoad_Defaults(t *testing.T) {
	t.Setenv("DATABASE_MAX_OPEN_CONNS", "")
	t.Setenv("SESSION_COOLDOWN_SECONDS", "")
	t.Setenv("EMBEDDING_MODEL", "")
	t.Setenv("MATCH_THRESHOLD", "")
	t.Setenv("ATTENDANCE_TIMEZONE", "")

	cfg := Load()

	if cfg.Database.MaxOpenConns != 25 {
		t.Errorf("expected MaxOpenConns 25, got %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Attendance.Cooldown != 5*time.Second {
		t.Errorf("expected 5s cooldown, got %v", cfg.Attendance.Cooldown)
	}
	if cfg.Embedding.Model != "mock" {
		t.Errorf("expected model 'mock', got '%s'", cfg.Embedding.Model)
	}
	if cfg.Attendance.Location != time.UTC {
		t.Errorf("expected UTC location, got %v", cfg.Attendance.Location)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected port 8080, got %d", cfg.Web.Port)
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("SESSION_COOLDOWN_SECONDS", "10")
	t.Setenv("WEB_PORT", "9090")
	t.Setenv("ATTENDANCE_TIMEZONE", "Europe/Prague")
	t.Setenv("METRICS_ENABLED", "false")
	t.Setenv("WEB_ALLOWED_ORIGINS", "https://attendance.school.edu, ,https://admin.school.edu")

	cfg := Load()

	if cfg.Attendance.Cooldown != 10*time.Second {
		t.Errorf("expected 10s cooldown, got %v", cfg.Attendance.Cooldown)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Attendance.Location.String() != "Europe/Prague" {
		t.Errorf("expected Europe/Prague, got %s", cfg.Attendance.Location)
	}
	if cfg.Web.MetricsEnabled {
		t.Error("expected metrics to be disabled")
	}
	if len(cfg.Web.AllowedOrigins) != 2 || cfg.Web.AllowedOrigins[1] != "https://admin.school.edu" {
		t.Errorf("expected two allowed origins, got %v", cfg.Web.AllowedOrigins)
	}
}

func TestEnvInt_InvalidFallsBack(t *testing.T) {
	tests := []struct {
		name  string
		value string
		want  int
	}{
		{"empty", "", 7},
		{"not a number", "abc", 7},
		{"negative", "-3", 7},
		{"zero", "0", 7},
		{"valid", "12", 12},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("TEST_ENV_INT", tt.value)
			if got := envInt("TEST_ENV_INT", 7); got != tt.want {
				t.Errorf("envInt() = %d, want %d", got, tt.want)
			}
		})
	}
}

func TestMatchThreshold(t *testing.T) {
	tests := []struct {
		name     string
		model    string
		override float64
		want     float64
	}{
		{"mock calibration", "mock", 0, 0.30},
		{"buffalo calibration", "buffalo_l", 0, 0.45},
		{"unknown model falls back to mock", "unknown", 0, 0.30},
		{"explicit override wins", "buffalo_l", 0.8, 0.8},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv("EMBEDDING_MODEL", tt.model)
			t.Setenv("MATCH_THRESHOLD", "")
			cfg := Load()
			cfg.Matching.Threshold = tt.override

			if got := cfg.MatchThreshold(); got != tt.want {
				t.Errorf("MatchThreshold() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestDescriptorDim(t *testing.T) {
	t.Setenv("EMBEDDING_MODEL", "buffalo_l")
	cfg := Load()
	if cfg.DescriptorDim() != 512 {
		t.Errorf("expected 512 dims for buffalo_l, got %d", cfg.DescriptorDim())
	}

	cfg.Embedding.Model = "mock"
	if cfg.DescriptorDim() != 0 {
		t.Errorf("expected unconstrained dims for mock, got %d", cfg.DescriptorDim())
	}
}

func TestMatchThreshold_NoCalibration(t *testing.T) {
	cfg := &Config{}
	if got := cfg.MatchThreshold(); got != constants.DefaultMatchThreshold {
		t.Errorf("MatchThreshold() = %v, want %v", got, constants.DefaultMatchThreshold)
	}
}
