package config

import (
	_ "embed"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/kozaktomas/face-attendance/internal/constants"
	"gopkg.in/yaml.v3"
)

//go:embed calibration.yaml
var calibrationYAML []byte

type Config struct {
	Database    DatabaseConfig
	SIS         SISConfig
	Embedding   EmbeddingConfig
	Matching    MatchingConfig
	Attendance  AttendanceConfig
	Auth        AuthConfig
	Web         WebConfig
	Calibration CalibrationConfig
}

type DatabaseConfig struct {
	URL          string // PostgreSQL connection URL
	MaxOpenConns int    // Maximum open connections (default 25)
	MaxIdleConns int    // Maximum idle connections (default 5)
}

// SISConfig points at an optional student information system that owns the roster.
type SISConfig struct {
	DatabaseURL string // MariaDB DSN, e.g. sis:sis@tcp(mariadb:3306)/sis?parseTime=true
}

type EmbeddingConfig struct {
	URL   string // defaults to http://localhost:8000
	Model string // calibration entry used for the acceptance threshold, defaults to "mock"
}

type MatchingConfig struct {
	Threshold float64 // explicit override, 0 means use calibration for Embedding.Model
}

type AttendanceConfig struct {
	Cooldown time.Duration  // session creation cooldown per (faculty, subject, section)
	Location *time.Location // timezone used to normalize session dates to midnight
}

type AuthConfig struct {
	JWTSecret string
	TokenTTL  time.Duration
}

type WebConfig struct {
	Host           string
	Port           int
	AllowedOrigins []string // CORS whitelist in addition to localhost
	MetricsEnabled bool
}

type CalibrationConfig struct {
	Models map[string]ModelCalibration `yaml:"models"`
}

type ModelCalibration struct {
	Threshold float64 `yaml:"threshold"`
	Dim       int     `yaml:"dim"`
}

// envInt reads an environment variable and parses it as a positive integer.
// Returns the default value if the env var is unset, empty, or invalid.
func envInt(key string, defaultVal int) int {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if n, err := strconv.Atoi(s); err == nil && n > 0 {
		return n
	}
	return defaultVal
}

// envFloat reads an environment variable as a float in (0, 1].
func envFloat(key string, defaultVal float64) float64 {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f > 0 && f <= 1 {
		return f
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	s := os.Getenv(key)
	if s == "" {
		return defaultVal
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return defaultVal
}

func envString(key, defaultVal string) string {
	if s := os.Getenv(key); s != "" {
		return s
	}
	return defaultVal
}

// envList splits a comma-separated variable, dropping empty entries.
func envList(key string) []string {
	var out []string
	for item := range strings.SplitSeq(os.Getenv(key), ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}

// envLocation loads a timezone by name, falling back to UTC.
func envLocation(key string) *time.Location {
	name := os.Getenv(key)
	if name == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		return time.UTC
	}
	return loc
}

func Load() *Config {
	var calibration CalibrationConfig
	if err := yaml.Unmarshal(calibrationYAML, &calibration); err != nil {
		// Embedded file, a parse failure is a build defect.
		panic("failed to unmarshal embedded calibration.yaml: " + err.Error())
	}

	return &Config{
		Database: DatabaseConfig{
			URL:          os.Getenv("DATABASE_URL"),
			MaxOpenConns: envInt("DATABASE_MAX_OPEN_CONNS", 25),
			MaxIdleConns: envInt("DATABASE_MAX_IDLE_CONNS", 5),
		},
		SIS: SISConfig{
			DatabaseURL: os.Getenv("SIS_DATABASE_URL"),
		},
		Embedding: EmbeddingConfig{
			URL:   os.Getenv("EMBEDDING_URL"),
			Model: envString("EMBEDDING_MODEL", "mock"),
		},
		Matching: MatchingConfig{
			Threshold: envFloat("MATCH_THRESHOLD", 0),
		},
		Attendance: AttendanceConfig{
			Cooldown: time.Duration(envInt("SESSION_COOLDOWN_SECONDS", int(constants.DefaultSessionCooldown/time.Second))) * time.Second,
			Location: envLocation("ATTENDANCE_TIMEZONE"),
		},
		Auth: AuthConfig{
			JWTSecret: os.Getenv("JWT_SECRET"),
			TokenTTL:  time.Duration(envInt("JWT_TTL_HOURS", 12)) * time.Hour,
		},
		Web: WebConfig{
			Host:           envString("WEB_HOST", "0.0.0.0"),
			Port:           envInt("WEB_PORT", 8080),
			AllowedOrigins: envList("WEB_ALLOWED_ORIGINS"),
			MetricsEnabled: envBool("METRICS_ENABLED", true),
		},
		Calibration: calibration,
	}
}

// MatchThreshold returns the acceptance threshold for face matching.
// An explicit MATCH_THRESHOLD wins; otherwise the calibration entry for the
// configured embedding model is used, then the "mock" entry.
func (c *Config) MatchThreshold() float64 {
	if c.Matching.Threshold > 0 {
		return c.Matching.Threshold
	}
	if m, ok := c.Calibration.Models[c.Embedding.Model]; ok && m.Threshold > 0 {
		return m.Threshold
	}
	if m, ok := c.Calibration.Models["mock"]; ok && m.Threshold > 0 {
		return m.Threshold
	}
	return constants.DefaultMatchThreshold
}

// DescriptorDim returns the expected descriptor length for the configured model, or 0 if unknown.
func (c *Config) DescriptorDim() int {
	if m, ok := c.Calibration.Models[c.Embedding.Model]; ok {
		return m.Dim
	}
	return 0
}
