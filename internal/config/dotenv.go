package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// LoadDotEnv loads environment variables from a .env file if present.
// Existing environment variables are not overwritten.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return godotenv.Load(path)
}

// Theme is a votable playlist in the external catalog.
type Theme struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type Config struct {
	Port                     string
	Env                      string
	LogLevel                 string
	DBDriver                 string
	DatabaseURL              string
	DBMaxOpenConns           int
	DBMaxIdleConns           int
	DBConnMaxLifetimeSeconds int
	DBConnMaxIdleTimeSeconds int
	AutoMigrate              bool
	VoteSeconds              int
	AnswerSeconds            int
	PauseSeconds             int
	CatalogBaseURL           string
	CatalogTimeoutSeconds    int
	Themes                   []Theme
	JWTSecret                string
	RequireAuth              bool
	RedactUnrevealed         bool
	AllowedOrigins           []string
	ChatRatePerSecond        float64
	ChatBurst                int
}

func DefaultThemes() []Theme {
	return []Theme{
		{ID: "9563400362", Name: "Rap FR"},
		{ID: "1363560485", Name: "Pop Internationale"},
		{ID: "751764391", Name: "Années 2000"},
		{ID: "1306931615", Name: "Rock"},
		{ID: "3153080842", Name: "Afrobeat"},
		{ID: "10153594502", Name: "Electro"},
	}
}

func Default() Config {
	return Config{
		Port:                     "8080",
		Env:                      "development",
		LogLevel:                 "info",
		DBDriver:                 "postgres",
		DBMaxOpenConns:           10,
		DBMaxIdleConns:           10,
		DBConnMaxLifetimeSeconds: 300,
		DBConnMaxIdleTimeSeconds: 60,
		AutoMigrate:              true,
		VoteSeconds:              10,
		AnswerSeconds:            30,
		PauseSeconds:             10,
		CatalogBaseURL:           "https://api.deezer.com",
		CatalogTimeoutSeconds:    5,
		Themes:                   DefaultThemes(),
		RedactUnrevealed:         true,
		AllowedOrigins:           []string{"http://localhost:3000"},
		ChatRatePerSecond:        5,
		ChatBurst:                10,
	}
}

func Load() Config {
	cfg := Default()
	if raw := os.Getenv("PORT"); raw != "" {
		cfg.Port = raw
	}
	if raw := os.Getenv("ENV"); raw != "" {
		cfg.Env = raw
	}
	if raw := os.Getenv("LOG_LEVEL"); raw != "" {
		cfg.LogLevel = raw
	}
	if raw := os.Getenv("DB_DRIVER"); raw == "postgres" || raw == "sqlite" {
		cfg.DBDriver = raw
	}
	if raw := os.Getenv("DATABASE_URL"); raw != "" {
		cfg.DatabaseURL = raw
	}
	if raw := os.Getenv("DB_MAX_OPEN_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxOpenConns = value
		}
	}
	if raw := os.Getenv("DB_MAX_IDLE_CONNS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBMaxIdleConns = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_LIFETIME_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxLifetimeSeconds = value
		}
	}
	if raw := os.Getenv("DB_CONN_MAX_IDLE_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.DBConnMaxIdleTimeSeconds = value
		}
	}
	if raw := os.Getenv("AUTO_MIGRATE"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.AutoMigrate = value
		}
	}
	if raw := os.Getenv("VOTE_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.VoteSeconds = value
		}
	}
	if raw := os.Getenv("ANSWER_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.AnswerSeconds = value
		}
	}
	if raw := os.Getenv("PAUSE_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value >= 0 {
			cfg.PauseSeconds = value
		}
	}
	if raw := os.Getenv("CATALOG_BASE_URL"); raw != "" {
		cfg.CatalogBaseURL = strings.TrimRight(raw, "/")
	}
	if raw := os.Getenv("CATALOG_TIMEOUT_SECONDS"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.CatalogTimeoutSeconds = value
		}
	}
	if raw := os.Getenv("THEMES"); raw != "" {
		if themes := ParseThemes(raw); len(themes) > 0 {
			cfg.Themes = themes
		}
	}
	if raw := os.Getenv("JWT_SECRET"); raw != "" {
		cfg.JWTSecret = raw
	}
	if raw := os.Getenv("REQUIRE_AUTH"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.RequireAuth = value
		}
	}
	if raw := os.Getenv("REDACT_UNREVEALED"); raw != "" {
		if value, err := strconv.ParseBool(raw); err == nil {
			cfg.RedactUnrevealed = value
		}
	}
	if raw := os.Getenv("ALLOWED_ORIGINS"); raw != "" {
		origins := splitList(raw)
		if len(origins) > 0 {
			cfg.AllowedOrigins = origins
		}
	}
	if raw := os.Getenv("CHAT_RATE_PER_SECOND"); raw != "" {
		if value, err := strconv.ParseFloat(raw, 64); err == nil && value > 0 {
			cfg.ChatRatePerSecond = value
		}
	}
	if raw := os.Getenv("CHAT_BURST"); raw != "" {
		if value, err := strconv.Atoi(raw); err == nil && value > 0 {
			cfg.ChatBurst = value
		}
	}
	return cfg
}

// ParseThemes reads "id:name,id:name". Entries without an id are skipped;
// a missing name falls back to the id.
func ParseThemes(raw string) []Theme {
	themes := make([]Theme, 0)
	seen := make(map[string]struct{})
	for _, item := range splitList(raw) {
		id, name, _ := strings.Cut(item, ":")
		id = strings.TrimSpace(id)
		name = strings.TrimSpace(name)
		if id == "" {
			continue
		}
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		if name == "" {
			name = id
		}
		themes = append(themes, Theme{ID: id, Name: name})
	}
	return themes
}

func (c Config) VoteWindow() time.Duration {
	return time.Duration(c.VoteSeconds) * time.Second
}

func (c Config) AnswerWindow() time.Duration {
	return time.Duration(c.AnswerSeconds) * time.Second
}

func (c Config) RevealPause() time.Duration {
	return time.Duration(c.PauseSeconds) * time.Second
}

func (c Config) CatalogTimeout() time.Duration {
	return time.Duration(c.CatalogTimeoutSeconds) * time.Second
}

func (c Config) Production() bool {
	return c.Env == "production"
}

func splitList(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
