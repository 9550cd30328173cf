// Package config provides application configuration.
package config

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ashureev/roomrelay/internal/clock"
	"github.com/ashureev/roomrelay/internal/domain"
)

const defaultRooms = "room1:Room 1,room2:Room 2,room3:Room 3,room4:Room 4"

// Telegram accepts 1-256 characters from this set as a webhook secret token.
var webhookSecretPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,256}$`)

// Config holds all application configuration.
type Config struct {
	BotToken       string
	OperatorChatID int64
	DBPath         string
	Timezone       string
	ResetCutover   string
	Rooms          []domain.Room
	Port           string
	WebhookURL     string // empty = long polling
	WebhookSecret  string
	AllowedOrigins []string

	MappingRetention    time.Duration // 0 = keep forever
	EventFeedSize       int
	MaxConcurrentEvents int

	location *time.Location
	cutover  time.Duration
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg, err := fromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// LoadStorage reads only what offline commands need to open the database.
func LoadStorage() (*Config, error) {
	cfg, err := fromEnv()
	if err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if err := cfg.validateStorage(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

func fromEnv() (*Config, error) {
	operator, err := getEnvInt64("OPERATOR_CHAT_ID", 0)
	if err != nil {
		return nil, err
	}
	retention, err := getEnvDuration("RELAY_MAPPING_RETENTION", 0)
	if err != nil {
		return nil, err
	}
	rooms, err := ParseRooms(getEnv("ROOMS", defaultRooms))
	if err != nil {
		return nil, err
	}

	return &Config{
		BotToken:            getEnv("TELEGRAM_BOT_TOKEN", ""),
		OperatorChatID:      operator,
		DBPath:              getEnv("DB_PATH", "./data/user_rooms.db"),
		Timezone:            getEnv("TIMEZONE", "Asia/Jerusalem"),
		ResetCutover:        getEnv("RESET_CUTOVER", "09:00"),
		Rooms:               rooms,
		Port:                getEnv("PORT", "8080"),
		WebhookURL:          getEnv("WEBHOOK_URL", ""),
		WebhookSecret:       getEnv("WEBHOOK_SECRET", ""),
		AllowedOrigins:      splitList(getEnv("CORS_ALLOWED_ORIGINS", "")),
		MappingRetention:    retention,
		EventFeedSize:       getEnvInt("EVENT_FEED_SIZE", 200),
		MaxConcurrentEvents: getEnvInt("MAX_CONCURRENT_EVENTS", 64),
	}, nil
}

// Validate checks that all required configuration fields are set.
func (c *Config) Validate() error {
	if c.BotToken == "" {
		return fmt.Errorf("TELEGRAM_BOT_TOKEN cannot be empty")
	}
	if c.OperatorChatID == 0 {
		return fmt.Errorf("OPERATOR_CHAT_ID must be set")
	}
	if c.Port == "" {
		return fmt.Errorf("PORT cannot be empty")
	}
	if c.WebhookURL != "" {
		if !strings.HasPrefix(c.WebhookURL, "https://") {
			return fmt.Errorf("WEBHOOK_URL must use https")
		}
		if !webhookSecretPattern.MatchString(c.WebhookSecret) {
			return fmt.Errorf("WEBHOOK_SECRET must be 1-256 characters of A-Z, a-z, 0-9, _ or - when WEBHOOK_URL is set")
		}
	}
	if c.EventFeedSize <= 0 {
		return fmt.Errorf("EVENT_FEED_SIZE must be > 0")
	}
	if c.MaxConcurrentEvents <= 0 {
		return fmt.Errorf("MAX_CONCURRENT_EVENTS must be > 0")
	}
	if c.MappingRetention < 0 {
		return fmt.Errorf("RELAY_MAPPING_RETENTION cannot be negative")
	}
	return c.validateStorage()
}

func (c *Config) validateStorage() error {
	if c.DBPath == "" {
		return fmt.Errorf("DB_PATH cannot be empty")
	}
	if len(c.Rooms) == 0 {
		return fmt.Errorf("ROOMS cannot be empty")
	}

	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return fmt.Errorf("TIMEZONE %q: %w", c.Timezone, err)
	}
	cutover, err := clock.ParseCutover(c.ResetCutover)
	if err != nil {
		return fmt.Errorf("RESET_CUTOVER: %w", err)
	}
	c.location = loc
	c.cutover = cutover
	return nil
}

// Location returns the validated timezone.
func (c *Config) Location() *time.Location {
	return c.location
}

// Cutover returns the validated reset time as an offset from midnight.
func (c *Config) Cutover() time.Duration {
	return c.cutover
}

// UsesWebhook reports whether updates arrive by webhook instead of polling.
func (c *Config) UsesWebhook() bool {
	return c.WebhookURL != ""
}

// ParseRooms parses "id:Label,id:Label". A bare id is its own label.
func ParseRooms(s string) ([]domain.Room, error) {
	var rooms []domain.Room
	seen := make(map[string]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, label, found := strings.Cut(part, ":")
		id = strings.TrimSpace(id)
		label = strings.TrimSpace(label)
		if !found || label == "" {
			label = id
		}
		if id == "" {
			return nil, fmt.Errorf("ROOMS entry %q has no id", part)
		}
		if seen[id] {
			return nil, fmt.Errorf("ROOMS lists %q twice", id)
		}
		seen[id] = true
		rooms = append(rooms, domain.Room{ID: id, Label: label})
	}
	return rooms, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	value, ok := os.LookupEnv(key)
	if !ok {
		return fallback
	}
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func getEnvInt64(key string, fallback int64) (int64, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	n, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return n, nil
}

func getEnvDuration(key string, fallback time.Duration) (time.Duration, error) {
	value, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(value) == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(strings.TrimSpace(value))
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}
