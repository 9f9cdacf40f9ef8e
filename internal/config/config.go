package config

import (
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
)

// Config holds the daemon configuration
type Config struct {
	Graph       GraphConfig       `koanf:"graph"`
	OpenProject OpenProjectConfig `koanf:"openproject"`
	Ingest      IngestConfig      `koanf:"ingest"`
	Queue       QueueConfig       `koanf:"queue"`
	Sheet       SheetConfig       `koanf:"sheet"`
	Lookup      LookupConfig      `koanf:"lookup"`
	Server      ServerConfig      `koanf:"server"`
	Logging     LoggingConfig     `koanf:"logging"`
}

// GraphConfig configures the Microsoft Graph drive and chat access
type GraphConfig struct {
	BaseURL           string        `koanf:"base_url" validate:"required,url"`
	TenantID          string        `koanf:"tenant_id" validate:"required"`
	ClientID          string        `koanf:"client_id" validate:"required"`
	ClientSecret      string        `koanf:"client_secret" validate:"required"`
	Username          string        `koanf:"username" validate:"required"`
	Password          string        `koanf:"password" validate:"required"`
	FolderPath        string        `koanf:"folder_path" validate:"required,startswith=/"`
	ArchivePath       string        `koanf:"archive_path" validate:"required,startswith=/"`
	WorkbookPath      string        `koanf:"workbook_path" validate:"required,startswith=/"`
	RequestsPerSecond float64       `koanf:"requests_per_second" validate:"gt=0"`
	Burst             int           `koanf:"burst" validate:"min=1"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
}

// OpenProjectConfig configures the tracking system
type OpenProjectConfig struct {
	URL               string        `koanf:"url" validate:"required,url"`
	Token             string        `koanf:"token" validate:"required"`
	TypeID            int           `koanf:"type_id" validate:"min=1"`
	DefaultPriorityID int           `koanf:"default_priority_id" validate:"min=0"`
	ReleaseDateField  string        `koanf:"release_date_field" validate:"required"`
	NoteField         string        `koanf:"note_field" validate:"required"`
	Timeout           time.Duration `koanf:"timeout" validate:"gt=0"`
}

// IngestConfig configures the ticket folder poller
type IngestConfig struct {
	// IntervalMinutes mirrors the INTERVAL_CHECK setting.
	IntervalMinutes int `koanf:"interval_minutes" validate:"min=1"`
}

// Interval returns the polling interval
func (c IngestConfig) Interval() time.Duration {
	return time.Duration(c.IntervalMinutes) * time.Minute
}

// QueueConfig configures the durable update queue
type QueueConfig struct {
	Path           string        `koanf:"path" validate:"required"`
	DeadLetterPath string        `koanf:"dead_letter_path" validate:"required"`
	DrainInterval  time.Duration `koanf:"drain_interval" validate:"gt=0"`
	// MaxAttempts of zero retries forever.
	MaxAttempts int `koanf:"max_attempts" validate:"min=0"`
}

// SheetConfig configures the history workbook synchronizer
type SheetConfig struct {
	LockRetries    int           `koanf:"lock_retries" validate:"min=1"`
	LockRetryDelay time.Duration `koanf:"lock_retry_delay" validate:"min=0"`
	Timezone       string        `koanf:"timezone" validate:"required"`
}

// LookupConfig configures the name to id lookup table
type LookupConfig struct {
	Dir             string        `koanf:"dir" validate:"required"`
	RefreshInterval time.Duration `koanf:"refresh_interval" validate:"gt=0"`
	Users           []UserEntry   `koanf:"users" validate:"dive"`
}

// UserEntry maps a display name to an OpenProject user id. Users are
// configured rather than fetched since listing them needs admin rights.
type UserEntry struct {
	Name string `koanf:"name" validate:"required"`
	ID   int    `koanf:"id" validate:"min=1"`
}

// UserIDs returns the configured users keyed by display name
func (c LookupConfig) UserIDs() map[string]int {
	users := make(map[string]int, len(c.Users))
	for _, u := range c.Users {
		users[u.Name] = u.ID
	}
	return users
}

// ServerConfig configures the operational HTTP endpoint
type ServerConfig struct {
	Addr            string        `koanf:"addr" validate:"required"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout" validate:"gt=0"`
}

// LoggingConfig configures zap
type LoggingConfig struct {
	Level  string `koanf:"level" validate:"oneof=debug info warn error"`
	Format string `koanf:"format" validate:"oneof=json console"`
}

var validate = validator.New()

// Validate checks the configuration for missing or malformed values
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}
	return nil
}

func defaultConfig() *Config {
	return &Config{
		Graph: GraphConfig{
			BaseURL:           "https://graph.microsoft.com/v1.0",
			FolderPath:        "/new-ticket",
			ArchivePath:       "/new-ticket/archive",
			WorkbookPath:      "/history-openproject.xlsx",
			RequestsPerSecond: 5,
			Burst:             10,
			Timeout:           30 * time.Second,
		},
		OpenProject: OpenProjectConfig{
			TypeID:           6,
			ReleaseDateField: "customField20",
			NoteField:        "customField16",
			Timeout:          30 * time.Second,
		},
		Ingest: IngestConfig{
			IntervalMinutes: 1,
		},
		Queue: QueueConfig{
			Path:           "json/failed_updates_queue.json",
			DeadLetterPath: "json/failed_updates_dead.json",
			DrainInterval:  5 * time.Minute,
			// One day of drains at the default interval.
			MaxAttempts: 288,
		},
		Sheet: SheetConfig{
			LockRetries:    5,
			LockRetryDelay: 5 * time.Second,
			Timezone:       "Asia/Singapore",
		},
		Lookup: LookupConfig{
			Dir:             "json",
			RefreshInterval: 24 * time.Hour,
		},
		Server: ServerConfig{
			Addr:            ":8080",
			ShutdownTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
