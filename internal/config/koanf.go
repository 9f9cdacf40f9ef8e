package config

import (
	"fmt"
	"os"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/providers/structs"
	"github.com/knadh/koanf/v2"
)

// PathEnvVar names an optional YAML config file
const PathEnvVar = "CONFIG_PATH"

// envKeys maps environment variables onto config paths
var envKeys = map[string]string{
	"graph_base_url":                  "graph.base_url",
	"microsoft_tenant_id":             "graph.tenant_id",
	"microsoft_client_id":             "graph.client_id",
	"microsoft_client_secret":         "graph.client_secret",
	"microsoft_user_email":            "graph.username",
	"microsoft_user_password":         "graph.password",
	"onedrive_folder_path":            "graph.folder_path",
	"onedrive_archive_path":           "graph.archive_path",
	"workbook_path":                   "graph.workbook_path",
	"graph_requests_per_second":       "graph.requests_per_second",
	"graph_burst":                     "graph.burst",
	"graph_timeout":                   "graph.timeout",
	"openproject_url":                 "openproject.url",
	"openproject_token":               "openproject.token",
	"openproject_type_id":             "openproject.type_id",
	"openproject_default_priority_id": "openproject.default_priority_id",
	"openproject_release_date_field":  "openproject.release_date_field",
	"openproject_note_field":          "openproject.note_field",
	"openproject_timeout":             "openproject.timeout",
	"interval_check":                  "ingest.interval_minutes",
	"queue_path":                      "queue.path",
	"queue_dead_letter_path":          "queue.dead_letter_path",
	"queue_drain_interval":            "queue.drain_interval",
	"queue_max_attempts":              "queue.max_attempts",
	"sheet_lock_retries":              "sheet.lock_retries",
	"sheet_lock_retry_delay":          "sheet.lock_retry_delay",
	"sheet_timezone":                  "sheet.timezone",
	"lookup_dir":                      "lookup.dir",
	"lookup_refresh_interval":         "lookup.refresh_interval",
	"http_addr":                       "server.addr",
	"http_shutdown_timeout":           "server.shutdown_timeout",
	"log_level":                       "logging.level",
	"log_format":                      "logging.format",
}

// Load builds the configuration from defaults, an optional YAML file and
// the environment, in increasing order of precedence.
func Load() (*Config, error) {
	return load(os.Getenv(PathEnvVar))
}

func load(path string) (*Config, error) {
	k := koanf.New(".")

	if err := k.Load(structs.Provider(defaultConfig(), "koanf"), nil); err != nil {
		return nil, fmt.Errorf("failed to load defaults: %w", err)
	}

	if path != "" {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("failed to load config file %s: %w", path, err)
		}
	}

	if err := k.Load(env.Provider("", ".", envKey), nil); err != nil {
		return nil, fmt.Errorf("failed to load environment: %w", err)
	}

	cfg := &Config{}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal configuration: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// envKey returns the config path for an environment variable, or an empty
// string so koanf skips variables we do not own.
func envKey(key string) string {
	return envKeys[strings.ToLower(key)]
}
