package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	var warnings []Warning

	if strings.TrimSpace(cfg.OwnerID) == "" {
		warnings = append(warnings, Warning{Message: "owner_id is empty; uploads will be rejected until it is set"})
	}

	if err := validateURL("backend.base_url", cfg.Backend.BaseURL); err != nil {
		return nil, err
	}
	if hp := strings.TrimSpace(cfg.Backend.HealthPath); hp != "" && !strings.HasPrefix(hp, "/") {
		return nil, fmt.Errorf("backend.health_path must start with '/'")
	}

	switch cfg.Storage.Backend {
	case StorageSupabase:
		if strings.TrimSpace(cfg.Storage.URL) == "" {
			warnings = append(warnings, Warning{Message: "storage.url is empty; uploads will fail as storage unavailable"})
		} else if err := validateURL("storage.url", cfg.Storage.URL); err != nil {
			return nil, err
		}
	case StorageLocal:
		if strings.TrimSpace(cfg.Storage.LocalRoot) == "" {
			return nil, fmt.Errorf("storage.local_root must not be empty when storage.backend=local")
		}
	default:
		return nil, fmt.Errorf("storage.backend must be one of: %s, %s", StorageSupabase, StorageLocal)
	}
	if strings.TrimSpace(cfg.Storage.Bucket) == "" {
		return nil, fmt.Errorf("storage.bucket must not be empty")
	}

	if len(cfg.Capture.FFmpeg.Argv) == 0 {
		return nil, fmt.Errorf("capture.ffmpeg_cmd must not be empty")
	}
	if cfg.Capture.Container != "webm" {
		return nil, fmt.Errorf("capture.container %q is not supported (want webm)", cfg.Capture.Container)
	}
	if cfg.Capture.StartGraceMS < 0 {
		return nil, fmt.Errorf("capture.start_grace_ms must be >= 0")
	}

	if cfg.Policy.MaxSizeBytes <= 0 {
		return nil, fmt.Errorf("policy.max_size_bytes must be > 0")
	}
	if len(cfg.Policy.AllowedMimePrefixes) == 0 {
		return nil, fmt.Errorf("policy.allowed_mime_prefixes must not be empty")
	}
	for _, prefix := range cfg.Policy.AllowedMimePrefixes {
		if !strings.HasPrefix(strings.ToLower(prefix), "video/") {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("policy.allowed_mime_prefixes entry %q is not a video type", prefix)})
		}
	}

	if cfg.Journal.Enable {
		switch cfg.Journal.Driver {
		case JournalSQLite:
		case JournalPostgres:
			if strings.TrimSpace(cfg.Journal.DSN) == "" {
				return nil, fmt.Errorf("journal.dsn must not be empty when journal.driver=postgres")
			}
		default:
			return nil, fmt.Errorf("journal.driver must be one of: %s, %s", JournalSQLite, JournalPostgres)
		}
	}

	if cfg.Notify.Enable {
		if strings.TrimSpace(cfg.Notify.URL) == "" {
			return nil, fmt.Errorf("notify.url must not be empty when notify.enable=true")
		}
		if strings.TrimSpace(cfg.Notify.Exchange) == "" {
			return nil, fmt.Errorf("notify.exchange must not be empty when notify.enable=true")
		}
	}

	if cfg.Indicator.Enable && strings.TrimSpace(cfg.Indicator.AppName) == "" {
		return nil, fmt.Errorf("indicator.app_name must not be empty when indicator.enable=true")
	}

	return warnings, nil
}

func validateURL(key string, raw string) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return fmt.Errorf("%s must not be empty", key)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return fmt.Errorf("%s must be an absolute http(s) URL, got %q", key, raw)
	}
	return nil
}
