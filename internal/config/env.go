package config

import "strings"

// applyEnv overlays deploy values and secrets from ORATORIA_* variables.
func applyEnv(cfg *Config, lookup func(string) (string, bool)) {
	overrides := []struct {
		key    string
		target *string
	}{
		{"ORATORIA_OWNER_ID", &cfg.OwnerID},
		{"ORATORIA_BACKEND_URL", &cfg.Backend.BaseURL},
		{"ORATORIA_BACKEND_TOKEN", &cfg.Backend.Token},
		{"ORATORIA_STORAGE_URL", &cfg.Storage.URL},
		{"ORATORIA_STORAGE_KEY", &cfg.Storage.Key},
		{"ORATORIA_JOURNAL_DSN", &cfg.Journal.DSN},
		{"ORATORIA_NOTIFY_URL", &cfg.Notify.URL},
	}
	for _, o := range overrides {
		if v, ok := lookup(o.key); ok && strings.TrimSpace(v) != "" {
			*o.target = strings.TrimSpace(v)
		}
	}
}
