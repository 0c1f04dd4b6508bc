package config

import (
	"encoding/json"
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// fileConfig is the on-disk shape shared by the JSONC and YAML formats.
// Nil fields keep the base value.
type fileConfig struct {
	OwnerID   *string        `json:"owner_id" yaml:"owner_id"`
	Backend   *fileBackend   `json:"backend" yaml:"backend"`
	Storage   *fileStorage   `json:"storage" yaml:"storage"`
	Capture   *fileCapture   `json:"capture" yaml:"capture"`
	Policy    *filePolicy    `json:"policy" yaml:"policy"`
	Journal   *fileJournal   `json:"journal" yaml:"journal"`
	Notify    *fileNotify    `json:"notify" yaml:"notify"`
	Indicator *fileIndicator `json:"indicator" yaml:"indicator"`
}

type fileBackend struct {
	BaseURL    *string `json:"base_url" yaml:"base_url"`
	Token      *string `json:"token" yaml:"token"`
	HealthPath *string `json:"health_path" yaml:"health_path"`
	GRPCHealth *string `json:"grpc_health" yaml:"grpc_health"`
}

type fileStorage struct {
	Backend       *string `json:"backend" yaml:"backend"`
	URL           *string `json:"url" yaml:"url"`
	Key           *string `json:"key" yaml:"key"`
	Bucket        *string `json:"bucket" yaml:"bucket"`
	CacheControl  *string `json:"cache_control" yaml:"cache_control"`
	LocalRoot     *string `json:"local_root" yaml:"local_root"`
	PublicBaseURL *string `json:"public_base_url" yaml:"public_base_url"`
}

type fileCapture struct {
	FFmpegCmd     *string `json:"ffmpeg_cmd" yaml:"ffmpeg_cmd"`
	VideoFormat   *string `json:"video_format" yaml:"video_format"`
	VideoDevice   *string `json:"video_device" yaml:"video_device"`
	AudioInput    *string `json:"audio_input" yaml:"audio_input"`
	AudioFallback *string `json:"audio_fallback" yaml:"audio_fallback"`
	Container     *string `json:"container" yaml:"container"`
	StartGraceMS  *int    `json:"start_grace_ms" yaml:"start_grace_ms"`
}

type filePolicy struct {
	MaxSizeBytes        *int64      `json:"max_size_bytes" yaml:"max_size_bytes"`
	AllowedMimePrefixes *stringList `json:"allowed_mime_prefixes" yaml:"allowed_mime_prefixes"`
}

type fileJournal struct {
	Enable *bool   `json:"enable" yaml:"enable"`
	Driver *string `json:"driver" yaml:"driver"`
	DSN    *string `json:"dsn" yaml:"dsn"`
}

type fileNotify struct {
	Enable     *bool   `json:"enable" yaml:"enable"`
	URL        *string `json:"url" yaml:"url"`
	Exchange   *string `json:"exchange" yaml:"exchange"`
	RoutingKey *string `json:"routing_key" yaml:"routing_key"`
}

type fileIndicator struct {
	Enable  *bool   `json:"enable" yaml:"enable"`
	AppName *string `json:"app_name" yaml:"app_name"`
	Sound   *bool   `json:"sound" yaml:"sound"`
}

// stringList accepts either a list or a comma-delimited string.
type stringList []string

func (l *stringList) UnmarshalJSON(data []byte) error {
	var list []string
	if err := json.Unmarshal(data, &list); err == nil {
		*l = list
		return nil
	}
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		*l = splitList(single)
		return nil
	}
	return fmt.Errorf("expected string array or comma-delimited string")
}

func (l *stringList) UnmarshalYAML(node *yaml.Node) error {
	switch node.Kind {
	case yaml.SequenceNode:
		var list []string
		if err := node.Decode(&list); err != nil {
			return err
		}
		*l = list
		return nil
	case yaml.ScalarNode:
		*l = splitList(node.Value)
		return nil
	default:
		return fmt.Errorf("line %d: expected string list or comma-delimited string", node.Line)
	}
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

func setString(dst *string, src *string) {
	if src != nil {
		*dst = strings.TrimSpace(*src)
	}
}

func (payload fileConfig) applyTo(cfg *Config) ([]Warning, error) {
	var warnings []Warning

	setString(&cfg.OwnerID, payload.OwnerID)

	if b := payload.Backend; b != nil {
		setString(&cfg.Backend.BaseURL, b.BaseURL)
		setString(&cfg.Backend.Token, b.Token)
		setString(&cfg.Backend.HealthPath, b.HealthPath)
		setString(&cfg.Backend.GRPCHealth, b.GRPCHealth)
		if b.Token != nil && *b.Token != "" {
			warnings = append(warnings, Warning{Message: "backend.token is stored in the config file; prefer ORATORIA_BACKEND_TOKEN"})
		}
	}

	if s := payload.Storage; s != nil {
		if s.Backend != nil {
			cfg.Storage.Backend = strings.ToLower(strings.TrimSpace(*s.Backend))
		}
		setString(&cfg.Storage.URL, s.URL)
		setString(&cfg.Storage.Key, s.Key)
		setString(&cfg.Storage.Bucket, s.Bucket)
		setString(&cfg.Storage.CacheControl, s.CacheControl)
		setString(&cfg.Storage.LocalRoot, s.LocalRoot)
		setString(&cfg.Storage.PublicBaseURL, s.PublicBaseURL)
		if s.Key != nil && *s.Key != "" {
			warnings = append(warnings, Warning{Message: "storage.key is stored in the config file; prefer ORATORIA_STORAGE_KEY"})
		}
	}

	if c := payload.Capture; c != nil {
		if c.FFmpegCmd != nil {
			raw := *c.FFmpegCmd
			argv, err := splitCommand(raw)
			if err != nil {
				return nil, fmt.Errorf("invalid capture.ffmpeg_cmd: %w", err)
			}
			cfg.Capture.FFmpeg = CommandConfig{Raw: raw, Argv: argv}
		}
		setString(&cfg.Capture.VideoFormat, c.VideoFormat)
		setString(&cfg.Capture.VideoDevice, c.VideoDevice)
		setString(&cfg.Capture.AudioInput, c.AudioInput)
		setString(&cfg.Capture.AudioFallback, c.AudioFallback)
		setString(&cfg.Capture.Container, c.Container)
		if c.StartGraceMS != nil {
			cfg.Capture.StartGraceMS = *c.StartGraceMS
		}
	}

	if p := payload.Policy; p != nil {
		if p.MaxSizeBytes != nil {
			cfg.Policy.MaxSizeBytes = *p.MaxSizeBytes
		}
		if p.AllowedMimePrefixes != nil {
			cfg.Policy.AllowedMimePrefixes = append([]string(nil), (*p.AllowedMimePrefixes)...)
		}
	}

	if j := payload.Journal; j != nil {
		if j.Enable != nil {
			cfg.Journal.Enable = *j.Enable
		}
		if j.Driver != nil {
			cfg.Journal.Driver = strings.ToLower(strings.TrimSpace(*j.Driver))
		}
		setString(&cfg.Journal.DSN, j.DSN)
	}

	if n := payload.Notify; n != nil {
		if n.Enable != nil {
			cfg.Notify.Enable = *n.Enable
		}
		setString(&cfg.Notify.URL, n.URL)
		setString(&cfg.Notify.Exchange, n.Exchange)
		setString(&cfg.Notify.RoutingKey, n.RoutingKey)
	}

	if i := payload.Indicator; i != nil {
		if i.Enable != nil {
			cfg.Indicator.Enable = *i.Enable
		}
		setString(&cfg.Indicator.AppName, i.AppName)
		if i.Sound != nil {
			cfg.Indicator.Sound = *i.Sound
		}
	}

	return warnings, nil
}
