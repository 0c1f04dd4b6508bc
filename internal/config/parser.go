package config

import "strings"

// Parse reads configuration content as JSONC or YAML and validates it.
//
// JSONC is selected when the first non-whitespace character is `{`.
func Parse(content string, base Config) (Config, []Warning, error) {
	cfg, warnings, err := decode(content, base)
	if err != nil {
		return Config{}, nil, err
	}
	validated, err := Validate(cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, append(warnings, validated...), nil
}

func decode(content string, base Config) (Config, []Warning, error) {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return base, nil, nil
	}

	var (
		payload fileConfig
		err     error
	)
	if strings.HasPrefix(trimmed, "{") {
		payload, err = decodeJSONC(content)
	} else {
		payload, err = decodeYAML(content)
	}
	if err != nil {
		return Config{}, nil, err
	}

	cfg := base
	warnings, err := payload.applyTo(&cfg)
	if err != nil {
		return Config{}, nil, err
	}
	return cfg, warnings, nil
}
