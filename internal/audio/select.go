package audio

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Selection is the source the recorder should use.
type Selection struct {
	Device   Device
	Warning  string
	Fallback bool
}

// SelectDevice matches the configured input and fallback against live sources.
func SelectDevice(ctx context.Context, input string, fallback string) (Selection, error) {
	devices, err := ListDevices(ctx)
	if err != nil {
		return Selection{}, err
	}
	return choose(devices, input, fallback)
}

// choose picks input (or the default source), and moves to fallback when the
// primary is muted or unplugged. Terms match id or description, case-insensitively.
func choose(devices []Device, input string, fallback string) (Selection, error) {
	if len(devices) == 0 {
		return Selection{}, errors.New("no audio input devices found")
	}
	input = normalizeTerm(input)
	fallback = normalizeTerm(fallback)

	primary, err := pick(devices, input)
	if err != nil {
		return Selection{}, err
	}
	if primary.Usable() {
		return Selection{Device: primary}, nil
	}

	reason := "unavailable"
	if primary.Muted {
		reason = "muted"
	}

	backup, err := pick(devices, fallback)
	if err != nil {
		if fallback == "" {
			return Selection{}, fmt.Errorf("input %q is %s and no usable fallback: %w", primary.ID, reason, err)
		}
		return Selection{}, fmt.Errorf("input %q is %s and fallback %q not found", primary.ID, reason, fallback)
	}
	if !backup.Available {
		return Selection{}, fmt.Errorf("audio fallback device %q is not available", backup.ID)
	}
	if backup.Muted {
		return Selection{}, fmt.Errorf("audio fallback device %q is muted", backup.ID)
	}

	return Selection{
		Device:   backup,
		Warning:  fmt.Sprintf("input %q is %s; recording from %q", primary.ID, reason, backup.ID),
		Fallback: backup.ID != primary.ID,
	}, nil
}

// pick resolves an empty term to the default source.
func pick(devices []Device, term string) (Device, error) {
	if term == "" {
		for _, d := range devices {
			if d.Default {
				return d, nil
			}
		}
		return Device{}, errors.New("default audio source is unavailable")
	}
	for _, d := range devices {
		if matches(d, term) {
			return d, nil
		}
	}
	return Device{}, fmt.Errorf("audio input %q did not match any device", term)
}

func normalizeTerm(term string) string {
	term = strings.ToLower(strings.TrimSpace(term))
	if term == "default" {
		return ""
	}
	return term
}

func matches(d Device, term string) bool {
	return term != "" &&
		(strings.Contains(strings.ToLower(d.ID), term) || strings.Contains(strings.ToLower(d.Description), term))
}
