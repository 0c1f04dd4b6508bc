package indicator

import (
	"context"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

type urgency byte

const (
	urgencyLow      urgency = 0
	urgencyNormal   urgency = 1
	urgencyCritical urgency = 2
)

// notification is one freedesktop Notify call.
type notification struct {
	appName   string
	replaceID uint32
	summary   string
	body      string
	urgency   urgency
	timeoutMS int
}

// busctlNotify sends n over the session bus and returns the server's id.
func busctlNotify(ctx context.Context, n notification) (uint32, error) {
	args := []string{
		"--user", "call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
		"Notify", "susssasa{sv}i",
		n.appName,
		strconv.FormatUint(uint64(n.replaceID), 10),
		"video-x-generic", // icon
		n.summary,
		n.body,
		"0", // actions
		"1", "urgency", "y", strconv.Itoa(int(n.urgency)),
		strconv.Itoa(n.timeoutMS),
	}
	out, err := busctl(ctx, args...)
	if err != nil {
		return 0, fmt.Errorf("desktop notify failed: %w", err)
	}

	fields := strings.Fields(out)
	if len(fields) < 2 || fields[0] != "u" {
		return 0, fmt.Errorf("desktop notify invalid response: %q", out)
	}
	id, err := strconv.ParseUint(fields[1], 10, 32)
	if err != nil {
		return 0, fmt.Errorf("desktop notify parse id %q: %w", fields[1], err)
	}
	return uint32(id), nil
}

// busctlDismiss closes notification id.
func busctlDismiss(ctx context.Context, id uint32) error {
	_, err := busctl(ctx,
		"--user", "call",
		"org.freedesktop.Notifications",
		"/org/freedesktop/Notifications",
		"org.freedesktop.Notifications",
		"CloseNotification", "u",
		strconv.FormatUint(uint64(id), 10),
	)
	if err != nil {
		return fmt.Errorf("desktop dismiss failed: %w", err)
	}
	return nil
}

func busctl(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "busctl", args...).CombinedOutput()
	trimmed := strings.TrimSpace(string(out))
	if err != nil {
		if trimmed == "" {
			return "", err
		}
		return "", fmt.Errorf("%w (%s)", err, trimmed)
	}
	return trimmed, nil
}
