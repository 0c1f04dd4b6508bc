package capture

import (
	"context"
	"log/slog"

	"github.com/aldaxho/couchoratorariaweb/internal/audio"
)

// PulseSource resolves the microphone through Pulse input/fallback selection.
func PulseSource(input string, fallback string, logger *slog.Logger) AudioResolver {
	return pulseSource(audio.SelectDevice, input, fallback, logger)
}

func pulseSource(
	selectDevice func(context.Context, string, string) (audio.Selection, error),
	input string,
	fallback string,
	logger *slog.Logger,
) AudioResolver {
	return func(ctx context.Context) (string, error) {
		selection, err := selectDevice(ctx, input, fallback)
		if err != nil {
			return "", err
		}
		if selection.Warning != "" && logger != nil {
			logger.Warn("microphone fallback in use", slog.String("warning", selection.Warning))
		}
		return selection.Device.ID, nil
	}
}
