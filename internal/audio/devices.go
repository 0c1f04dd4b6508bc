// Package audio discovers Pulse microphone sources for the recorder.
package audio

import (
	"context"
	"fmt"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
)

const clientName = "oratoria"

// Device is one Pulse input source.
type Device struct {
	ID          string `json:"id" yaml:"id"`
	Description string `json:"description" yaml:"description"`
	State       string `json:"state" yaml:"state"`
	Available   bool   `json:"available" yaml:"available"`
	Muted       bool   `json:"muted" yaml:"muted"`
	Default     bool   `json:"default" yaml:"default"`
}

// Usable reports whether the source can feed a recording.
func (d Device) Usable() bool {
	return d.Available && !d.Muted
}

func newClient() (*pulse.Client, error) {
	client, err := pulse.NewClient(
		pulse.ClientApplicationName(clientName),
		pulse.ClientApplicationIconName("camera-video"),
	)
	if err != nil {
		return nil, fmt.Errorf("connect pulse server: %w", err)
	}
	return client, nil
}

// ListDevices returns the Pulse input sources, flagging the server default.
func ListDevices(_ context.Context) ([]Device, error) {
	client, err := newClient()
	if err != nil {
		return nil, err
	}
	defer client.Close()

	def, err := client.DefaultSource()
	if err != nil {
		return nil, fmt.Errorf("read default source: %w", err)
	}

	var reply pulseproto.GetSourceInfoListReply
	if err := client.RawRequest(&pulseproto.GetSourceInfoList{}, &reply); err != nil {
		return nil, fmt.Errorf("list sources: %w", err)
	}

	devices := make([]Device, 0, len(reply))
	for _, info := range reply {
		if info == nil {
			continue
		}
		devices = append(devices, Device{
			ID:          info.SourceName,
			Description: info.Device,
			State:       stateName(info.State),
			Available:   activePortAvailable(info),
			Muted:       info.Mute,
			Default:     info.SourceName == def.ID(),
		})
	}
	return devices, nil
}

func stateName(state uint32) string {
	switch state {
	case 0:
		return "running"
	case 1:
		return "idle"
	case 2:
		return "suspended"
	default:
		return fmt.Sprintf("unknown(%d)", state)
	}
}

// activePortAvailable treats sources without ports, or whose active port
// reports unknown (0) or yes (2), as available.
func activePortAvailable(info *pulseproto.GetSourceInfoReply) bool {
	if info == nil {
		return false
	}
	for _, port := range info.Ports {
		if port.Name == info.ActivePortName {
			return port.Available != 1
		}
	}
	return true
}
