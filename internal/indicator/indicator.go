// Package indicator mirrors the practice state as desktop notifications and
// short audio cues.
package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/aldaxho/couchoratorariaweb/internal/config"
	"github.com/aldaxho/couchoratorariaweb/internal/fsm"
	"github.com/aldaxho/couchoratorariaweb/internal/practice"
	"github.com/aldaxho/couchoratorariaweb/internal/progress"
)

type phase int

const (
	phaseIdle phase = iota
	phaseRecording
	phaseReady
	phaseRejected
	phaseUploading
	phaseSending
	phaseCompleted
	phaseFailed
)

func phaseOf(snap practice.Snapshot) phase {
	switch {
	case snap.Capturing:
		return phaseRecording
	case snap.State == fsm.StateValidated:
		return phaseReady
	case snap.State == fsm.StateUploading:
		return phaseUploading
	case snap.State == fsm.StateFinalizing:
		return phaseSending
	case snap.State == fsm.StateCompleted:
		return phaseCompleted
	case snap.State == fsm.StateFailed:
		return phaseFailed
	case snap.State == fsm.StateAwaitingArtifact && snap.LastError != "":
		return phaseRejected
	default:
		return phaseIdle
	}
}

// Desktop is a practice.Observer that keeps one replaceable notification
// in sync with the practice phase.
type Desktop struct {
	appName string
	sound   bool
	logger  *slog.Logger
	text    messages

	notify  func(context.Context, notification) (uint32, error)
	dismiss func(context.Context, uint32) error
	play    func([]int16) error

	mu    sync.Mutex
	phase phase
	id    uint32
	cues  sync.Mutex
}

func NewDesktop(cfg config.IndicatorConfig, logger *slog.Logger) *Desktop {
	appName := strings.TrimSpace(cfg.AppName)
	if appName == "" {
		appName = "oratoria"
	}
	return &Desktop{
		appName: appName,
		sound:   cfg.Sound,
		logger:  logger,
		text:    messagesFromEnv(),
		notify:  busctlNotify,
		dismiss: busctlDismiss,
		play:    playPulse,
	}
}

func (d *Desktop) Observe(ctx context.Context, snap practice.Snapshot) {
	next := phaseOf(snap)
	d.mu.Lock()
	prev := d.phase
	d.phase = next
	d.mu.Unlock()
	if next == prev {
		return
	}

	switch next {
	case phaseRecording:
		d.cue(cueStart)
		d.show(ctx, d.text.recording, "", urgencyLow, 0)
	case phaseReady:
		if prev == phaseRecording {
			d.cue(cueStop)
		}
		d.show(ctx, d.text.ready, snap.ArtifactName, urgencyLow, 3000)
	case phaseRejected:
		d.cue(cueFail)
		d.show(ctx, d.text.rejected, snap.LastError, urgencyNormal, 5000)
	case phaseUploading:
		d.show(ctx, d.text.uploading, progress.Label(snap.Progress), urgencyLow, 0)
	case phaseSending:
		d.show(ctx, d.text.sending, progress.Label(snap.Progress), urgencyLow, 0)
	case phaseCompleted:
		d.cue(cueComplete)
		d.show(ctx, d.text.completed, fmt.Sprintf("#%s", snap.ResultID), urgencyNormal, 4000)
	case phaseFailed:
		d.cue(cueFail)
		d.show(ctx, d.text.failed, snap.LastError, urgencyCritical, 8000)
	case phaseIdle:
		if prev == phaseRecording {
			d.cue(cueFail)
		}
		d.hide(ctx)
	}
}

func (d *Desktop) show(ctx context.Context, summary string, body string, u urgency, timeoutMS int) {
	d.mu.Lock()
	replaceID := d.id
	d.mu.Unlock()

	ctx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	id, err := d.notify(ctx, notification{
		appName:   d.appName,
		replaceID: replaceID,
		summary:   summary,
		body:      body,
		urgency:   u,
		timeoutMS: timeoutMS,
	})
	if err != nil {
		d.log("indicator dispatch failed", err)
		return
	}
	d.mu.Lock()
	d.id = id
	d.mu.Unlock()
}

func (d *Desktop) hide(ctx context.Context) {
	d.mu.Lock()
	id := d.id
	d.id = 0
	d.mu.Unlock()
	if id == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, 400*time.Millisecond)
	defer cancel()
	if err := d.dismiss(ctx, id); err != nil {
		d.log("indicator dismiss failed", err)
	}
}

// cue plays c asynchronously; cues never overlap.
func (d *Desktop) cue(c cue) {
	if !d.sound {
		return
	}
	samples := c.pcm()
	go func() {
		d.cues.Lock()
		defer d.cues.Unlock()
		if err := d.play(samples); err != nil {
			d.log("indicator audio cue failed", err)
		}
	}()
}

func (d *Desktop) log(message string, err error) {
	if d.logger == nil || err == nil {
		return
	}
	d.logger.Debug(message, "error", err.Error())
}
