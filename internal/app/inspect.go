package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aldaxho/couchoratorariaweb/internal/artifact"
	"github.com/aldaxho/couchoratorariaweb/internal/audio"
	"github.com/aldaxho/couchoratorariaweb/internal/cli"
	"github.com/aldaxho/couchoratorariaweb/internal/config"
	"github.com/aldaxho/couchoratorariaweb/internal/doctor"
	"github.com/aldaxho/couchoratorariaweb/internal/journal"
	"github.com/aldaxho/couchoratorariaweb/internal/storage"
)

const probeDuration = 750 * time.Millisecond

func (r Runner) commandDevices(ctx context.Context, cfg config.CaptureConfig, check bool) error {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		return err
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return exitCode(1)
	}

	for _, device := range devices {
		defaultMark := " "
		if device.Default {
			defaultMark = "*"
		}
		fmt.Fprintf(
			r.Stdout,
			"%s id=%s | description=%q | state=%s | available=%s | muted=%s\n",
			defaultMark,
			device.ID,
			device.Description,
			device.State,
			yesNo(device.Available),
			yesNo(device.Muted),
		)
	}
	if !check {
		return nil
	}

	selection, err := audio.SelectDevice(ctx, cfg.AudioInput, cfg.AudioFallback)
	if err != nil {
		return err
	}
	if selection.Warning != "" {
		fmt.Fprintf(r.Stderr, "warning: %s\n", selection.Warning)
	}
	result, err := audio.Probe(ctx, selection.Device, probeDuration)
	if err != nil {
		return fmt.Errorf("probe %s: %w", selection.Device.ID, err)
	}
	if result.Silent() {
		fmt.Fprintf(r.Stdout, "probe %s: no signal in %s\n", selection.Device.ID, probeDuration)
		return exitCode(1)
	}
	fmt.Fprintf(r.Stdout, "probe %s: peak level %.2f over %s\n", selection.Device.ID, result.Peak, artifact.HumanSize(result.Bytes))
	return nil
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r Runner) commandDoctor(ctx context.Context, loaded config.Loaded, probeMic bool, logger *slog.Logger) error {
	cfg := loaded.Config
	opts := doctor.Options{ProbeMicrophone: probeMic, ProbeDuration: probeDuration}

	if _, supabase := newBucket(cfg.Storage); supabase != nil && cfg.Storage.URL != "" && cfg.Storage.Key != "" {
		opts.Bucket = supabase
	}
	if cfg.Journal.Enable {
		j, err := openJournal(ctx, cfg.Journal, logger)
		if err != nil {
			opts.Journal = failedPing{err: err}
		} else {
			defer j.Close()
			opts.Journal = j
		}
	}

	report := doctor.Run(ctx, loaded, opts)
	fmt.Fprintln(r.Stdout, report.String())
	if !report.OK() {
		return exitCode(1)
	}
	return nil
}

// failedPing reports a journal that could not even be opened.
type failedPing struct{ err error }

func (f failedPing) Ping(context.Context) error { return f.err }

func (r Runner) commandHistory(ctx context.Context, inv cli.Invocation, cfg config.Config, logger *slog.Logger) error {
	if inv.Remote {
		entries, err := newBackend(cfg.Backend, logger).History(ctx)
		if err != nil {
			return err
		}
		if len(entries) > inv.Limit && inv.Limit > 0 {
			entries = entries[:inv.Limit]
		}
		if inv.Format == "table" {
			return writeRemoteHistory(r.Stdout, entries)
		}
		return encode(r.Stdout, inv.Format, entries)
	}

	j, err := openJournal(ctx, cfg.Journal, logger)
	if err != nil {
		return err
	}
	defer j.Close()

	entries, err := j.List(ctx, cfg.OwnerID, inv.Limit)
	if err != nil {
		return err
	}
	if inv.Format == "table" {
		return writeJournalHistory(r.Stdout, entries)
	}
	return encode(r.Stdout, inv.Format, entries)
}

func writeJournalHistory(out io.Writer, entries []journal.Entry) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "no practices recorded")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "SESSION\tSTATE\tPROGRESS\tSOURCE\tSIZE\tRESULT\tUPDATED\tFLAGS")
	for _, e := range entries {
		flags := ""
		if e.Orphaned() {
			flags = "orphaned"
		}
		fmt.Fprintf(w, "%s\t%s\t%d%%\t%s\t%s\t%s\t%s\t%s\n",
			e.SessionID,
			e.State,
			e.Progress,
			dash(e.Source),
			sizeOrDash(e.ArtifactSize),
			dash(e.ResultID),
			e.UpdatedAt.Local().Format("2006-01-02 15:04"),
			flags,
		)
	}
	return w.Flush()
}

func writeRemoteHistory(out io.Writer, entries []map[string]any) error {
	if len(entries) == 0 {
		_, err := fmt.Fprintln(out, "no practices on the server")
		return err
	}
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tDATE\tSCORE")
	for _, e := range entries {
		fmt.Fprintf(w, "%s\t%s\t%s\n", field(e, "id"), field(e, "fecha"), field(e, "puntuacion"))
	}
	return w.Flush()
}

func field(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil || v == "" {
		return "N/A"
	}
	return fmt.Sprint(v)
}

func dash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func sizeOrDash(n int64) string {
	if n <= 0 {
		return "-"
	}
	return artifact.HumanSize(n)
}

func (r Runner) commandAnalysis(ctx context.Context, inv cli.Invocation, cfg config.Config, logger *slog.Logger) error {
	doc, err := newBackend(cfg.Backend, logger).Analysis(ctx, inv.ID)
	if err != nil {
		return err
	}
	return encode(r.Stdout, inv.Format, doc)
}

func (r Runner) commandVideos(ctx context.Context, limit int, cfg config.Config, logger *slog.Logger) error {
	objects, err := newUploader(cfg.Storage, logger).List(ctx, cfg.OwnerID, limit)
	if err != nil {
		return err
	}
	if len(objects) == 0 {
		fmt.Fprintln(r.Stdout, "no stored videos")
		return nil
	}
	sort.SliceStable(objects, func(i, j int) bool { return objects[i].CreatedAt.After(objects[j].CreatedAt) })

	w := tabwriter.NewWriter(r.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "PATH\tSIZE\tCREATED")
	for _, obj := range objects {
		created := "-"
		if !obj.CreatedAt.IsZero() {
			created = obj.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		fmt.Fprintf(w, "%s\t%s\t%s\n", obj.Path, artifact.HumanSize(obj.Size), created)
	}
	return w.Flush()
}

// commandBucket provisions the videos bucket, or the local root for local storage.
func (r Runner) commandBucket(ctx context.Context, cfg config.Config) error {
	_, supabase := newBucket(cfg.Storage)
	if supabase == nil {
		if err := os.MkdirAll(cfg.Storage.LocalRoot, 0o755); err != nil {
			return err
		}
		fmt.Fprintf(r.Stdout, "local storage ready at %s\n", cfg.Storage.LocalRoot)
		return nil
	}

	created, err := supabase.EnsureBucket(ctx, storage.BucketPolicy{
		Public:           true,
		FileSizeLimit:    cfg.Policy.MaxSizeBytes,
		AllowedMimeTypes: cfg.Policy.AllowedMimePrefixes,
	})
	if err != nil {
		return err
	}
	if created {
		fmt.Fprintf(r.Stdout, "created bucket %q\n", supabase.Name())
		return nil
	}
	fmt.Fprintf(r.Stdout, "bucket %q already exists\n", supabase.Name())
	return nil
}

func encode(out io.Writer, format string, v any) error {
	switch format {
	case "json":
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case "yaml":
		enc := yaml.NewEncoder(out)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	default:
		return errors.New("unsupported format " + format)
	}
}
