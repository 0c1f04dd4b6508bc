package doctor

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/aldaxho/couchoratorariaweb/internal/audio"
	"github.com/aldaxho/couchoratorariaweb/internal/config"
)

type fakeBucket struct {
	exists bool
	err    error
}

func (b fakeBucket) Exists(context.Context) (bool, error) { return b.exists, b.err }

type fakePinger struct{ err error }

func (p fakePinger) Ping(context.Context) error { return p.err }

func fixedSelection(id string, warning string) func(context.Context, string, string) (audio.Selection, error) {
	return func(context.Context, string, string) (audio.Selection, error) {
		return audio.Selection{Device: audio.Device{ID: id, Available: true}, Warning: warning}, nil
	}
}

func TestReportOK(t *testing.T) {
	r := Report{Checks: []Check{{Name: "a", Pass: true}, {Name: "b", Pass: true}}}
	require.True(t, r.OK())

	r.Checks = append(r.Checks, Check{Name: "c", Pass: false})
	require.False(t, r.OK())
}

func TestReportString(t *testing.T) {
	r := Report{Checks: []Check{
		{Name: "config", Pass: true, Message: "loaded"},
		{Name: "backend.health", Pass: false, Message: "HTTP 503"},
	}}
	require.Equal(t, "[OK] config: loaded\n[FAIL] backend.health: HTTP 503", r.String())
}

func TestCheckConfigMissingFile(t *testing.T) {
	check := checkConfig(config.Loaded{Path: "/tmp/none.jsonc", Warnings: []config.Warning{{Message: "x"}}})
	require.True(t, check.Pass)
	require.Contains(t, check.Message, "using defaults")
	require.Contains(t, check.Message, "(1 warnings)")
}

func TestCheckOwner(t *testing.T) {
	require.False(t, checkOwner(config.Config{}).Pass)
	require.True(t, checkOwner(config.Config{OwnerID: "user-1"}).Pass)
}

func TestCheckCommand(t *testing.T) {
	empty := checkCommand(nil, "capture.ffmpeg_cmd")
	require.False(t, empty.Pass)
	require.Equal(t, "command is empty", empty.Message)

	missing := checkCommand([]string{"definitely-not-a-real-binary-xyz"}, "capture.ffmpeg_cmd")
	require.False(t, missing.Pass)
	require.Contains(t, missing.Message, "binary not found")
}

func TestCheckVideoDevice(t *testing.T) {
	skipped := checkVideoDevice(config.CaptureConfig{VideoFormat: "avfoundation", VideoDevice: "0"})
	require.True(t, skipped.Pass)

	missing := checkVideoDevice(config.CaptureConfig{VideoFormat: "v4l2", VideoDevice: filepath.Join(t.TempDir(), "video9")})
	require.False(t, missing.Pass)

	regular := filepath.Join(t.TempDir(), "video0")
	require.NoError(t, os.WriteFile(regular, nil, 0o600))
	notDevice := checkVideoDevice(config.CaptureConfig{VideoFormat: "v4l2", VideoDevice: regular})
	require.False(t, notDevice.Pass)
	require.Contains(t, notDevice.Message, "not a character device")
}

func TestCheckAudio(t *testing.T) {
	cfg := config.CaptureConfig{AudioInput: "default", AudioFallback: "default"}

	t.Run("selection only", func(t *testing.T) {
		check := checkAudio(context.Background(), cfg, Options{selectDevice: fixedSelection("mic", "input \"usb\" is muted; recording from \"mic\"")})
		require.True(t, check.Pass)
		require.Contains(t, check.Message, `selected "mic"`)
		require.Contains(t, check.Message, "muted")
	})

	t.Run("selection error", func(t *testing.T) {
		check := checkAudio(context.Background(), cfg, Options{
			selectDevice: func(context.Context, string, string) (audio.Selection, error) {
				return audio.Selection{}, errors.New("no audio input devices found")
			},
		})
		require.False(t, check.Pass)
		require.Equal(t, "no audio input devices found", check.Message)
	})

	t.Run("silent probe", func(t *testing.T) {
		check := checkAudio(context.Background(), cfg, Options{
			ProbeMicrophone: true,
			ProbeDuration:   time.Millisecond,
			selectDevice:    fixedSelection("mic", ""),
			probe: func(context.Context, audio.Device, time.Duration) (audio.ProbeResult, error) {
				return audio.ProbeResult{}, nil
			},
		})
		require.False(t, check.Pass)
		require.Contains(t, check.Message, "no signal")
	})

	t.Run("live probe", func(t *testing.T) {
		check := checkAudio(context.Background(), cfg, Options{
			ProbeMicrophone: true,
			ProbeDuration:   time.Millisecond,
			selectDevice:    fixedSelection("mic", ""),
			probe: func(_ context.Context, d audio.Device, _ time.Duration) (audio.ProbeResult, error) {
				return audio.ProbeResult{Device: d, Bytes: 512, Peak: 0.25}, nil
			},
		})
		require.True(t, check.Pass)
		require.Contains(t, check.Message, "peak level 0.25")
	})
}

func TestCheckBackendHealth(t *testing.T) {
	var gotPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		if r.URL.Path == "/api/health" {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	ok := checkBackendHealth(context.Background(), srv.Client(), config.BackendConfig{BaseURL: srv.URL + "/api/", HealthPath: "/health"})
	require.True(t, ok.Pass, ok.Message)
	require.Equal(t, "/api/health", gotPath)

	down := checkBackendHealth(context.Background(), srv.Client(), config.BackendConfig{BaseURL: srv.URL, HealthPath: "/status"})
	require.False(t, down.Pass)
	require.Contains(t, down.Message, "HTTP 503")

	empty := checkBackendHealth(context.Background(), srv.Client(), config.BackendConfig{})
	require.False(t, empty.Pass)
}

func startHealthServer(t *testing.T, status healthpb.HealthCheckResponse_ServingStatus) string {
	t.Helper()
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := grpc.NewServer()
	hs := health.NewServer()
	hs.SetServingStatus("", status)
	healthpb.RegisterHealthServer(srv, hs)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	return lis.Addr().String()
}

func TestCheckGRPCHealthServing(t *testing.T) {
	addr := startHealthServer(t, healthpb.HealthCheckResponse_SERVING)

	check := checkGRPCHealth(context.Background(), addr, 2*time.Second)
	require.True(t, check.Pass, check.Message)
	require.Contains(t, check.Message, "serving")
}

func TestCheckGRPCHealthNotServing(t *testing.T) {
	addr := startHealthServer(t, healthpb.HealthCheckResponse_NOT_SERVING)

	check := checkGRPCHealth(context.Background(), addr, 2*time.Second)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "NOT_SERVING")
}

func TestCheckGRPCHealthUnreachable(t *testing.T) {
	lis, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := lis.Addr().String()
	require.NoError(t, lis.Close())

	check := checkGRPCHealth(context.Background(), addr, 200*time.Millisecond)
	require.False(t, check.Pass)
	require.Contains(t, check.Message, "not ready")
}

func TestCheckStorage(t *testing.T) {
	root := filepath.Join(t.TempDir(), "videos")
	local := checkStorage(context.Background(), config.StorageConfig{Backend: config.StorageLocal, LocalRoot: root}, nil)
	require.True(t, local.Pass, local.Message)
	entries, err := os.ReadDir(root)
	require.NoError(t, err)
	require.Empty(t, entries)

	cfg := config.StorageConfig{Backend: config.StorageSupabase, Bucket: "videos"}
	require.False(t, checkStorage(context.Background(), cfg, nil).Pass)
	require.True(t, checkStorage(context.Background(), cfg, fakeBucket{exists: true}).Pass)

	missing := checkStorage(context.Background(), cfg, fakeBucket{})
	require.False(t, missing.Pass)
	require.Contains(t, missing.Message, "oratoria bucket")

	failed := checkStorage(context.Background(), cfg, fakeBucket{err: errors.New("HTTP 401")})
	require.False(t, failed.Pass)
	require.Equal(t, "HTTP 401", failed.Message)
}

func TestRunCollectsChecks(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.OwnerID = "user-1"
	cfg.Backend.BaseURL = srv.URL
	cfg.Backend.GRPCHealth = startHealthServer(t, healthpb.HealthCheckResponse_SERVING)
	cfg.Storage.Backend = config.StorageLocal
	cfg.Storage.LocalRoot = t.TempDir()

	report := Run(context.Background(), config.Loaded{Path: "x", Exists: true, Config: cfg}, Options{
		HTTP:         srv.Client(),
		Journal:      fakePinger{err: errors.New("database is locked")},
		selectDevice: fixedSelection("mic", ""),
	})

	names := make([]string, 0, len(report.Checks))
	for _, check := range report.Checks {
		names = append(names, check.Name)
	}
	assert.Contains(t, names, "owner_id")
	assert.Contains(t, names, "backend.health")
	assert.Contains(t, names, "backend.grpc_health")
	assert.Contains(t, names, "storage.local")
	assert.Contains(t, names, "journal.sqlite")
	require.False(t, report.OK())
	require.True(t, strings.Contains(report.String(), "[FAIL] journal.sqlite: database is locked"))
}
