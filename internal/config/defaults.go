package config

const (
	StorageSupabase = "supabase"
	StorageLocal    = "local"

	JournalSQLite   = "sqlite"
	JournalPostgres = "postgres"
)

// Default returns the configuration used when no file is present.
func Default() Config {
	ffmpeg := "ffmpeg"

	return Config{
		Backend: BackendConfig{
			BaseURL:    "http://127.0.0.1:3000/api",
			HealthPath: "/health",
		},
		Storage: StorageConfig{
			Backend:      StorageSupabase,
			Bucket:       "videos",
			CacheControl: "3600",
		},
		Capture: CaptureConfig{
			FFmpeg:        CommandConfig{Raw: ffmpeg, Argv: mustSplitCommand(ffmpeg)},
			VideoFormat:   "v4l2",
			VideoDevice:   "/dev/video0",
			AudioInput:    "default",
			AudioFallback: "default",
			Container:     "webm",
			StartGraceMS:  250,
		},
		Policy: PolicyConfig{
			MaxSizeBytes: 500 << 20,
			AllowedMimePrefixes: []string{
				"video/mp4",
				"video/webm",
				"video/quicktime",
				"video/x-msvideo",
			},
		},
		Journal: JournalConfig{
			Enable: true,
			Driver: JournalSQLite,
		},
		Notify: NotifyConfig{
			Exchange:   "oratoria.practice",
			RoutingKey: "practice.completed",
		},
		Indicator: IndicatorConfig{
			Enable:  true,
			AppName: "oratoria",
			Sound:   true,
		},
	}
}
