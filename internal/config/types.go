// Package config resolves, parses, validates and defaults oratoria configuration.
package config

// Config is the fully materialized runtime configuration.
type Config struct {
	OwnerID   string
	Backend   BackendConfig
	Storage   StorageConfig
	Capture   CaptureConfig
	Policy    PolicyConfig
	Journal   JournalConfig
	Notify    NotifyConfig
	Indicator IndicatorConfig
}

// BackendConfig points at the practice REST backend.
type BackendConfig struct {
	BaseURL    string
	Token      string
	HealthPath string
	// GRPCHealth is an optional host:port serving grpc.health.v1.
	GRPCHealth string
}

// StorageConfig selects the object store videos are uploaded to.
type StorageConfig struct {
	Backend       string
	URL           string
	Key           string
	Bucket        string
	CacheControl  string
	LocalRoot     string
	PublicBaseURL string
}

// CaptureConfig controls the ffmpeg recorder and its devices.
type CaptureConfig struct {
	FFmpeg        CommandConfig
	VideoFormat   string
	VideoDevice   string
	AudioInput    string
	AudioFallback string
	Container     string
	StartGraceMS  int
}

// PolicyConfig bounds which artifacts may be uploaded.
type PolicyConfig struct {
	MaxSizeBytes        int64
	AllowedMimePrefixes []string
}

// JournalConfig controls the local record of practice sessions.
type JournalConfig struct {
	Enable bool
	Driver string
	DSN    string
}

// NotifyConfig controls AMQP publication of completed practices.
type NotifyConfig struct {
	Enable     bool
	URL        string
	Exchange   string
	RoutingKey string
}

// IndicatorConfig controls desktop notifications.
type IndicatorConfig struct {
	Enable  bool
	AppName string
	Sound   bool
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
