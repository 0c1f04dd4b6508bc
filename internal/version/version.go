package version

import "runtime"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

func String() string {
	return "oratoria " + Version + " (commit=" + Commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}

// UserAgent identifies this client on outbound HTTP requests.
func UserAgent() string {
	return "oratoria/" + Version
}
