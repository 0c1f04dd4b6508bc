package artifact

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidMediaType = errors.New("only video files are allowed")
	ErrSizeExceeded     = errors.New("video exceeds the maximum allowed size")
)

// DefaultMaxSizeBytes is 500 MiB.
const DefaultMaxSizeBytes int64 = 500 << 20

// DefaultAllowedMimePrefixes lists the container types the backend accepts.
var DefaultAllowedMimePrefixes = []string{
	"video/mp4",
	"video/webm",
	"video/quicktime",
	"video/x-msvideo",
}

// Policy bundles the limits applied by Validate.
type Policy struct {
	MaxSizeBytes        int64
	AllowedMimePrefixes []string
}

func DefaultPolicy() Policy {
	return Policy{
		MaxSizeBytes:        DefaultMaxSizeBytes,
		AllowedMimePrefixes: append([]string(nil), DefaultAllowedMimePrefixes...),
	}
}

func (p Policy) Validate(c *Candidate) (*Candidate, error) {
	return Validate(c, p.MaxSizeBytes, p.AllowedMimePrefixes)
}

// Validate accepts c unchanged when its declared type matches one of allowed
// and its size is within maxSizeBytes. The type check runs first.
func Validate(c *Candidate, maxSizeBytes int64, allowed []string) (*Candidate, error) {
	if c == nil {
		return nil, fmt.Errorf("%w: no video provided", ErrInvalidMediaType)
	}

	mimeType := strings.ToLower(strings.TrimSpace(c.MimeType))
	if !matchesPrefix(mimeType, allowed) {
		if mimeType == "" {
			mimeType = "unknown"
		}
		return nil, fmt.Errorf("%w: got %s", ErrInvalidMediaType, mimeType)
	}

	if c.SizeBytes > maxSizeBytes {
		return nil, fmt.Errorf(
			"%w: %s is larger than %s",
			ErrSizeExceeded,
			HumanSize(c.SizeBytes),
			HumanSize(maxSizeBytes),
		)
	}
	return c, nil
}

func matchesPrefix(mimeType string, allowed []string) bool {
	if mimeType == "" {
		return false
	}
	for _, prefix := range allowed {
		prefix = strings.ToLower(strings.TrimSpace(prefix))
		if prefix != "" && strings.HasPrefix(mimeType, prefix) {
			return true
		}
	}
	return false
}

// HumanSize renders n bytes in binary units.
func HumanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
