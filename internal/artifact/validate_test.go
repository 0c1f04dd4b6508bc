package artifact

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestValidateAcceptsAllowedTypes(t *testing.T) {
	policy := DefaultPolicy()
	for _, mimeType := range []string{"video/mp4", "video/webm;codecs=vp9", "VIDEO/QUICKTIME", "video/x-msvideo"} {
		c := &Candidate{MimeType: mimeType, SizeBytes: 200 * 1024}
		got, err := policy.Validate(c)
		require.NoError(t, err, mimeType)
		require.Same(t, c, got)
	}
}

func TestValidateRejectsType(t *testing.T) {
	_, err := Validate(&Candidate{MimeType: "application/pdf", SizeBytes: 10}, DefaultMaxSizeBytes, DefaultAllowedMimePrefixes)
	require.ErrorIs(t, err, ErrInvalidMediaType)
	require.Contains(t, err.Error(), "application/pdf")

	_, err = Validate(&Candidate{SizeBytes: 10}, DefaultMaxSizeBytes, DefaultAllowedMimePrefixes)
	require.ErrorIs(t, err, ErrInvalidMediaType)

	_, err = Validate(nil, DefaultMaxSizeBytes, DefaultAllowedMimePrefixes)
	require.ErrorIs(t, err, ErrInvalidMediaType)
}

func TestValidateTypeCheckedBeforeSize(t *testing.T) {
	_, err := Validate(&Candidate{MimeType: "image/png", SizeBytes: DefaultMaxSizeBytes + 1}, DefaultMaxSizeBytes, DefaultAllowedMimePrefixes)
	require.ErrorIs(t, err, ErrInvalidMediaType)
	require.NotErrorIs(t, err, ErrSizeExceeded)
}

func TestValidateSizeBoundary(t *testing.T) {
	atLimit := &Candidate{MimeType: "video/mp4", SizeBytes: DefaultMaxSizeBytes}
	_, err := Validate(atLimit, DefaultMaxSizeBytes, DefaultAllowedMimePrefixes)
	require.NoError(t, err)

	over := &Candidate{MimeType: "video/mp4", SizeBytes: 600 << 20}
	_, err = Validate(over, DefaultMaxSizeBytes, DefaultAllowedMimePrefixes)
	require.ErrorIs(t, err, ErrSizeExceeded)
	require.Contains(t, err.Error(), "600.0 MiB")
	require.Contains(t, err.Error(), "500.0 MiB")
}

func TestHumanSize(t *testing.T) {
	require.Equal(t, "512 B", HumanSize(512))
	require.Equal(t, "1.5 KiB", HumanSize(1536))
	require.Equal(t, "500.0 MiB", HumanSize(500<<20))
}
