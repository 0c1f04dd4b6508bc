package artifact

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

var webmHeader = []byte("\x1a\x45\xdf\xa3\x42\x82\x84webm\x00\x00\x00\x00")

func writeFile(t *testing.T, name string, content []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, content, 0o600))
	return path
}

func TestOpenFileSniffsWebm(t *testing.T) {
	path := writeFile(t, "take-1.bin", append(webmHeader, make([]byte, 2048)...))

	c, err := OpenFile(path)
	require.NoError(t, err)
	t.Cleanup(func() { require.NoError(t, c.Release()) })

	require.Equal(t, SourceUploaded, c.Source)
	require.Equal(t, "video/webm", c.MimeType)
	require.Equal(t, int64(len(webmHeader)+2048), c.SizeBytes)
	require.Len(t, c.Bytes, int(c.SizeBytes))
	require.Equal(t, "take-1.bin", c.SuggestedName)
}

func TestOpenFileFallsBackToExtension(t *testing.T) {
	path := writeFile(t, "clip.MP4", []byte("plain words that sniff as text"))

	c, err := OpenFile(path)
	require.NoError(t, err)
	defer c.Release()

	require.Equal(t, "video/mp4", c.MimeType)
	require.Equal(t, "mp4", c.Extension())
}

func TestOpenFileEmptyFileIsNotMapped(t *testing.T) {
	path := writeFile(t, "empty.webm", nil)

	c, err := OpenFile(path)
	require.NoError(t, err)
	require.Nil(t, c.Bytes)
	require.Zero(t, c.SizeBytes)
	require.Equal(t, "video/webm", c.MimeType)
	require.NoError(t, c.Release())
}

func TestOpenFileErrors(t *testing.T) {
	_, err := OpenFile(filepath.Join(t.TempDir(), "missing.webm"))
	require.ErrorIs(t, err, os.ErrNotExist)

	_, err = OpenFile(t.TempDir())
	require.Error(t, err)
	require.Contains(t, err.Error(), "is a directory")
}

func TestReleaseIsIdempotent(t *testing.T) {
	path := writeFile(t, "take.webm", append(webmHeader, 1, 2, 3))
	c, err := OpenFile(path)
	require.NoError(t, err)

	require.NoError(t, c.Release())
	require.NoError(t, c.Release())
	require.Nil(t, c.Bytes)

	var nilCandidate *Candidate
	require.NoError(t, nilCandidate.Release())
}

func TestExtension(t *testing.T) {
	tests := []struct {
		name string
		c    Candidate
		want string
	}{
		{name: "matching name kept", c: Candidate{SuggestedName: "a.M4V", MimeType: "video/mp4"}, want: "m4v"},
		{name: "sniffed type beats name", c: Candidate{SuggestedName: "a.mov", MimeType: "video/webm"}, want: "webm"},
		{name: "name kept for unknown type", c: Candidate{SuggestedName: "a.mov", MimeType: "application/pdf"}, want: "mov"},
		{name: "mime with params", c: Candidate{MimeType: "video/webm;codecs=vp8,opus"}, want: "webm"},
		{name: "avi", c: Candidate{MimeType: "video/x-msvideo"}, want: "avi"},
		{name: "unknown", c: Candidate{MimeType: "application/pdf"}, want: "bin"},
	}
	for i := range tests {
		tc := &tests[i]
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, tc.c.Extension())
		})
	}
}

func TestOpenFileMislabeledExtensionFollowsContent(t *testing.T) {
	mp4Header := []byte("\x00\x00\x00\x18ftypmp42\x00\x00\x00\x00mp42isom")
	path := writeFile(t, "talk.txt", append(mp4Header, make([]byte, 1024)...))

	c, err := OpenFile(path)
	require.NoError(t, err)
	defer c.Release()

	require.Equal(t, "video/mp4", c.MimeType)
	require.Equal(t, "mp4", c.Extension())
}

func TestNewRecorded(t *testing.T) {
	c := NewRecorded([]byte("abc"), " video/webm ", "practica-1.webm")
	require.Equal(t, SourceRecorded, c.Source)
	require.Equal(t, "video/webm", c.MimeType)
	require.Equal(t, int64(3), c.SizeBytes)
	require.NoError(t, c.Release())
}
