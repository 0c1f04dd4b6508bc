package practice

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/aldaxho/couchoratorariaweb/internal/artifact"
	"github.com/aldaxho/couchoratorariaweb/internal/backend"
	"github.com/aldaxho/couchoratorariaweb/internal/capture"
	"github.com/aldaxho/couchoratorariaweb/internal/storage"
)

type fakeSessions struct {
	mu           sync.Mutex
	openErr      error
	finalizeErrs []error
	finalizeGate chan struct{}
	opens        int
	finalizes    int
	urls         []string
}

func (f *fakeSessions) OpenSession(context.Context) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return "", f.openErr
	}
	return fmt.Sprintf("s-%d", f.opens), nil
}

func (f *fakeSessions) FinalizeSession(ctx context.Context, sessionID string, url string) (string, error) {
	f.mu.Lock()
	f.finalizes++
	f.urls = append(f.urls, url)
	gate := f.finalizeGate
	var err error
	if len(f.finalizeErrs) > 0 {
		err = f.finalizeErrs[0]
		f.finalizeErrs = f.finalizeErrs[1:]
	}
	n := f.finalizes
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return "", ctx.Err()
		}
	}
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("p-%s-%d", sessionID, n), nil
}

func (f *fakeSessions) counts() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.finalizes
}

type memoryBucket struct {
	mu       sync.Mutex
	objects  map[string][]byte
	puts     int
	removed  []string
	putErr   error
	blockPut bool
	putStart chan struct{}
}

func newMemoryBucket() *memoryBucket {
	return &memoryBucket{objects: map[string][]byte{}, putStart: make(chan struct{}, 8)}
}

func (m *memoryBucket) Put(ctx context.Context, obj storage.Object) error {
	m.mu.Lock()
	m.puts++
	block, err := m.blockPut, m.putErr
	m.mu.Unlock()
	m.putStart <- struct{}{}

	if block {
		<-ctx.Done()
		return ctx.Err()
	}
	if err != nil {
		return err
	}
	payload, readErr := io.ReadAll(obj.Body)
	if readErr != nil {
		return readErr
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.objects[obj.Path]; ok {
		return storage.ErrUploadRejected
	}
	m.objects[obj.Path] = payload
	return nil
}

func (m *memoryBucket) PublicURL(path string) (string, error) {
	return "https://cdn.test/videos/" + path, nil
}

func (m *memoryBucket) Remove(_ context.Context, paths ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range paths {
		delete(m.objects, p)
		m.removed = append(m.removed, p)
	}
	return nil
}

func (m *memoryBucket) List(context.Context, string, int) ([]storage.ObjectInfo, error) {
	return nil, nil
}

func (m *memoryBucket) stats() (puts int, stored int, removed []string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.puts, len(m.objects), append([]string(nil), m.removed...)
}

type fakeStream struct {
	mu       sync.Mutex
	chunks   chan []byte
	payload  []byte
	closed   bool
	tracks   atomic.Int32
	releases atomic.Int32
}

func (s *fakeStream) Chunks() <-chan []byte { return s.chunks }
func (s *fakeStream) ActiveTracks() int     { return int(s.tracks.Load()) }

func (s *fakeStream) StopRecording() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.chunks <- s.payload
		s.closed = true
		close(s.chunks)
	}
	return nil
}

func (s *fakeStream) Release() error {
	s.releases.Add(1)
	s.tracks.Store(0)
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.closed {
		s.closed = true
		close(s.chunks)
	}
	return nil
}

type fakeHost struct {
	mu      sync.Mutex
	err     error
	payload []byte
	streams []*fakeStream
}

func (h *fakeHost) Acquire(context.Context, capture.Constraints) (capture.Stream, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.err != nil {
		return nil, h.err
	}
	s := &fakeStream{chunks: make(chan []byte, 1), payload: h.payload}
	s.tracks.Store(2)
	h.streams = append(h.streams, s)
	return s, nil
}

func (h *fakeHost) last() *fakeStream {
	h.mu.Lock()
	defer h.mu.Unlock()
	if len(h.streams) == 0 {
		return nil
	}
	return h.streams[len(h.streams)-1]
}

type progressRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func (r *progressRecorder) Observe(_ context.Context, snap Snapshot) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
}

func (r *progressRecorder) all() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

type fixture struct {
	orch     *Orchestrator
	sessions *fakeSessions
	bucket   *memoryBucket
	host     *fakeHost
	capture  *capture.Controller
	files    map[string]*artifact.Candidate
	observer *progressRecorder
}

const ownerID = "user-1"

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		sessions: &fakeSessions{},
		bucket:   newMemoryBucket(),
		host:     &fakeHost{payload: bytes.Repeat([]byte{0x1a}, 200*1024)},
		files:    map[string]*artifact.Candidate{},
		observer: &progressRecorder{},
	}
	f.capture = capture.NewController(f.host, capture.WebM, nil)
	f.orch = New(f.sessions, storage.NewUploader(f.bucket, nil), f.capture, Options{
		OwnerID: ownerID,
		Loader: func(path string) (*artifact.Candidate, error) {
			c, ok := f.files[path]
			if !ok {
				return nil, errors.New("open " + path + ": no such file or directory")
			}
			return c, nil
		},
	})
	f.orch.Subscribe(f.observer)
	return f
}

func (f *fixture) addFile(path string, mimeType string, size int64) {
	f.files[path] = &artifact.Candidate{
		Source:        artifact.SourceUploaded,
		Bytes:         []byte("file-bytes"),
		MimeType:      mimeType,
		SizeBytes:     size,
		SuggestedName: path,
	}
}

var errBackend500 = fmt.Errorf("%w: %w", backend.ErrSessionFinalizeFailed, &backend.StatusError{Code: 500, Message: "internal error"})
