package handlers

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/danielgtaylor/huma/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jmylchreest/streamrelay/internal/relay"
	"github.com/jmylchreest/streamrelay/internal/storage"
)

const testPlaylist = `#EXTM3U
#EXT-X-VERSION:3
#EXT-X-TARGETDURATION:2
#EXT-X-MEDIA-SEQUENCE:7
#EXTINF:2.000000,
segment_007.ts
#EXTINF:2.000000,
segment_008.ts
`

type startCall struct {
	mode   string
	source string
	target string
	name   string
}

// fakeManager records calls and serves canned sessions.
type fakeManager struct {
	mu       sync.Mutex
	sessions map[string]relay.SessionInfo
	starts   []startCall
	stops    []string
	startErr error
	stopErr  error
	circuits map[string]relay.CircuitStats
}

func newFakeManager() *fakeManager {
	return &fakeManager{sessions: make(map[string]relay.SessionInfo)}
}

func fakeKey(mode, name string) string { return mode + "/" + name }

// add registers info under its mode and name.
func (m *fakeManager) add(info relay.SessionInfo) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sessions[fakeKey(info.Mode, info.Name)] = info
}

func (m *fakeManager) StartRelay(ctx context.Context, source, target, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, startCall{mode: "relay", source: source, target: target, name: name})
	if m.startErr != nil {
		return "", m.startErr
	}
	m.sessions[fakeKey("relay", name)] = relay.SessionInfo{Name: name, Mode: "relay", State: "running", Source: source, Target: target}
	return target, nil
}

func (m *fakeManager) StartTranscode(ctx context.Context, source, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.starts = append(m.starts, startCall{mode: "transcode", source: source, name: name})
	if m.startErr != nil {
		return "", m.startErr
	}
	m.sessions[fakeKey("transcode", name)] = relay.SessionInfo{Name: name, Mode: "transcode", State: "running", Source: source}
	return "http://localhost:8080/api/stream/hls/" + name + "/stream.m3u8", nil
}

func (m *fakeManager) Stop(ctx context.Context, mode relay.Mode, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := fakeKey(mode.String(), name)
	m.stops = append(m.stops, key)
	delete(m.sessions, key)
	return m.stopErr
}

func (m *fakeManager) Get(mode relay.Mode, name string) (relay.SessionInfo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	info, ok := m.sessions[fakeKey(mode.String(), name)]
	if !ok {
		return relay.SessionInfo{}, &relay.SessionNotFoundError{Name: name, Mode: mode}
	}
	return info, nil
}

func (m *fakeManager) List() []relay.SessionInfo {
	m.mu.Lock()
	defer m.mu.Unlock()
	infos := make([]relay.SessionInfo, 0, len(m.sessions))
	for _, info := range m.sessions {
		infos = append(infos, info)
	}
	sort.Slice(infos, func(i, j int) bool { return fakeKey(infos[i].Name, infos[i].Mode) < fakeKey(infos[j].Name, infos[j].Mode) })
	return infos
}

func (m *fakeManager) Count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

func (m *fakeManager) CircuitStats() map[string]relay.CircuitStats {
	return m.circuits
}

func (m *fakeManager) RelayURL(port int, name string) string {
	if port <= 0 {
		port = 8554
	}
	return fmt.Sprintf("rtsp://media:%d/%s", port, name)
}

func (m *fakeManager) SourceURL(port int, name string) string {
	return m.RelayURL(port, name)
}

func newTestStore(t *testing.T) *storage.HLSStore {
	t.Helper()
	store, err := storage.NewHLSStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func writeStreamFile(t *testing.T, store *storage.HLSStore, name, file, content string) {
	t.Helper()
	dir := filepath.Join(store.BaseDir(), name)
	require.NoError(t, os.MkdirAll(dir, 0750))
	require.NoError(t, os.WriteFile(filepath.Join(dir, file), []byte(content), 0640))
}

func requireStatus(t *testing.T, err error, want int) {
	t.Helper()
	require.Error(t, err)
	var se huma.StatusError
	require.True(t, errors.As(err, &se), "expected huma status error, got %T", err)
	assert.Equal(t, want, se.GetStatus())
}

func TestStartError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"duplicate", &relay.DuplicateSessionError{Name: "cam"}, 409},
		{"invalid name", &relay.InvalidSessionNameError{Name: "../x"}, 422},
		{"input open", &relay.InputOpenError{Name: "cam", Source: "rtsp://x", Err: errors.New("refused")}, 502},
		{"circuit open", &relay.InputOpenError{Name: "cam", Source: "rtsp://x", Err: relay.ErrCircuitOpen}, 502},
		{"output open", &relay.OutputOpenError{Name: "cam", Err: errors.New("codec")}, 500},
		{"manager closed", relay.ErrManagerClosed, 503},
		{"timeout", fmt.Errorf("opening: %w", context.DeadlineExceeded), 504},
		{"other", errors.New("boom"), 500},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			requireStatus(t, startError(tt.err), tt.want)
		})
	}
}
