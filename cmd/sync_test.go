package cmd

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/memexhq/memex/internal/record"
)

// syncFixture writes a server config and an edge instance config, points the
// global --config flag at the former, and returns the instance config path
// plus the data dir records live under.
func syncFixture(t *testing.T, edgeJSON string) (edgePath, dataDir string) {
	t.Helper()
	base := t.TempDir()
	dataDir = filepath.Join(base, "data")

	cfgPath := filepath.Join(base, "config.json")
	cfgJSON := fmt.Sprintf(`{data: {base_dir: %q}, sync: {max_attempts: 1}}`, dataDir)
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfgJSON), 0o644))

	edgePath = filepath.Join(base, "instance.json")
	require.NoError(t, os.WriteFile(edgePath, []byte(edgeJSON), 0o644))

	prev := cfgFile
	cfgFile = cfgPath
	t.Cleanup(func() { cfgFile = prev })
	return edgePath, dataDir
}

func TestRunSyncMissingInstanceConfig(t *testing.T) {
	_, _ = syncFixture(t, `{instance_name: "edge"}`)
	code := runSync(filepath.Join(t.TempDir(), "nope.json"), false, false)
	assert.Equal(t, 1, code)
}

func TestRunSyncMissingToken(t *testing.T) {
	t.Setenv("MEMEX_PROMETHEUS_TOKEN", "")
	edgePath, _ := syncFixture(t, `{
		instance_name: "edge",
		hosting_mode: "remote",
		remote_tunnel_url: "http://127.0.0.1:9",
	}`)

	code := runSync(edgePath, false, false)
	assert.Equal(t, 1, code)
}

func TestRunSyncUnreachableDirectTarget(t *testing.T) {
	edgePath, _ := syncFixture(t, `{
		instance_name: "edge",
		hosting_mode: "remote",
		remote_host: "127.0.0.1",
		remote_chroma_port: 1,
	}`)

	code := runSync(edgePath, false, false)
	assert.Equal(t, 1, code)
}

func TestRunSyncCleanTunnel(t *testing.T) {
	t.Setenv("MEMEX_PROMETHEUS_TOKEN", "edge-token")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"instance":"edge","count":0,"ids":[]}`))
	}))
	defer srv.Close()

	edgePath, _ := syncFixture(t, fmt.Sprintf(`{
		instance_name: "edge",
		hosting_mode: "remote",
		remote_tunnel_url: %q,
	}`, srv.URL))

	code := runSync(edgePath, false, false)
	assert.Equal(t, 0, code)
}

func TestRunSyncRejectedRecordsAreInternal(t *testing.T) {
	t.Setenv("MEMEX_PROMETHEUS_TOKEN", "edge-token")
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet {
			w.Write([]byte(`{"instance":"edge","count":0,"ids":[]}`))
			return
		}
		http.Error(w, "broken", http.StatusInternalServerError)
	}))
	defer srv.Close()

	edgePath, dataDir := syncFixture(t, fmt.Sprintf(`{
		instance_name: "edge",
		hosting_mode: "remote",
		remote_tunnel_url: %q,
	}`, srv.URL))

	store, err := record.NewStore(filepath.Join(dataDir, "edge", "ocr"))
	require.NoError(t, err)
	rec := record.New(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC), "screen_0", "text", "test", "")
	require.NoError(t, store.PutRecord(rec))

	code := runSync(edgePath, false, false)
	assert.Equal(t, 2, code)
}
