package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/scrypster/memorytap/internal/archive"
	"github.com/scrypster/memorytap/internal/backup"
	"github.com/scrypster/memorytap/internal/engine"
	"github.com/scrypster/memorytap/internal/identity"
	"github.com/scrypster/memorytap/internal/inbox"
	"github.com/scrypster/memorytap/internal/insight"
	"github.com/scrypster/memorytap/pkg/types"
)

// fakeModel answers the OpenAI-compatible transcription and chat endpoints.
type fakeModel struct {
	calls atomic.Int32
}

func (f *fakeModel) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.calls.Add(1)
	w.Header().Set("Content-Type", "application/json")

	switch r.URL.Path {
	case "/v1/audio/transcriptions":
		_, _ = io.WriteString(w, `{"text":"remember to buy milk tomorrow"}`)

	case "/v1/chat/completions":
		var req struct {
			Messages []struct {
				Content string `json:"content"`
			} `json:"messages"`
		}
		_ = json.NewDecoder(r.Body).Decode(&req)
		var prompt string
		for _, m := range req.Messages {
			prompt += m.Content
		}

		var content string
		switch {
		case strings.Contains(prompt, "productivity coach"):
			content = `{"pattern":"You capture tasks in the evening","suggestion":"Review them each morning","productivityScore":72}`
		case strings.Contains(prompt, "personal assistant"):
			content = `{"summary":"Buy milk tomorrow.","title":"Buy milk","category":"task"}`
		default:
			content = `{"priorityIds":[],"analysis":"One errand left."}`
		}
		body, _ := json.Marshal(map[string]any{
			"id":     "chatcmpl-test",
			"object": "chat.completion",
			"choices": []map[string]any{{
				"index":         0,
				"message":       map[string]string{"role": "assistant", "content": content},
				"finish_reason": "stop",
			}},
		})
		_, _ = w.Write(body)

	default:
		http.NotFound(w, r)
	}
}

type cliEnv struct {
	dataDir   string
	backupDir string
	model     *fakeModel
}

func newCLIEnv(t *testing.T) *cliEnv {
	t.Helper()

	model := &fakeModel{}
	srv := httptest.NewServer(model)
	t.Cleanup(srv.Close)

	env := &cliEnv{
		dataDir:   t.TempDir(),
		backupDir: t.TempDir(),
		model:     model,
	}
	t.Setenv("MEMORYTAP_DATA_PATH", env.dataDir)
	t.Setenv("MEMORYTAP_BACKUP_DIR", env.backupDir)
	t.Setenv("MEMORYTAP_LLM_PROVIDER", "openai")
	t.Setenv("MEMORYTAP_LLM_API_KEY", "test-key")
	t.Setenv("MEMORYTAP_LLM_BASE_URL", srv.URL+"/v1")
	t.Setenv("MEMORYTAP_LOG_LEVEL", "error")
	t.Setenv("MEMORYTAP_SECURITY_MODE", "static")
	t.Setenv("MEMORYTAP_OWNER_ID", "local")
	return env
}

func (e *cliEnv) recording(t *testing.T, size int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "note.webm")
	require.NoError(t, os.WriteFile(path, bytes.Repeat([]byte{0x1a}, size), 0o644))
	return path
}

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func executeJSON(t *testing.T, v any, args ...string) {
	t.Helper()
	out, err := execute(t, args...)
	require.NoError(t, err, out)
	require.NoError(t, json.Unmarshal([]byte(out), v), out)
}

func TestCaptureListAndMutate(t *testing.T) {
	env := newCLIEnv(t)

	var saved types.Memory
	executeJSON(t, &saved, "capture", env.recording(t, 2000))
	assert.NotEmpty(t, saved.ID)
	assert.Equal(t, "local", saved.OwnerID)
	assert.Equal(t, "Buy milk", saved.Title)
	assert.Equal(t, types.CategoryTask, saved.Category)
	assert.Equal(t, "remember to buy milk tomorrow", saved.Content)

	var listed []*types.Memory
	executeJSON(t, &listed, "list")
	require.Len(t, listed, 1)
	assert.Equal(t, saved.ID, listed[0].ID)

	executeJSON(t, &listed, "list", "--category", "idea")
	assert.Empty(t, listed)
	executeJSON(t, &listed, "list", "-q", "MILK")
	assert.Len(t, listed, 1)

	var toggled toggleResult
	executeJSON(t, &toggled, "favorite", saved.ID)
	assert.Equal(t, toggleResult{ID: saved.ID, Value: true}, toggled)
	executeJSON(t, &toggled, "complete", saved.ID)
	assert.True(t, toggled.Value)

	out, err := execute(t, "list", "--favorites", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, saved.ID)
	assert.Contains(t, out, "favorite,done")

	out, err = execute(t, "get", saved.ID, "-f", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "remember to buy milk tomorrow")

	_, err = execute(t, "delete", saved.ID)
	require.NoError(t, err)
	executeJSON(t, &listed, "list")
	assert.Empty(t, listed)

	// A repeated delete is harmless.
	_, err = execute(t, "rm", saved.ID)
	assert.NoError(t, err)
}

func TestCaptureTooShortSkipsModel(t *testing.T) {
	env := newCLIEnv(t)

	_, err := execute(t, "capture", env.recording(t, 10))
	require.Error(t, err)
	assert.ErrorIs(t, err, engine.ErrTooShort)
	assert.Zero(t, env.model.calls.Load())

	var listed []*types.Memory
	executeJSON(t, &listed, "list")
	assert.Empty(t, listed)
}

func TestCaptureMinimumDisabled(t *testing.T) {
	env := newCLIEnv(t)
	t.Setenv("MEMORYTAP_MIN_AUDIO_BYTES", "0")

	var saved types.Memory
	executeJSON(t, &saved, "capture", env.recording(t, 500))
	assert.Equal(t, "Buy milk", saved.Title)
	assert.Positive(t, env.model.calls.Load())
}

func TestCaptureMissingFile(t *testing.T) {
	newCLIEnv(t)

	_, err := execute(t, "capture", filepath.Join(t.TempDir(), "missing.webm"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "capture device unavailable")
}

func TestOwnersAreIsolated(t *testing.T) {
	env := newCLIEnv(t)

	var saved types.Memory
	executeJSON(t, &saved, "capture", env.recording(t, 2000), "--owner", "alice")
	assert.Equal(t, "alice", saved.OwnerID)

	var listed []*types.Memory
	executeJSON(t, &listed, "list", "--owner", "bob")
	assert.Empty(t, listed)

	// Bob cannot toggle Alice's memory.
	_, err := execute(t, "favorite", saved.ID, "--owner", "bob")
	assert.Error(t, err)

	executeJSON(t, &listed, "list", "--owner", "alice")
	require.Len(t, listed, 1)
	assert.False(t, listed[0].IsFavorite)
}

func TestGetUnknownMemory(t *testing.T) {
	newCLIEnv(t)

	_, err := execute(t, "get", "nope")
	assert.Error(t, err)
}

func TestFocusAndAnalytics(t *testing.T) {
	env := newCLIEnv(t)

	var empty focusReport
	executeJSON(t, &empty, "focus")
	assert.Equal(t, insight.AllCaughtUp, empty.Analysis)
	assert.Empty(t, empty.Priorities)

	var saved types.Memory
	executeJSON(t, &saved, "capture", env.recording(t, 2000))

	var focus focusReport
	executeJSON(t, &focus, "focus")
	assert.Equal(t, "One errand left.", focus.Analysis)
	assert.False(t, focus.Degraded)

	var report analyticsReport
	executeJSON(t, &report, "analytics")
	assert.Equal(t, 1, report.Stats.Total)
	assert.Equal(t, 1, report.Stats.ByCategory[types.CategoryTask])
	assert.Equal(t, 1, report.Stats.PendingActionable)
	assert.Equal(t, 72, report.Habits.ProductivityScore)

	out, err := execute(t, "analytics", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Review them each morning")
}

func TestBackupCommands(t *testing.T) {
	env := newCLIEnv(t)

	var saved types.Memory
	executeJSON(t, &saved, "capture", env.recording(t, 2000))

	var result backup.Result
	executeJSON(t, &result, "backup")
	assert.True(t, result.Verified)
	assert.Equal(t, env.backupDir, filepath.Dir(result.Path))

	var snapshots []backup.Info
	executeJSON(t, &snapshots, "backup", "--list")
	require.Len(t, snapshots, 1)

	var status backup.Status
	executeJSON(t, &status, "backup", "--status")
	assert.Equal(t, 1, status.TotalBackups)

	_, err := execute(t, "delete", saved.ID)
	require.NoError(t, err)

	_, err = execute(t, "backup", "--restore", result.Path)
	require.NoError(t, err)

	var listed []*types.Memory
	executeJSON(t, &listed, "list")
	require.Len(t, listed, 1)
	assert.Equal(t, saved.ID, listed[0].ID)

	_, err = execute(t, "backup", "--list", "--status")
	assert.Error(t, err)
}

func TestExportAndImport(t *testing.T) {
	env := newCLIEnv(t)
	notes := t.TempDir()

	var saved types.Memory
	executeJSON(t, &saved, "capture", env.recording(t, 2000))

	var exported archive.ExportResult
	executeJSON(t, &exported, "export", notes)
	assert.Equal(t, 1, exported.Written)
	assert.FileExists(t, filepath.Join(notes, archive.NotePath(&saved)))

	_, err := execute(t, "delete", saved.ID)
	require.NoError(t, err)

	var imported archive.ImportResult
	executeJSON(t, &imported, "import", notes)
	assert.Equal(t, 1, imported.MemoriesCreated)

	var got types.Memory
	executeJSON(t, &got, "get", saved.ID)
	assert.Equal(t, "Buy milk", got.Title)
	assert.Equal(t, "Buy milk tomorrow.", got.Summary)
	assert.Equal(t, types.CategoryTask, got.Category)

	out, err := execute(t, "import", notes, "-f", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Imported 0 memories from 1 files (1 skipped, 0 failed)")

	_, err = execute(t, "import", filepath.Join(notes, "missing"))
	assert.Error(t, err)
}

func TestTokenCommand(t *testing.T) {
	newCLIEnv(t)

	_, err := execute(t, "token")
	assert.Error(t, err, "static mode cannot issue tokens")

	const secret = "0123456789abcdef0123"
	t.Setenv("MEMORYTAP_SECURITY_MODE", "jwt")
	t.Setenv("MEMORYTAP_JWT_SECRET", secret)

	var res tokenResponse
	executeJSON(t, &res, "token", "--owner", "alice", "--ttl", "1h")
	assert.Equal(t, "alice", res.OwnerID)

	p, err := identity.NewJWTProvider(secret, "memorytap")
	require.NoError(t, err)
	principal, err := p.Identify(context.Background(), res.Token)
	require.NoError(t, err)
	assert.Equal(t, "alice", principal.OwnerID)

	_, err = execute(t, "token", "--ttl", "0s")
	assert.Error(t, err)
}

func TestUnknownFormat(t *testing.T) {
	newCLIEnv(t)

	_, err := execute(t, "list", "--format", "yaml")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}

func TestConfigFileErrors(t *testing.T) {
	newCLIEnv(t)

	_, err := execute(t, "list", "--config", filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func freePort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	require.NoError(t, ln.Close())
	return port
}

func TestServeUntilCancelled(t *testing.T) {
	newCLIEnv(t)
	t.Setenv("MEMORYTAP_PORT", fmt.Sprint(freePort(t)))
	t.Setenv("MEMORYTAP_API_TOKEN", "secret-token")

	ready := make(chan string, 1)
	c := &serveCommander{
		root:  &rootOptions{format: formatJSON, logWriter: io.Discard},
		ready: func(addr string) { ready <- addr },
	}

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.run(ctx, io.Discard) }()

	var addr string
	select {
	case addr = <-ready:
	case err := <-done:
		t.Fatalf("serve exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not start")
	}

	resp, err := http.Get("http://" + addr + "/api/health")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	resp, err = http.Get("http://" + addr + "/api/memories")
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	req, err := http.NewRequest(http.MethodGet, "http://"+addr+"/api/memories", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("serve did not return after cancel")
	}
}

func TestWatchCapturesDroppedRecordings(t *testing.T) {
	env := newCLIEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "early.webm"), bytes.Repeat([]byte{1}, 2000), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "tiny.webm"), []byte{1, 2, 3}, 0o644))

	root := &rootOptions{format: formatJSON, logWriter: io.Discard}
	ctx, cancel := context.WithCancel(context.Background())
	var out bytes.Buffer
	done := make(chan error, 1)
	go func() { done <- runWatch(ctx, root, dir, &out) }()

	require.Eventually(t, func() bool {
		_, err1 := os.Stat(filepath.Join(dir, inbox.ProcessedDir, "early.webm"))
		_, err2 := os.Stat(filepath.Join(dir, inbox.FailedDir, "tiny.webm"))
		return err1 == nil && err2 == nil
	}, 10*time.Second, 50*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("watch did not return after cancel")
	}
	assert.Contains(t, out.String(), "Captured 1 recordings, 1 failed")

	var listed []*types.Memory
	executeJSON(t, &listed, "list")
	require.Len(t, listed, 1)
	assert.Equal(t, "Buy milk", listed[0].Title)
	assert.NotZero(t, env.model.calls.Load())
}
