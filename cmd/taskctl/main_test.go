package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestTaskctl_Stats(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		assert.Equal(t, "/tasks/stats", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]int{
			"total": 4, "completed": 3, "pending": 1, "completionRate": 75, "thisWeek": 2,
		})
	}))
	defer srv.Close()

	out, err := run(t, "--url", srv.URL, "--token", "secret", "stats")
	require.NoError(t, err)
	assert.Contains(t, out, "completion rate")
	assert.Contains(t, out, "75%")
}

func TestTaskctl_ListSendsFilters(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "pending", r.URL.Query().Get("filter"))
		assert.Equal(t, "milk", r.URL.Query().Get("q"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[{"id":"6ba7b810-9dad-11d1-80b4-00c04fd430c8","owner":"alice","title":"Buy milk","status":"pending","createdAt":"2026-10-19T10:00:00Z","updatedAt":"2026-10-19T10:00:00Z"}]`))
	}))
	defer srv.Close()

	out, err := run(t, "--url", srv.URL, "--token", "secret", "list", "--filter", "pending", "-q", "milk")
	require.NoError(t, err)
	assert.Contains(t, out, "Buy milk")
	assert.Contains(t, out, "6ba7b810-9dad-11d1-80b4-00c04fd430c8")
}

func TestTaskctl_RequiresToken(t *testing.T) {
	t.Setenv("TASKBOARD_TOKEN", "")
	_, err := run(t, "--url", "http://127.0.0.1:1", "stats")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no token")
}

func TestTaskctl_RejectsMalformedID(t *testing.T) {
	_, err := run(t, "--token", "secret", "done", "not-a-uuid")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid task id")
}
