package client_test

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"taskboard/internal/client"
	"taskboard/internal/database"
	"taskboard/internal/handlers"
	"taskboard/internal/middleware"
	"taskboard/internal/models"
	"taskboard/internal/repositories"
	"taskboard/internal/services"
	"taskboard/internal/stats"

	"github.com/gin-gonic/gin"
	"github.com/gofrs/uuid"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm/logger"
)

const testSecret = "client-test-secret"

func startServer(t *testing.T) *httptest.Server {
	t.Helper()
	gin.SetMode(gin.TestMode)

	name := uuid.Must(uuid.NewV4())
	pool, err := database.NewDatabasePool(&database.PoolConfig{
		Driver:       database.DriverSQLite,
		DSN:          "file:" + name.String() + "?mode=memory&cache=shared",
		MaxOpenConns: 1,
		MaxIdleConns: 1,
		LogLevel:     logger.Silent,
	})
	require.NoError(t, err)
	require.NoError(t, pool.Migrate())
	t.Cleanup(func() { pool.Close() })

	router := handlers.NewRouter(handlers.RouterConfig{
		TaskService: services.NewTaskService(repositories.NewTaskRepository(pool.DB), services.WithLocation(time.UTC)),
		Identity:    middleware.IdentityConfig{Secret: []byte(testSecret)},
	})
	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return srv
}

func token(t *testing.T, subject string) string {
	t.Helper()
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.RegisteredClaims{
		Subject:   subject,
		ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
	}).SignedString([]byte(testSecret))
	require.NoError(t, err)
	return signed
}

func TestClient_CRUD(t *testing.T) {
	srv := startServer(t)
	c := client.New(srv.URL+"/api", token(t, "alice"))
	ctx := context.Background()

	created, err := c.CreateTask(ctx, client.CreateRequest{Title: "Write report", DueDate: "2026-11-02"})
	require.NoError(t, err)
	assert.Equal(t, "alice", created.Owner)
	assert.Equal(t, models.StatusPending, created.Status)
	require.NotNil(t, created.DueDate)
	assert.Equal(t, time.Date(2026, 11, 2, 0, 0, 0, 0, time.UTC), created.DueDate.UTC())

	fetched, err := c.GetTask(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, created.Title, fetched.Title)

	title := "Write final report"
	updated, err := c.UpdateTask(ctx, created.ID, client.UpdateRequest{Title: &title, ClearDueDate: true})
	require.NoError(t, err)
	assert.Equal(t, title, updated.Title)
	assert.Nil(t, updated.DueDate)

	tasks, err := c.ListTasks(ctx, client.ListOptions{})
	require.NoError(t, err)
	require.Len(t, tasks, 1)

	require.NoError(t, c.DeleteTask(ctx, created.ID))
	_, err = c.GetTask(ctx, created.ID)
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestClient_ListOptions(t *testing.T) {
	srv := startServer(t)
	c := client.New(srv.URL, token(t, "alice"))
	ctx := context.Background()

	for _, title := range []string{"Buy milk", "Buy bread", "Call mom"} {
		_, err := c.CreateTask(ctx, client.CreateRequest{Title: title})
		require.NoError(t, err)
	}

	tasks, err := c.ListTasks(ctx, client.ListOptions{Search: "buy"})
	require.NoError(t, err)
	assert.Len(t, tasks, 2)

	tasks, err = c.ListTasks(ctx, client.ListOptions{Limit: 1})
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "Call mom", tasks[0].Title)
}

func TestClient_Errors(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()

	anonymous := client.New(srv.URL, "")
	_, err := anonymous.ListTasks(ctx, client.ListOptions{})
	assert.ErrorIs(t, err, client.ErrUnauthenticated)

	c := client.New(srv.URL, token(t, "alice"))
	_, err = c.CreateTask(ctx, client.CreateRequest{Title: "   "})
	var apiErr *client.APIError
	require.True(t, errors.As(err, &apiErr), "got %v", err)
	assert.Equal(t, http.StatusBadRequest, apiErr.StatusCode)
	assert.Equal(t, "validation_failed", apiErr.Code)
	assert.Equal(t, "title", apiErr.Field)

	err = c.DeleteTask(ctx, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, client.ErrNotFound)
}

func TestClient_OwnersAreIsolated(t *testing.T) {
	srv := startServer(t)
	ctx := context.Background()
	alice := client.New(srv.URL, token(t, "alice"))
	bob := client.New(srv.URL, token(t, "bob"))

	task, err := alice.CreateTask(ctx, client.CreateRequest{Title: "Private"})
	require.NoError(t, err)

	_, err = bob.GetTask(ctx, task.ID)
	assert.ErrorIs(t, err, client.ErrNotFound)

	tasks, err := bob.ListTasks(ctx, client.ListOptions{})
	require.NoError(t, err)
	assert.Empty(t, tasks)
}

func TestTaskCache_MutationsResyncAndStatsAgree(t *testing.T) {
	srv := startServer(t)
	c := client.New(srv.URL, token(t, "alice"))
	tc := client.NewTaskCache(c, client.WithLocation(time.UTC))
	ctx := context.Background()

	tasks, err := tc.Tasks(ctx)
	require.NoError(t, err)
	assert.Empty(t, tasks)

	var ids []uuid.UUID
	for _, title := range []string{"one", "two", "three", "four"} {
		task, err := tc.Create(ctx, client.CreateRequest{Title: title})
		require.NoError(t, err)
		ids = append(ids, task.ID)
	}

	tasks, err = tc.Tasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 4)

	for _, id := range ids[:3] {
		_, err := tc.SetStatus(ctx, id, models.StatusCompleted)
		require.NoError(t, err)
	}

	local, err := tc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, stats.TaskStats{Total: 4, Completed: 3, Pending: 1, CompletionRate: 75, ThisWeek: 3}, local)

	remote, err := c.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, remote, local)

	require.NoError(t, tc.Delete(ctx, ids[3]))
	local, err = tc.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(3), local.Total)
	assert.Equal(t, int64(100), local.CompletionRate)
}

func TestTaskCache_ServesFromMemoryUntilInvalidated(t *testing.T) {
	var listCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet && r.URL.Path == "/tasks" {
			listCalls++
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`[]`))
	}))
	defer srv.Close()

	tc := client.NewTaskCache(client.New(srv.URL, "t"))
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := tc.Tasks(ctx)
		require.NoError(t, err)
	}
	assert.Equal(t, 1, listCalls)

	tc.Invalidate()
	_, err := tc.Tasks(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, listCalls)
}
