package e2e

import (
	"encoding/json"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/auditforge/api/internal/client"
	"github.com/auditforge/api/internal/handler"
	"github.com/auditforge/api/internal/llm"
	"github.com/auditforge/api/internal/middleware"
	"github.com/auditforge/api/internal/scheduler"
	"github.com/auditforge/api/internal/service"
	"github.com/auditforge/api/internal/store"
	"github.com/auditforge/api/internal/worker"
	ws "github.com/auditforge/api/internal/websocket"
)

const testJWTSecret = "test-secret-for-e2e"

// testApp holds the components needed for end-to-end tests.
type testApp struct {
	app   *fiber.App
	store *store.SQLiteStore
}

// setupApp builds a Fiber app wired the same way as main.go, backed by a
// temporary SQLite database and local artifact storage. The LLM gateway
// runs in dry-run mode so no network calls are made, and the scheduler
// polls fast so job pipelines complete within test timeouts. When
// jwtSecret is non-empty the job routes require bearer auth.
func setupApp(t *testing.T, jwtSecret string) *testApp {
	t.Helper()

	dir := t.TempDir()
	jobStore, err := store.NewSQLiteStore(filepath.Join(dir, "jobs.db"))
	if err != nil {
		t.Fatalf("failed to open job store: %v", err)
	}
	t.Cleanup(func() { jobStore.Close() })

	validate := validator.New()

	hub := ws.NewHub()
	go hub.Run()

	gateway := llm.NewGateway(nil, nil, llm.GatewayConfig{DryRun: true})
	artifacts := client.NewLocalArtifactStore(filepath.Join(dir, "data"))

	jobWorker := worker.New(jobStore, gateway, artifacts, hub)
	sched := scheduler.New(jobStore, jobWorker, scheduler.Options{
		PoolSize:         2,
		JobTimeout:       30 * time.Second,
		DispatchInterval: 10 * time.Millisecond,
		WatchdogInterval: 50 * time.Millisecond,
	})
	sched.Start()
	t.Cleanup(sched.Stop)

	jobService := service.NewJobService(jobStore, artifacts)
	jobHandler := handler.NewJobHandler(jobService, validate)
	healthHandler := handler.NewHealthHandler(jobStore, nil)

	app := fiber.New(fiber.Config{
		BodyLimit: 10 * 1024 * 1024,
	})

	app.Get("/healthz", healthHandler.Check)

	jobs := app.Group("/jobs")
	if jwtSecret != "" {
		authMiddleware := middleware.NewAuthMiddleware(jwtSecret)
		jobs.Use(authMiddleware.Authenticate())
	}
	jobs.Post("/", jobHandler.Create)
	jobs.Get("/:jobId", jobHandler.Status)
	jobs.Get("/:jobId/report", jobHandler.Report)
	jobs.Post("/:jobId/cancel", jobHandler.Cancel)

	return &testApp{app: app, store: jobStore}
}

// generateToken creates an HMAC JWT for requests against an auth-enabled app.
func generateToken(t *testing.T) string {
	t.Helper()
	claims := middleware.UserClaims{
		UserID: "test-user-123",
		Email:  "test@example.com",
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString([]byte(testJWTSecret))
	if err != nil {
		t.Fatalf("failed to generate test token: %v", err)
	}
	return signed
}

// doRequest performs an HTTP request against the test app.
func doRequest(app *fiber.App, method, path, body string, headers map[string]string) (*http.Response, error) {
	var bodyReader io.Reader
	if body != "" {
		bodyReader = strings.NewReader(body)
	}

	req, err := http.NewRequest(method, path, bodyReader)
	if err != nil {
		return nil, err
	}

	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range headers {
		req.Header.Set(k, v)
	}

	return app.Test(req, -1)
}

// readBody reads and returns the response body as a string.
func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed to read response body: %v", err)
	}
	return string(b)
}

// parseJSON parses the response body into a map.
func parseJSON(t *testing.T, resp *http.Response) map[string]interface{} {
	t.Helper()
	body := readBody(t, resp)
	var result map[string]interface{}
	if err := json.Unmarshal([]byte(body), &result); err != nil {
		t.Fatalf("failed to parse JSON: %v\nbody: %s", err, body)
	}
	return result
}

// assertStatus checks the HTTP status code.
func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Errorf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

// waitForStatus polls GET /jobs/:id until the job reaches the wanted
// status or the deadline passes. Returns the last status response body.
func waitForStatus(t *testing.T, app *fiber.App, jobID, want string, timeout time.Duration) map[string]interface{} {
	t.Helper()
	deadline := time.Now().Add(timeout)
	var last map[string]interface{}
	for time.Now().Before(deadline) {
		resp, err := doRequest(app, http.MethodGet, "/jobs/"+jobID, "", nil)
		if err != nil {
			t.Fatalf("status request failed: %v", err)
		}
		last = parseJSON(t, resp)
		if last["status"] == want {
			return last
		}
		time.Sleep(20 * time.Millisecond)
	}
	t.Fatalf("job %s did not reach status %q in %v, last: %v", jobID, want, timeout, last)
	return nil
}
