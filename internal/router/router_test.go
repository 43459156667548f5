package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagrammer-backend/internal/handlers"
	"diagrammer-backend/internal/middleware"
	"diagrammer-backend/internal/models"
	"diagrammer-backend/internal/render"
	"diagrammer-backend/internal/session"
	"diagrammer-backend/internal/websocket"
	"diagrammer-backend/internal/worker"
)

type fixedGenerator struct{}

func (fixedGenerator) Generate(ctx context.Context, req models.GenerationRequest) (*models.GenerationResult, error) {
	return &models.GenerationResult{Markup: "graph TD\nA-->B"}, nil
}

func (fixedGenerator) Summarize(ctx context.Context, code string) (string, error) {
	return "A to B.", nil
}

type plainEngine struct{}

func (plainEngine) Render(ctx context.Context, renderID, code string) (*render.Result, error) {
	return &render.Result{SVG: `<svg id="` + renderID + `" width="4" height="4"></svg>`}, nil
}

type inlineJobs struct{}

func (inlineJobs) Enqueue(job worker.Job) error {
	return job.Run(context.Background())
}

func newTestRouter(t *testing.T) (http.Handler, *middleware.JWTAuth) {
	t.Helper()
	auth := middleware.NewJWTAuth("secret")
	scheduler := render.NewScheduler(render.NewRenderer(plainEngine{}))
	t.Cleanup(scheduler.Stop)

	publisher := session.PublisherFunc(func(ctx context.Context, id uuid.UUID, msg models.WSMessage) error { return nil })
	store := session.NewStore(fixedGenerator{}, publisher, scheduler, session.Options{MaxDocumentBytes: 1024})
	t.Cleanup(store.CloseAll)

	limiter := middleware.NewRateLimiter(GenerationLimit, time.Minute)
	t.Cleanup(limiter.Stop)

	hub := websocket.NewHub(nil, auth, store, "*")
	h := New(auth, handlers.NewSessionHandler(store, inlineJobs{}, 1024), limiter, hub, "http://localhost:9002")
	return h, auth
}

func TestRouter_PublicRoutes(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/health", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.NotEmpty(t, rr.Header().Get("X-Request-ID"))

	rr = httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/api/v1/categories", nil))
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), `"flowchart"`)
}

func TestRouter_SessionsRequireAuth(t *testing.T) {
	h, _ := newTestRouter(t)

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodPost, "/api/v1/sessions", nil))
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestRouter_GenerateAndExport(t *testing.T) {
	h, auth := newTestRouter(t)
	token, err := auth.GenerateAccessToken(uuid.New(), time.Minute)
	require.NoError(t, err)

	do := func(method, path, body string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Authorization", "Bearer "+token)
		if body != "" {
			req.Header.Set("Content-Type", "application/json")
		}
		rr := httptest.NewRecorder()
		h.ServeHTTP(rr, req)
		return rr
	}

	rr := do(http.MethodPost, "/api/v1/sessions", `{"category":"flowchart"}`)
	require.Equal(t, http.StatusCreated, rr.Code)
	var snap models.SessionSnapshot
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&snap))
	base := "/api/v1/sessions/" + snap.ID.String()

	rr = do(http.MethodPost, base+"/instructions", `{"instruction":"A to B"}`)
	require.Equal(t, http.StatusAccepted, rr.Code, rr.Body.String())

	rr = do(http.MethodGet, base, "")
	require.Equal(t, http.StatusOK, rr.Code)
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&snap))
	assert.Equal(t, "graph TD\nA-->B", snap.CurrentMarkup)
	assert.True(t, snap.CanExport)

	rr = do(http.MethodGet, base+"/export/svg", "")
	assert.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "image/svg+xml", rr.Header().Get("Content-Type"))

	rr = do(http.MethodPost, base+"/surfaces/modal", "")
	assert.Equal(t, http.StatusAccepted, rr.Code)

	rr = do(http.MethodDelete, base+"/document", "")
	assert.Equal(t, http.StatusOK, rr.Code)

	rr = do(http.MethodDelete, base, "")
	assert.Equal(t, http.StatusOK, rr.Code)
}
