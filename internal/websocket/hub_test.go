package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"diagrammer-backend/internal/middleware"
	"diagrammer-backend/internal/models"
	"diagrammer-backend/internal/render"
	"diagrammer-backend/internal/session"
)

type noopGenerator struct{}

func (noopGenerator) Generate(ctx context.Context, req models.GenerationRequest) (*models.GenerationResult, error) {
	return &models.GenerationResult{Markup: "graph TD\nA-->B"}, nil
}

func (noopGenerator) Summarize(ctx context.Context, code string) (string, error) {
	return "", nil
}

type echoEngine struct{}

func (echoEngine) Render(ctx context.Context, renderID, code string) (*render.Result, error) {
	return &render.Result{SVG: `<svg id="` + renderID + `"></svg>`}, nil
}

type hubFixture struct {
	hub    *Hub
	store  *session.Store
	auth   *middleware.JWTAuth
	server *httptest.Server
}

func newHubFixture(t *testing.T) *hubFixture {
	t.Helper()
	auth := middleware.NewJWTAuth("secret")

	scheduler := render.NewScheduler(render.NewRenderer(echoEngine{}))
	t.Cleanup(scheduler.Stop)

	var hub *Hub
	publisher := session.PublisherFunc(func(ctx context.Context, id uuid.UUID, msg models.WSMessage) error {
		return hub.PublishUpdate(ctx, id, msg)
	})
	store := session.NewStore(noopGenerator{}, publisher, scheduler, session.Options{})
	hub = NewHub(nil, auth, store, "*")

	server := httptest.NewServer(http.HandlerFunc(hub.HandleWebSocket))
	t.Cleanup(func() {
		hub.Close()
		server.Close()
		store.CloseAll()
	})
	return &hubFixture{hub: hub, store: store, auth: auth, server: server}
}

func (f *hubFixture) wsURL(token, sessionID string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("session", sessionID)
	return "ws" + strings.TrimPrefix(f.server.URL, "http") + "/?" + q.Encode()
}

func readMessage(t *testing.T, conn *gorillaws.Conn) models.WSMessage {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, data, err := conn.ReadMessage()
	require.NoError(t, err)

	var msg models.WSMessage
	require.NoError(t, json.Unmarshal(data, &msg))
	return msg
}

func TestHub_SnapshotThenEvents(t *testing.T) {
	f := newHubFixture(t)
	owner := uuid.New()
	s, err := f.store.Create(owner, "")
	require.NoError(t, err)
	token, err := f.auth.GenerateAccessToken(owner, time.Minute)
	require.NoError(t, err)

	conn, _, err := gorillaws.DefaultDialer.Dial(f.wsURL(token, s.ID.String()), nil)
	require.NoError(t, err)
	defer conn.Close()

	first := readMessage(t, conn)
	assert.Equal(t, models.EventStateChanged, first.Type)

	require.Eventually(t, func() bool { return f.hub.Connections(s.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	require.NoError(t, s.SelectCategory(context.Background(), "erDiagram"))
	msg := readMessage(t, conn)
	assert.Equal(t, models.EventStateChanged, msg.Type)
	payload, _ := json.Marshal(msg.Payload)
	assert.Contains(t, string(payload), `"selected_category":"erDiagram"`)
}

func TestHub_Rejections(t *testing.T) {
	f := newHubFixture(t)
	owner := uuid.New()
	s, err := f.store.Create(owner, "")
	require.NoError(t, err)
	ownerToken, _ := f.auth.GenerateAccessToken(owner, time.Minute)
	otherToken, _ := f.auth.GenerateAccessToken(uuid.New(), time.Minute)

	tests := []struct {
		name    string
		token   string
		session string
		status  int
	}{
		{"no token", "", s.ID.String(), http.StatusUnauthorized},
		{"bad token", "garbage", s.ID.String(), http.StatusUnauthorized},
		{"bad session id", ownerToken, "nope", http.StatusBadRequest},
		{"foreign session", otherToken, s.ID.String(), http.StatusNotFound},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, resp, err := gorillaws.DefaultDialer.Dial(f.wsURL(tc.token, tc.session), nil)
			require.Error(t, err)
			require.NotNil(t, resp)
			assert.Equal(t, tc.status, resp.StatusCode)
		})
	}
	assert.Zero(t, f.hub.Connections(s.ID))
}

func TestHub_DisconnectUnregisters(t *testing.T) {
	f := newHubFixture(t)
	owner := uuid.New()
	s, _ := f.store.Create(owner, "")
	token, _ := f.auth.GenerateAccessToken(owner, time.Minute)

	conn, _, err := gorillaws.DefaultDialer.Dial(f.wsURL(token, s.ID.String()), nil)
	require.NoError(t, err)
	readMessage(t, conn)
	require.Eventually(t, func() bool { return f.hub.Connections(s.ID) == 1 }, 2*time.Second, 10*time.Millisecond)

	conn.Close()
	assert.Eventually(t, func() bool { return f.hub.Connections(s.ID) == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestHub_EventRightAfterConnectIsNotLost(t *testing.T) {
	f := newHubFixture(t)
	owner := uuid.New()
	s, err := f.store.Create(owner, "")
	require.NoError(t, err)
	token, err := f.auth.GenerateAccessToken(owner, time.Minute)
	require.NoError(t, err)

	conn, _, err := gorillaws.DefaultDialer.Dial(f.wsURL(token, s.ID.String()), nil)
	require.NoError(t, err)
	defer conn.Close()

	// No wait for registration: the change races the handshake.
	require.NoError(t, s.SelectCategory(context.Background(), "erDiagram"))

	seen := func(msg models.WSMessage) bool {
		payload, _ := json.Marshal(msg.Payload)
		return strings.Contains(string(payload), `"selected_category":"erDiagram"`)
	}
	last := readMessage(t, conn)
	for i := 0; i < 4 && !seen(last); i++ {
		last = readMessage(t, conn)
	}
	assert.True(t, seen(last), "latest state on the socket should carry the selection")
}
