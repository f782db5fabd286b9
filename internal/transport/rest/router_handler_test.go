package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/baechuer/tablebook/internal/domain"
	"github.com/baechuer/tablebook/internal/infrastructure/memory"
	"github.com/baechuer/tablebook/internal/notify"
	"github.com/baechuer/tablebook/internal/security"
	"github.com/baechuer/tablebook/internal/service"
	"github.com/baechuer/tablebook/internal/transport/rest/response"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeVerifier treats the raw token as a key into known claims.
type fakeVerifier struct {
	tokens map[string]security.TokenClaims
}

func (f fakeVerifier) VerifyAccessToken(token string) (security.TokenClaims, error) {
	c, ok := f.tokens[token]
	if !ok {
		return security.TokenClaims{}, security.ErrTokenInvalid
	}
	return c, nil
}

type fakeLimiter struct {
	allow bool
	calls int
}

func (l *fakeLimiter) AllowRequest(ctx context.Context, key string, limit int, window time.Duration) (bool, error) {
	l.calls++
	return l.allow, nil
}

// Monday; Wednesday 6pm falls inside store hours.
var testNow = time.Date(2030, 1, 7, 10, 0, 0, 0, time.UTC)

type testEnv struct {
	router http.Handler
	store  *memory.Store
	svc    *service.BookingService
}

func newTestEnv(t *testing.T, limiter domain.RateLimiter) *testEnv {
	t.Helper()

	store := memory.New()
	hub := notify.NewHub(service.NewSnapshots(store), nil)
	svc := service.New(service.Deps{
		Store:    store,
		Notifier: hub,
		Location: time.UTC,
		Now:      func() time.Time { return testNow },
	})
	verifier := fakeVerifier{tokens: map[string]security.TokenClaims{
		"host":  {UserID: "u-host", Email: "host@example.com", Name: "Hana Host"},
		"alice": {UserID: "u-alice", Email: "Alice@Example.com"},
		"bob":   {UserID: "u-bob", Email: "bob@example.com"},
	}}

	deps := RouterDeps{
		Handler:  NewHandler(svc, hub, []string{"*"}),
		Verifier: verifier,
	}
	if limiter != nil {
		deps.Limiter = limiter
		deps.RateLimit = RateLimit{Enabled: true, Limit: 1, Window: time.Minute}
	}
	return &testEnv{router: NewRouter(deps), store: store, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		switch b := body.(type) {
		case string:
			buf.WriteString(b)
		default:
			require.NoError(t, json.NewEncoder(&buf).Encode(b))
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rr := httptest.NewRecorder()
	e.router.ServeHTTP(rr, req)
	return rr
}

func decodeData[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var env struct {
		Data T `json:"data"`
	}
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &env), rr.Body.String())
	return env.Data
}

func decodeError(t *testing.T, rr *httptest.ResponseRecorder) response.ErrorPayload {
	t.Helper()
	var body response.ErrorBody
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &body), rr.Body.String())
	return body.Error
}

func draft(access string, capacity int) map[string]any {
	return map[string]any{
		"title":            "Friday Night Magic",
		"description":      "Bring a sixty card deck.",
		"category":         "magic the gathering",
		"date":             "01/09/2030",
		"time":             "06:00 PM",
		"access":           access,
		"max_participants": capacity,
	}
}

func (e *testEnv) create(t *testing.T, access string, capacity int) eventView {
	t.Helper()
	rr := e.do(t, http.MethodPost, "/api/v1/events", "host", draft(access, capacity))
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decodeData[eventView](t, rr)
}

func TestNewRouter_PanicsOnNilDeps(t *testing.T) {
	require.Panics(t, func() { NewRouter(RouterDeps{Verifier: fakeVerifier{}}) })
	require.Panics(t, func() { NewRouter(RouterDeps{Handler: &Handler{}}) })
	require.Panics(t, func() { NewHandler(nil, nil, nil) })
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "ok", decodeData[map[string]string](t, rr)["status"])
}

func TestCreateEvent_RequiresAuth(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodPost, "/api/v1/events", "", draft("public", 4))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
	assert.Equal(t, "auth.unauthorized", decodeError(t, rr).Code)

	rr = env.do(t, http.MethodPost, "/api/v1/events", "forged", draft("public", 4))
	require.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestCreateEvent_InvalidJSON(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodPost, "/api/v1/events", "host", "{not json")
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "request.invalid", decodeError(t, rr).Code)
}

func TestCreateEvent_ValidationFields(t *testing.T) {
	env := newTestEnv(t, nil)

	body := draft("public", 0)
	body["title"] = "   "
	body["date"] = "2030-01-09"
	rr := env.do(t, http.MethodPost, "/api/v1/events", "host", body)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	e := decodeError(t, rr)
	assert.Equal(t, "request.invalid", e.Code)
	assert.Contains(t, e.Meta, "title")
	assert.Contains(t, e.Meta, "date")
	assert.Contains(t, e.Meta, "max_participants")
}

func TestCreateEvent_ServiceRulesSurfaceAsFields(t *testing.T) {
	env := newTestEnv(t, nil)

	body := draft("public", 4)
	body["time"] = "09:00 AM" // before opening
	rr := env.do(t, http.MethodPost, "/api/v1/events", "host", body)
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, decodeError(t, rr).Meta, "time")
}

func TestCreateEvent_PrivateCodeOnlyForHost(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.create(t, "private", 4)

	assert.Equal(t, domain.AccessPrivate, created.Access)
	assert.Equal(t, "Magic the Gathering", created.Category)
	assert.Equal(t, "Hana Host", created.Host)
	assert.Len(t, created.InviteCode, domain.InviteCodeLength)

	rr := env.do(t, http.MethodGet, "/api/v1/events/"+created.ID, "host", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, created.InviteCode, decodeData[eventView](t, rr).InviteCode)

	rr = env.do(t, http.MethodGet, "/api/v1/events/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeData[eventView](t, rr).InviteCode)

	rr = env.do(t, http.MethodGet, "/api/v1/events/"+created.ID, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Empty(t, decodeData[eventView](t, rr).InviteCode)
}

func TestGetEvent_BadAndUnknownID(t *testing.T) {
	env := newTestEnv(t, nil)

	rr := env.do(t, http.MethodGet, "/api/v1/events/not-a-uuid", "", nil)
	require.Equal(t, http.StatusBadRequest, rr.Code)

	rr = env.do(t, http.MethodGet, "/api/v1/events/6f1c1c84-3c38-4a5e-9a53-0a8f2f7f0b11", "", nil)
	require.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "event.not_found", decodeError(t, rr).Code)
}

func TestJoin_PublicWithEmptyBody(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.create(t, "public", 2)

	rr := env.do(t, http.MethodPost, "/api/v1/events/"+created.ID+"/join", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, 1, decodeData[eventView](t, rr).Participants.Current)

	rr = env.do(t, http.MethodPost, "/api/v1/events/"+created.ID+"/join", "alice", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "join.already_joined", decodeError(t, rr).Code)

	rr = env.do(t, http.MethodGet, "/api/v1/me/joins", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	joins := decodeData[map[string]bool](t, rr)
	assert.True(t, joins[created.ID])
}

func TestJoin_PrivateInviteCodes(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.create(t, "private", 3)
	path := "/api/v1/events/" + created.ID + "/join"

	rr := env.do(t, http.MethodPost, path, "alice", map[string]string{"invite_code": ""})
	require.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Equal(t, "invite.missing", decodeError(t, rr).Code)

	rr = env.do(t, http.MethodPost, path, "alice", map[string]string{"invite_code": "WRONG1"})
	require.Equal(t, http.StatusForbidden, rr.Code)
	e := decodeError(t, rr)
	assert.Equal(t, "invite.invalid", e.Code)
	assert.Equal(t, "true", e.Meta["clear_input"])

	rr = env.do(t, http.MethodPost, path, "alice", map[string]string{"invite_code": strings.ToLower(created.InviteCode)})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Empty(t, decodeData[eventView](t, rr).InviteCode)
}

func TestJoin_FullThenLeave(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.create(t, "public", 1)
	path := "/api/v1/events/" + created.ID + "/join"

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, path, "alice", nil).Code)

	rr := env.do(t, http.MethodPost, path, "bob", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "event.full", decodeError(t, rr).Code)

	rr = env.do(t, http.MethodDelete, path, "bob", nil)
	require.Equal(t, http.StatusConflict, rr.Code)
	assert.Equal(t, "join.not_joined", decodeError(t, rr).Code)

	rr = env.do(t, http.MethodDelete, path, "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, 0, decodeData[eventView](t, rr).Participants.Current)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, path, "bob", nil).Code)
}

func TestUpdateAndEnd_HostOnly(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.create(t, "public", 4)
	path := "/api/v1/events/" + created.ID

	rr := env.do(t, http.MethodPatch, path, "alice", map[string]string{"title": "Hijacked"})
	require.Equal(t, http.StatusForbidden, rr.Code)
	assert.Equal(t, "auth.forbidden", decodeError(t, rr).Code)

	rr = env.do(t, http.MethodPatch, path, "host", map[string]string{"title": "Commander Night"})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	assert.Equal(t, "Commander Night", decodeData[eventView](t, rr).Title)

	require.Equal(t, http.StatusForbidden, env.do(t, http.MethodDelete, path, "alice", nil).Code)
	rr = env.do(t, http.MethodDelete, path, "host", nil)
	require.Equal(t, http.StatusNoContent, rr.Code)
	require.Equal(t, http.StatusNotFound, env.do(t, http.MethodGet, path, "", nil).Code)
}

func TestListEvents_BoardHidesCodes(t *testing.T) {
	env := newTestEnv(t, nil)
	env.create(t, "private", 4)
	env.create(t, "public", 4)

	// something from last week
	past := domain.Event{
		ID:           uuid.MustParse("0b9c7ae4-0a57-4c0b-9a3f-8b0c1f1a2e33"),
		Title:        "Prerelease",
		Category:     "PokemonTCG",
		StartsAt:     testNow.Add(-7 * 24 * time.Hour),
		HasTime:      true,
		Access:       domain.AccessPublic,
		Participants: domain.Participants{Max: 4},
		HostID:       "someone",
		CreatedAt:    testNow.Add(-8 * 24 * time.Hour),
	}
	require.NoError(t, env.store.PutEvent(context.Background(), past))

	rr := env.do(t, http.MethodGet, "/api/v1/events", "host", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	board := decodeData[boardView](t, rr)
	assert.Empty(t, board.Live)
	require.Len(t, board.Upcoming, 2)
	assert.Empty(t, board.Past)
	for _, v := range board.Upcoming {
		assert.Empty(t, v.InviteCode)
	}

	rr = env.do(t, http.MethodGet, "/api/v1/events?past=true", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	board = decodeData[boardView](t, rr)
	require.Len(t, board.Past, 1)
	assert.Equal(t, "Prerelease", board.Past[0].Title)
}

func TestCalendarFeed(t *testing.T) {
	env := newTestEnv(t, nil)
	env.create(t, "public", 4)

	rr := env.do(t, http.MethodGet, "/api/v1/events.ics", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.True(t, strings.HasPrefix(rr.Header().Get("Content-Type"), "text/calendar"))
	assert.Contains(t, rr.Body.String(), "Friday Night Magic")
}

func TestCatalog(t *testing.T) {
	env := newTestEnv(t, nil)
	rr := env.do(t, http.MethodGet, "/api/v1/catalog", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Body.String(), "Magic the Gathering")
}

func TestRateLimit_Blocks(t *testing.T) {
	limiter := &fakeLimiter{allow: false}
	env := newTestEnv(t, limiter)

	rr := env.do(t, http.MethodGet, "/api/v1/events", "", nil)
	require.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "rate_limited", decodeError(t, rr).Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	// health checks are never limited
	require.Equal(t, http.StatusOK, env.do(t, http.MethodGet, "/healthz", "", nil).Code)
	assert.Equal(t, 1, limiter.calls)
}

func TestStream_PushesSnapshots(t *testing.T) {
	env := newTestEnv(t, nil)
	created := env.create(t, "public", 3)

	srv := httptest.NewServer(env.router)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/api/v1/stream?token=alice"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer resp.Body.Close()
	defer conn.Close()

	type rawFrame struct {
		Type string          `json:"type"`
		Data json.RawMessage `json:"data"`
	}
	read := func() rawFrame {
		require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
		var f rawFrame
		require.NoError(t, conn.ReadJSON(&f))
		return f
	}

	// initial snapshots, in either order
	seen := map[string]json.RawMessage{}
	for len(seen) < 2 {
		f := read()
		seen[f.Type] = f.Data
	}
	var board boardView
	require.NoError(t, json.Unmarshal(seen[FrameEvents], &board))
	require.Len(t, board.Upcoming, 1)
	assert.JSONEq(t, `{}`, string(seen[FrameMemberships]))

	rr := env.do(t, http.MethodPost, "/api/v1/events/"+created.ID+"/join", "alice", nil)
	require.Equal(t, http.StatusOK, rr.Code)

	// the join produces a fresh membership snapshot for alice
	for {
		f := read()
		if f.Type != FrameMemberships {
			continue
		}
		var m map[string]bool
		require.NoError(t, json.Unmarshal(f.Data, &m))
		if m[created.ID] {
			break
		}
	}
}

func TestStream_RejectsForeignOrigin(t *testing.T) {
	check := originChecker([]string{"https://tablebook.example"})

	r := httptest.NewRequest(http.MethodGet, "/api/v1/stream", nil)
	assert.True(t, check(r), "no Origin header")

	r.Header.Set("Origin", "https://tablebook.example")
	assert.True(t, check(r))

	r.Header.Set("Origin", "https://evil.example")
	assert.False(t, check(r))

	assert.True(t, originChecker([]string{"*"})(r))
}

func TestRequestID_EchoesSafeIDsOnly(t *testing.T) {
	env := newTestEnv(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "trace-123:abc")
	rr := httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, "trace-123:abc", rr.Header().Get("X-Request-Id"))

	req = httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-Id", "bad id\r\n")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	got := rr.Header().Get("X-Request-Id")
	assert.NotEqual(t, "bad id\r\n", got)
	_, err := uuid.Parse(got)
	assert.NoError(t, err)

	// error bodies carry the same id
	req = httptest.NewRequest(http.MethodGet, "/api/v1/events/nope", nil)
	req.Header.Set("X-Request-Id", "req-7")
	rr = httptest.NewRecorder()
	env.router.ServeHTTP(rr, req)
	assert.Equal(t, "req-7", decodeError(t, rr).RequestID)
}
