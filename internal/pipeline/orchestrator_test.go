package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/go-redis/redismock/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/curasys/gatekeeper/internal/audit"
	"github.com/curasys/gatekeeper/internal/config"
	redisstore "github.com/curasys/gatekeeper/internal/infra/redis"
	"github.com/curasys/gatekeeper/pkg/logger"
)

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (c *captureSink) Emit(_ context.Context, event audit.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
}

func (c *captureSink) Close() error { return nil }

func (c *captureSink) last(t *testing.T) audit.Event {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	require.NotEmpty(t, c.events)
	return c.events[len(c.events)-1]
}

func (c *captureSink) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.events)
}

type stubGate struct {
	name     string
	decision Decision
	calls    int
}

func (g *stubGate) Name() string { return g.name }

func (g *stubGate) Evaluate(_ context.Context, _ *Request) Decision {
	g.calls++
	return g.decision
}

func orchestratorConfig() *config.Config {
	return &config.Config{
		Server: config.ServerConfig{
			PublicPaths: []string{"/static/", "/health"},
		},
		Auth: config.AuthConfig{
			SessionCookieName: "erp_session",
			LoginPath:         "/login/",
		},
	}
}

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestOrchestrator_PublicPathBypassesGates(t *testing.T) {
	gate := &stubGate{name: "stub", decision: Deny("stub", "nope", http.StatusForbidden)}
	sink := &captureSink{}
	o := NewOrchestrator(orchestratorConfig(), []Gate{gate}, nil, nil, sink, logger.NewNop())

	rec := httptest.NewRecorder()
	o.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/static/app.js", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 0, gate.calls)
	assert.Equal(t, 0, sink.count())
}

func TestOrchestrator_FirstDenialShortCircuits(t *testing.T) {
	first := &stubGate{name: "first", decision: Deny("first", "nope", http.StatusForbidden)}
	second := &stubGate{name: "second", decision: Allowed()}
	sink := &captureSink{}
	o := NewOrchestrator(orchestratorConfig(), []Gate{first, second}, nil, nil, sink, logger.NewNop())

	handlerCalled := false
	next := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { handlerCalled = true })

	rec := httptest.NewRecorder()
	o.Middleware(next).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/patients/42/", nil))

	assert.Equal(t, http.StatusForbidden, rec.Code)
	assert.Equal(t, 1, first.calls)
	assert.Equal(t, 0, second.calls)
	assert.False(t, handlerCalled)

	require.Equal(t, 1, sink.count())
	event := sink.last(t)
	assert.Equal(t, "deny", event.Decision)
	assert.Equal(t, "first", event.Gate)
	assert.Equal(t, "nope", event.Reason)
}

func TestOrchestrator_AllowedRequestReachesHandlerWithHeaders(t *testing.T) {
	gate := &stubGate{name: "stub", decision: Allowed()}
	sink := &captureSink{}
	o := NewOrchestrator(orchestratorConfig(), []Gate{gate}, nil, nil, sink, logger.NewNop())

	rec := httptest.NewRecorder()
	o.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/patients/42/", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))

	event := sink.last(t)
	assert.Equal(t, "allow", event.Decision)
}

func TestOrchestrator_ChallengePropagatesAsHeader(t *testing.T) {
	challenged := Allowed()
	challenged.Challenge = true
	gate := &stubGate{name: "stub", decision: challenged}
	o := NewOrchestrator(orchestratorConfig(), []Gate{gate}, nil, nil, &captureSink{}, logger.NewNop())

	rec := httptest.NewRecorder()
	o.Middleware(okHandler()).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/login/", nil))

	assert.Equal(t, "captcha", rec.Header().Get(ChallengeHeader))
}

func TestOrchestrator_ForceLogoutClearsSessionAndRedirects(t *testing.T) {
	denial := Deny("session", ReasonSessionTimeout, http.StatusFound)
	denial.ForceLogout = true
	gate := &stubGate{name: "session", decision: denial}

	db, mock := redismock.NewClientMock()
	client := redisstore.NewFromClient(db, logger.NewNop())
	sessions := redisstore.NewSessionStore(client, time.Hour)
	mock.ExpectDel("session:sess-abc").SetVal(1)

	sink := &captureSink{}
	o := NewOrchestrator(orchestratorConfig(), []Gate{gate}, nil, sessions, sink, logger.NewNop())

	r := httptest.NewRequest(http.MethodGet, "/patients/42/", nil)
	r = r.WithContext(WithPrincipal(r.Context(), Principal{
		Authenticated: true,
		UserID:        "u-17",
		SessionKey:    "sess-abc",
	}))

	rec := httptest.NewRecorder()
	o.Middleware(okHandler()).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login/?reason=session_timeout", rec.Header().Get("Location"))
	assert.NoError(t, mock.ExpectationsWereMet())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "erp_session", cookies[0].Name)
	assert.Equal(t, "", cookies[0].Value)
	assert.Negative(t, cookies[0].MaxAge)

	event := sink.last(t)
	assert.Equal(t, "u-17", event.ActorID)
	assert.Equal(t, ReasonSessionTimeout, event.Reason)
}

func TestOrchestrator_CountryMismatchEndsSessionWithFlash(t *testing.T) {
	denial := Deny(GateGeo, ReasonCountryMismatch, http.StatusFound)
	denial.Severity = "critical"
	denial.ForceLogout = true
	denial.Detail = map[string]string{
		"detected_country": "France",
		"expected_country": "Germany",
	}
	denial.Flash = denial.Detail
	gate := &stubGate{name: GateGeo, decision: denial}

	db, mock := redismock.NewClientMock()
	client := redisstore.NewFromClient(db, logger.NewNop())
	sessions := redisstore.NewSessionStore(client, time.Hour)
	mock.ExpectDel("session:sess-abc").SetVal(1)

	sink := &captureSink{}
	o := NewOrchestrator(orchestratorConfig(), []Gate{gate}, nil, sessions, sink, logger.NewNop())

	r := httptest.NewRequest(http.MethodGet, "/patients/42/", nil)
	r = r.WithContext(WithPrincipal(r.Context(), Principal{
		Authenticated: true,
		UserID:        "u-17",
		SessionKey:    "sess-abc",
	}))

	rec := httptest.NewRecorder()
	o.Middleware(okHandler()).ServeHTTP(rec, r)

	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t,
		"/login/?detected_country=France&expected_country=Germany&reason=country_mismatch",
		rec.Header().Get("Location"))
	assert.NoError(t, mock.ExpectationsWereMet())

	cookies := rec.Result().Cookies()
	require.Len(t, cookies, 1)
	assert.Equal(t, "erp_session", cookies[0].Name)
	assert.Negative(t, cookies[0].MaxAge)

	event := sink.last(t)
	assert.Equal(t, "deny", event.Decision)
	assert.Equal(t, "France", event.Detail["detected_country"])
}

// TestOrchestrator_LockoutLifecycle walks the full brute-force story: five
// failed logins lock the account, the sixth request is rejected before the
// handler runs, and once the window expires a successful login clears the
// counters.
func TestOrchestrator_LockoutLifecycle(t *testing.T) {
	db, mock := redismock.NewClientMock()
	client := redisstore.NewFromClient(db, logger.NewNop())
	brute := NewBruteForceGate(bruteForceConfig(), "X-Auth-Username", redisstore.NewCounterStore(client), logger.NewNop())

	sink := &captureSink{}
	o := NewOrchestrator(orchestratorConfig(), []Gate{brute}, brute, nil, sink, logger.NewNop())

	loginOK := false
	login := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if loginOK {
			w.WriteHeader(http.StatusOK)
			return
		}
		w.WriteHeader(http.StatusUnauthorized)
	})
	handler := o.Middleware(login)

	ipKey := redisstore.AttemptIPKey("10.9.8.7")
	userKey := redisstore.AttemptUserKey("mallory")

	attempt := func() *httptest.ResponseRecorder {
		r := httptest.NewRequest(http.MethodPost, "/login/", nil)
		r.RemoteAddr = "10.9.8.7:40312"
		r.Header.Set("X-Auth-Username", "mallory")
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, r)
		return rec
	}

	// Five failures. Each one is admitted (the count is below the hard
	// threshold at evaluation time) and then recorded from the 401.
	for i := int64(1); i <= 5; i++ {
		prev := i - 1
		mock.ExpectGet(ipKey).SetVal(strconv.FormatInt(prev, 10))
		mock.ExpectGet(userKey).SetVal(strconv.FormatInt(prev, 10))

		mock.ExpectIncr(ipKey).SetVal(i)
		if i == 1 {
			mock.ExpectExpire(ipKey, 300*time.Second).SetVal(true)
		}
		if i == 5 {
			mock.ExpectExpire(ipKey, 300*time.Second).SetVal(true)
		}
		mock.ExpectIncr(userKey).SetVal(i)
		if i == 1 {
			mock.ExpectExpire(userKey, 300*time.Second).SetVal(true)
		}
		if i == 5 {
			mock.ExpectExpire(userKey, 300*time.Second).SetVal(true)
		}

		rec := attempt()
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i)
		if prev >= 3 {
			assert.Equal(t, "captcha", rec.Header().Get(ChallengeHeader), "attempt %d", i)
		}
	}

	// Sixth attempt: locked out before the handler runs.
	mock.ExpectGet(ipKey).SetVal("5")
	mock.ExpectGet(userKey).SetVal("5")
	mock.ExpectTTL(ipKey).SetVal(2 * time.Minute)

	rec := attempt()
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "120", rec.Header().Get("Retry-After"))
	assert.Equal(t, "deny", sink.last(t).Decision)
	assert.Equal(t, ReasonLockedOut, sink.last(t).Reason)

	// Window expired: counters read as absent, the correct password works
	// and the success wipes both counters.
	loginOK = true
	mock.ExpectGet(ipKey).RedisNil()
	mock.ExpectGet(userKey).RedisNil()
	mock.ExpectDel(ipKey, userKey).SetVal(2)

	rec = attempt()
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NoError(t, mock.ExpectationsWereMet())
	assert.Equal(t, "allow", sink.last(t).Decision)
}
