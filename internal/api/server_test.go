package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"cryptoblade/internal/auth"
	"cryptoblade/internal/events"
	"cryptoblade/internal/orchestrator"
	"cryptoblade/internal/strategy"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakeOrchestrator struct {
	healthy    bool
	status     orchestrator.Status
	strategies []strategy.Snapshot
}

func (f *fakeOrchestrator) Status() orchestrator.Status { return f.status }
func (f *fakeOrchestrator) Healthy() bool               { return f.healthy }

func (f *fakeOrchestrator) Strategies() []strategy.Snapshot {
	return append([]strategy.Snapshot(nil), f.strategies...)
}

func (f *fakeOrchestrator) Strategy(symbol string) (strategy.Snapshot, bool) {
	for _, s := range f.strategies {
		if s.Symbol == symbol {
			return s, true
		}
	}
	return strategy.Snapshot{}, false
}

func newFake() *fakeOrchestrator {
	return &fakeOrchestrator{
		healthy: true,
		status:  orchestrator.Status{Mode: "dynamic", Cycle: 7, Symbols: 2},
		strategies: []strategy.Snapshot{
			{Symbol: "BTCUSDT", Strategy: "mfi_rsi_trend", Consistent: true, Long: strategy.LegSnapshot{InTrade: true}},
			{Symbol: "ETHUSDT", Strategy: "mfi_rsi_trend", Consistent: true},
		},
	}
}

func do(t *testing.T, h http.Handler, path, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

type envelope struct {
	Success bool            `json:"success"`
	Error   bool            `json:"error"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func decode(t *testing.T, w *httptest.ResponseRecorder) envelope {
	t.Helper()
	var env envelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env), w.Body.String())
	return env
}

func TestHealth(t *testing.T) {
	fake := newFake()
	srv := NewServer(ServerConfig{}, fake, nil, nil, nil, zerolog.Nop())

	w := do(t, srv.Handler(), "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"healthy"`)

	fake.healthy = false
	w = do(t, srv.Handler(), "/health", "")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), `"unhealthy"`)
}

func TestStatusAndStrategies(t *testing.T) {
	srv := NewServer(ServerConfig{}, newFake(), nil, nil, nil, zerolog.Nop())
	h := srv.Handler()

	tests := []struct {
		name     string
		path     string
		wantCode int
		check    func(t *testing.T, data json.RawMessage)
	}{
		{
			name:     "status",
			path:     "/api/status",
			wantCode: http.StatusOK,
			check: func(t *testing.T, data json.RawMessage) {
				var s orchestrator.Status
				require.NoError(t, json.Unmarshal(data, &s))
				assert.EqualValues(t, 7, s.Cycle)
				assert.Equal(t, "dynamic", s.Mode)
			},
		},
		{
			name:     "all strategies",
			path:     "/api/strategies",
			wantCode: http.StatusOK,
			check: func(t *testing.T, data json.RawMessage) {
				var snaps []strategy.Snapshot
				require.NoError(t, json.Unmarshal(data, &snaps))
				assert.Len(t, snaps, 2)
			},
		},
		{
			name:     "strategies in long trade",
			path:     "/api/strategies?in_trade=long",
			wantCode: http.StatusOK,
			check: func(t *testing.T, data json.RawMessage) {
				var snaps []strategy.Snapshot
				require.NoError(t, json.Unmarshal(data, &snaps))
				require.Len(t, snaps, 1)
				assert.Equal(t, "BTCUSDT", snaps[0].Symbol)
			},
		},
		{
			name:     "one strategy, case insensitive",
			path:     "/api/strategies/ethusdt",
			wantCode: http.StatusOK,
			check: func(t *testing.T, data json.RawMessage) {
				var snap strategy.Snapshot
				require.NoError(t, json.Unmarshal(data, &snap))
				assert.Equal(t, "ETHUSDT", snap.Symbol)
			},
		},
		{name: "unknown symbol", path: "/api/strategies/XRPUSDT", wantCode: http.StatusNotFound},
		{name: "metrics disabled", path: "/metrics", wantCode: http.StatusNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(t, h, tt.path, "")
			require.Equal(t, tt.wantCode, w.Code, w.Body.String())
			if tt.check != nil {
				env := decode(t, w)
				assert.True(t, env.Success)
				tt.check(t, env.Data)
			}
		})
	}
}

func TestAuthGuardsAPI(t *testing.T) {
	jwt := auth.NewJWTManager("test-secret", "cryptoblade", time.Hour)
	token, _, err := jwt.Issue("ops", auth.RoleViewer)
	require.NoError(t, err)
	srv := NewServer(ServerConfig{}, newFake(), jwt, nil, nil, zerolog.Nop())
	h := srv.Handler()

	assert.Equal(t, http.StatusUnauthorized, do(t, h, "/api/status", "").Code)
	assert.Equal(t, http.StatusUnauthorized, do(t, h, "/api/status", "garbage").Code)
	assert.Equal(t, http.StatusOK, do(t, h, "/api/status", token).Code)
	// health stays open for probes
	assert.Equal(t, http.StatusOK, do(t, h, "/health", "").Code)
}

func TestRateLimit(t *testing.T) {
	srv := NewServer(ServerConfig{RequestsPerMinute: 2}, newFake(), nil, nil, nil, zerolog.Nop())
	h := srv.Handler()

	assert.Equal(t, http.StatusOK, do(t, h, "/api/status", "").Code)
	assert.Equal(t, http.StatusOK, do(t, h, "/api/status", "").Code)
	w := do(t, h, "/api/status", "")
	assert.Equal(t, http.StatusTooManyRequests, w.Code)
	assert.True(t, decode(t, w).Error)
}

func TestRateLimiter_WindowSlides(t *testing.T) {
	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rl := NewRateLimiter(1, time.Minute)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.Allow("a"))
	assert.False(t, rl.Allow("a"))
	assert.True(t, rl.Allow("b"))

	now = now.Add(61 * time.Second)
	assert.True(t, rl.Allow("a"))
}

func TestMetricsRoute(t *testing.T) {
	metrics := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("cryptoblade_cycles_total 3\n"))
	})
	srv := NewServer(ServerConfig{}, newFake(), nil, metrics, nil, zerolog.Nop())

	w := do(t, srv.Handler(), "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "cryptoblade_cycles_total 3")
}

func TestCORS(t *testing.T) {
	srv := NewServer(ServerConfig{AllowedOrigins: []string{"http://ops.local"}}, newFake(), nil, nil, nil, zerolog.Nop())

	req := httptest.NewRequest(http.MethodOptions, "/api/status", nil)
	req.Header.Set("Origin", "http://ops.local")
	req.Header.Set("Access-Control-Request-Method", "GET")
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, "http://ops.local", w.Header().Get("Access-Control-Allow-Origin"))
}

func TestEventFeed(t *testing.T) {
	bus := events.NewEventBus()
	srv := NewServer(ServerConfig{}, newFake(), nil, nil, bus, zerolog.Nop())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go srv.hub.Run(ctx)

	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/api/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return srv.hub.ClientCount() == 1 }, time.Second, 5*time.Millisecond)

	bus.Publish(events.SymbolExcluded("BTCUSDT", "leverage rejected"))

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var got events.Event
	require.NoError(t, conn.ReadJSON(&got))
	assert.Equal(t, events.EventSymbolExcluded, got.Type)
	assert.Equal(t, "BTCUSDT", got.String("symbol"))
}
