package httpapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/FelipeJared/mechOS/internal/broker"
	"github.com/FelipeJared/mechOS/pkg/mechos"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRegistry struct {
	nodes  []broker.NodeInfo
	topics []broker.TopicInfo
	health broker.Health
	panic  bool
}

func (f *fakeRegistry) Nodes() []broker.NodeInfo {
	if f.panic {
		panic("registry exploded")
	}
	return f.nodes
}

func (f *fakeRegistry) Node(name string) (broker.NodeInfo, bool) {
	for _, n := range f.nodes {
		if n.Name == name {
			return n, true
		}
	}
	return broker.NodeInfo{}, false
}

func (f *fakeRegistry) Topics() []broker.TopicInfo { return f.topics }
func (f *fakeRegistry) Health() broker.Health      { return f.health }

func newFakeRegistry() *fakeRegistry {
	pub := mechos.EntityInfo{
		ID:       mechos.NewID(),
		Topic:    "chatter",
		Endpoint: mechos.Endpoint{Host: "127.0.0.1", Port: 40001},
		Protocol: mechos.UDP,
	}
	return &fakeRegistry{
		nodes: []broker.NodeInfo{
			{Name: "talker", PID: 100, Control: mechos.Endpoint{Host: "127.0.0.1", Port: 40000}, Publishers: []mechos.EntityInfo{pub}},
			{Name: "listener", PID: 101, Control: mechos.Endpoint{Host: "127.0.0.1", Port: 40002}},
		},
		topics: []broker.TopicInfo{{Topic: "chatter", Protocol: mechos.UDP, Publishers: 1, Subscribers: 0}},
		health: broker.Health{Healthy: true, Nodes: 2, Publishers: 1, Uptime: time.Minute},
	}
}

func newTestServer(t *testing.T, registry Registry) (*Server, *prometheus.Registry) {
	t.Helper()
	reg := prometheus.NewRegistry()
	srv, err := NewServer(registry, reg, Config{ListenAddress: "127.0.0.1:0"}, nil)
	require.NoError(t, err)
	return srv, reg
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestServer_ListNodes(t *testing.T) {
	srv, _ := newTestServer(t, newFakeRegistry())

	w := get(t, srv.Handler(), "/api/v1/nodes")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var resp NodesResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	require.Len(t, resp.Nodes, 2)
	assert.Equal(t, "talker", resp.Nodes[0].Name)
	assert.Equal(t, 40000, resp.Nodes[0].Control.Port)
	require.Len(t, resp.Nodes[0].Publishers, 1)
	assert.Equal(t, mechos.UDP, resp.Nodes[0].Publishers[0].Protocol)
}

func TestServer_ListNodesEmpty(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRegistry{health: broker.Health{Healthy: true}})

	w := get(t, srv.Handler(), "/api/v1/nodes")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"nodes":[]}`, w.Body.String())
}

func TestServer_GetNode(t *testing.T) {
	srv, _ := newTestServer(t, newFakeRegistry())

	tests := []struct {
		name     string
		path     string
		wantCode int
	}{
		{name: "registered", path: "/api/v1/nodes/listener", wantCode: http.StatusOK},
		{name: "trailing slash", path: "/api/v1/nodes/listener/", wantCode: http.StatusOK},
		{name: "unknown", path: "/api/v1/nodes/ghost", wantCode: http.StatusNotFound},
		{name: "missing name", path: "/api/v1/nodes/", wantCode: http.StatusBadRequest},
		{name: "nested path", path: "/api/v1/nodes/a/b", wantCode: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := get(t, srv.Handler(), tt.path)
			assert.Equal(t, tt.wantCode, w.Code)
			if tt.wantCode != http.StatusOK {
				var resp ErrorResponse
				require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
				assert.Equal(t, tt.wantCode, resp.Code)
				return
			}
			var info broker.NodeInfo
			require.NoError(t, json.NewDecoder(w.Body).Decode(&info))
			assert.Equal(t, "listener", info.Name)
			assert.Equal(t, 101, info.PID)
		})
	}
}

func TestServer_ListTopics(t *testing.T) {
	srv, _ := newTestServer(t, newFakeRegistry())

	w := get(t, srv.Handler(), "/api/v1/topics")
	require.Equal(t, http.StatusOK, w.Code)

	var resp TopicsResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.Equal(t, []broker.TopicInfo{{Topic: "chatter", Protocol: mechos.UDP, Publishers: 1}}, resp.Topics)
}

func TestServer_Health(t *testing.T) {
	registry := newFakeRegistry()
	srv, _ := newTestServer(t, registry)

	w := get(t, srv.Handler(), "/api/v1/health")
	require.Equal(t, http.StatusOK, w.Code)
	var resp HealthResponse
	require.NoError(t, json.NewDecoder(w.Body).Decode(&resp))
	assert.True(t, resp.Healthy)
	assert.Equal(t, 2, resp.Nodes)
	assert.Equal(t, time.Minute, resp.Uptime)

	registry.health.Healthy = false
	w = get(t, srv.Handler(), "/api/v1/health")
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServer_ReadOnly(t *testing.T) {
	srv, _ := newTestServer(t, newFakeRegistry())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/nodes", strings.NewReader("{}"))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusMethodNotAllowed, w.Code)
	assert.Equal(t, "GET, HEAD", w.Header().Get("Allow"))
}

func TestServer_Recovery(t *testing.T) {
	srv, _ := newTestServer(t, &fakeRegistry{panic: true})

	w := get(t, srv.Handler(), "/api/v1/nodes")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestServer_Root(t *testing.T) {
	srv, _ := newTestServer(t, newFakeRegistry())

	w := get(t, srv.Handler(), "/")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "/api/v1/nodes")

	w = get(t, srv.Handler(), "/nope")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestServer_Metrics(t *testing.T) {
	srv, reg := newTestServer(t, newFakeRegistry())
	counter := prometheus.NewCounter(prometheus.CounterOpts{Name: "mechos_test_total", Help: "test"})
	reg.MustRegister(counter)
	counter.Inc()

	w := get(t, srv.Handler(), "/metrics")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "mechos_test_total 1")
}

func TestServer_StartStop(t *testing.T) {
	srv, _ := newTestServer(t, newFakeRegistry())
	assert.Empty(t, srv.Addr())

	require.NoError(t, srv.Start(context.Background()))
	assert.ErrorIs(t, srv.Start(context.Background()), ErrServerStarted)

	resp, err := http.Get("http://" + srv.Addr() + "/api/v1/health")
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, string(body), `"healthy":true`)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, srv.Stop(ctx))
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name    string
		config  Config
		wantErr bool
	}{
		{name: "defaults", config: Config{}, wantErr: false},
		{name: "negative timeout", config: Config{ListenAddress: "127.0.0.1:0", ReadTimeout: -time.Second}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.config.SetDefaults()
			err := tt.config.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
