package api

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"

	"github.com/davehusk/millennium-qecc/internal/population"
)

// fakeSource serves canned status.
type fakeSource struct {
	mu       sync.Mutex
	health   population.Health
	agents   []population.AgentInfo
	insights *population.InsightLog
}

func (f *fakeSource) HealthCheck() population.Health {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.health
}

func (f *fakeSource) Agents() []population.AgentInfo   { return f.agents }
func (f *fakeSource) Insights() *population.InsightLog { return f.insights }

func (f *fakeSource) setCompliance(ok bool) {
	f.mu.Lock()
	f.health.AxiomCompliance = ok
	f.mu.Unlock()
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		health: population.Health{TotalAgents: 1, TotalEnergy: 1100, Pool: 1000, AxiomCompliance: true},
		agents: []population.AgentInfo{
			{ID: "a1", Energy: 100, Mode: "analytic", Active: true},
		},
		insights: population.NewInsightLog(10),
	}
}

func get(t *testing.T, h http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, path, nil))
	return rec
}

func TestHealthz(t *testing.T) {
	src := newFakeSource()
	r := NewRouter(src)

	rec := get(t, r, "/healthz")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, 1100.0, body["total_energy"])
	assert.Equal(t, true, body["axiom_compliance"])

	src.setCompliance(false)
	rec = get(t, r, "/healthz")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Contains(t, rec.Body.String(), `"degraded"`)
}

func TestAgents(t *testing.T) {
	r := NewRouter(newFakeSource())

	rec := get(t, r, "/agents")
	require.Equal(t, http.StatusOK, rec.Code)
	var agents []population.AgentInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &agents))
	require.Len(t, agents, 1)
	assert.Equal(t, "a1", agents[0].ID)

	rec = get(t, r, "/agents/a1")
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = get(t, r, "/agents/missing")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestInsights(t *testing.T) {
	src := newFakeSource()
	src.insights.Append(population.Insight{AgentID: "a1", ErrorType: "empty_task"})
	src.insights.Append(population.Insight{AgentID: "a1", ErrorType: "panic"})
	r := NewRouter(src)

	var all []population.Insight
	rec := get(t, r, "/insights")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &all))
	assert.Len(t, all, 2)

	var recent []population.Insight
	rec = get(t, r, "/insights?since=1")
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recent))
	require.Len(t, recent, 1)
	assert.Equal(t, "panic", recent[0].ErrorType)

	rec = get(t, r, "/insights?since=99")
	assert.JSONEq(t, "[]", rec.Body.String())

	rec = get(t, r, "/insights?since=abc")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHealthzWithLiveSystem(t *testing.T) {
	sys := population.NewSystem(population.DefaultConfig())
	id := sys.SpawnTopLevelAgent("")
	t.Cleanup(func() { sys.TerminateAgent(id) })

	rec := get(t, NewRouter(sys), "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGRPCHealth(t *testing.T) {
	src := newFakeSource()
	hs := NewHealthServer(src)

	lis := bufconn.Listen(1 << 20)
	ctx, cancel := context.WithCancel(context.Background())
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- hs.ServeListener(ctx, lis, 10*time.Millisecond)
	}()
	t.Cleanup(func() {
		cancel()
		assert.NoError(t, <-serveErr)
	})

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	client := healthpb.NewHealthClient(conn)

	check := func(service string) healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: service})
		if err != nil {
			return healthpb.HealthCheckResponse_UNKNOWN
		}
		return resp.Status
	}

	require.Eventually(t, func() bool {
		return check(ServiceName) == healthpb.HealthCheckResponse_SERVING
	}, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check(""))

	src.setCompliance(false)
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, hs.Refresh())
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check(ServiceName))
}
