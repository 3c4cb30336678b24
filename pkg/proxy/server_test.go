package proxy

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEnvelopeBackend(t *testing.T, env searchEnvelope) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(env)
	}))
}

func routerWithRoster(roster Roster, partitions PartitionConfig) *Router {
	r := NewRouter(Config{InstanceID: "inst-1", CoordinatorBaseURL: "http://unused"})
	r.rosters[0] = roster
	r.partitions[0] = partitions
	return r
}

func TestServerHandleUpsertRoutesByPartitionKey(t *testing.T) {
	backend := newEnvelopeBackend(t, searchEnvelope{RetCode: 0})
	t.Cleanup(backend.Close)

	router := routerWithRoster(
		Roster{Nodes: []NodeInfo{{NodeID: "n1", URL: backend.URL, Role: RoleMaster, Status: "active"}}},
		PartitionConfig{PartitionKey: "tenant", NumberOfPartitions: 1, Partitions: map[int][]string{0: {"n1"}}},
	)
	srv := NewServer(router)

	body := []byte(`{"id":1,"tenant":"acme","vectors":[1,2],"indexType":"hnsw"}`)
	req := httptest.NewRequest(http.MethodPost, "/upsert", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
}

func TestServerHandleUpsertNoRoute(t *testing.T) {
	router := routerWithRoster(
		Roster{Nodes: nil},
		PartitionConfig{PartitionKey: "tenant", NumberOfPartitions: 1, Partitions: map[int][]string{0: {"n1"}}},
	)
	srv := NewServer(router)

	body := []byte(`{"id":1,"tenant":"acme","vectors":[1,2],"indexType":"hnsw"}`)
	req := httptest.NewRequest(http.MethodPost, "/upsert", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestServerHandleSearchKeyed(t *testing.T) {
	backend := newEnvelopeBackend(t, searchEnvelope{RetCode: 0, Vectors: []int64{7}, Distances: []float32{0.5}})
	t.Cleanup(backend.Close)

	router := routerWithRoster(
		Roster{Nodes: []NodeInfo{{NodeID: "n1", URL: backend.URL, Role: RoleMaster, Status: "active"}}},
		PartitionConfig{PartitionKey: "tenant", NumberOfPartitions: 1, Partitions: map[int][]string{0: {"n1"}}},
	)
	srv := NewServer(router)

	body := []byte(`{"tenant":"acme","vectors":[1,2],"k":1,"indexType":"hnsw"}`)
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var env searchEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Vectors, 1)
	assert.Equal(t, int64(7), env.Vectors[0])
}

func TestServerHandleSearchBroadcastMergesAndTruncates(t *testing.T) {
	backendA := newEnvelopeBackend(t, searchEnvelope{RetCode: 0, Vectors: []int64{1, 2}, Distances: []float32{0.9, 0.1}})
	backendB := newEnvelopeBackend(t, searchEnvelope{RetCode: 0, Vectors: []int64{3}, Distances: []float32{0.2}})
	t.Cleanup(backendA.Close)
	t.Cleanup(backendB.Close)

	router := routerWithRoster(
		Roster{Nodes: []NodeInfo{
			{NodeID: "n1", URL: backendA.URL, Role: RoleMaster, Status: "active"},
			{NodeID: "n2", URL: backendB.URL, Role: RoleMaster, Status: "active"},
		}},
		PartitionConfig{
			PartitionKey:       "tenant",
			NumberOfPartitions: 2,
			Partitions:         map[int][]string{0: {"n1"}, 1: {"n2"}},
		},
	)
	srv := NewServer(router)

	body := []byte(`{"vectors":[1,2],"k":2,"indexType":"hnsw"}`) // no "tenant" field -> broadcast
	req := httptest.NewRequest(http.MethodPost, "/search", bytes.NewReader(body))
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var env searchEnvelope
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &env))
	require.Len(t, env.Vectors, 2)
	// ascending distance: 0.1 (id 2), 0.2 (id 3), truncated from 3 merged hits to k=2
	assert.Equal(t, int64(2), env.Vectors[0])
	assert.Equal(t, int64(3), env.Vectors[1])
}

func TestServerHandleTopology(t *testing.T) {
	router := routerWithRoster(
		Roster{Nodes: []NodeInfo{{NodeID: "n1", URL: "http://n1", Role: RoleMaster, Status: "active"}}},
		PartitionConfig{PartitionKey: "tenant", NumberOfPartitions: 1, Partitions: map[int][]string{0: {"n1"}}},
	)
	srv := NewServer(router)

	req := httptest.NewRequest(http.MethodGet, "/topology", nil)
	w := httptest.NewRecorder()
	srv.Handler().ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)

	var resp topologyResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Len(t, resp.Roster, 1)
	assert.Equal(t, "tenant", resp.Partition.PartitionKey)
}
