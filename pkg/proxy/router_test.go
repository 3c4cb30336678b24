package proxy

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newFakeCoordinator(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/getInstance", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"retCode":0,"data":{"nodes":[
			{"nodeId":"n1","url":"http://n1.local","role":1,"status":"active"},
			{"nodeId":"n2","url":"http://n2.local","role":0,"status":"active"},
			{"nodeId":"n3","url":"http://n3.local","role":0,"status":"draining"}
		]}}`))
	})
	mux.HandleFunc("/getPartitionConfig", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"retCode":0,"data":{
			"partitionKey":"tenant",
			"numberOfPartitions":2,
			"partitions":[{"partitionId":0,"nodeId":"n1"},{"partitionId":1,"nodeId":"n2"}]
		}}`))
	})
	return httptest.NewServer(mux)
}

func TestRouterStartFetchesTopology(t *testing.T) {
	coord := newFakeCoordinator(t)
	t.Cleanup(coord.Close)

	r := NewRouter(Config{InstanceID: "inst-1", CoordinatorBaseURL: coord.URL})
	require.NoError(t, r.Start(context.Background()))
	t.Cleanup(r.Stop)

	roster := r.ActiveRoster()
	require.Len(t, roster.Nodes, 2, "draining node should be filtered out")

	cfg := r.ActivePartitionConfig()
	assert.Equal(t, "tenant", cfg.PartitionKey)
	assert.Equal(t, 2, cfg.NumberOfPartitions)
	assert.Equal(t, []string{"n1"}, cfg.Partitions[0])
}

func TestRouterStartFailsOnCoordinatorError(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/getInstance", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	r := NewRouter(Config{InstanceID: "inst-1", CoordinatorBaseURL: srv.URL})
	err := r.Start(context.Background())
	assert.Error(t, err)
}
