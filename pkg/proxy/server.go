package proxy

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/cuemby/vdb/pkg/metrics"
)

// Server wraps a Router with its HTTP handlers.
type Server struct {
	router *Router
	mux    *http.ServeMux
}

// NewServer builds the proxy's HTTP handler set around router.
func NewServer(router *Router) *Server {
	s := &Server{router: router, mux: http.NewServeMux()}
	s.mux.HandleFunc("/topology", s.instrument("topology", s.handleTopology))
	s.mux.HandleFunc("/upsert", s.instrument("upsert", s.handleUpsert))
	s.mux.HandleFunc("/search", s.instrument("search", s.handleSearch))
	s.mux.HandleFunc("/", s.instrument("generic", s.handleGeneric))
	return s
}

// statusRecorder captures the status code a handler wrote, for metrics;
// http.ResponseWriter itself exposes no way to read it back.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// instrument wraps h with request count and latency metrics tagged by
// endpoint.
func (s *Server) instrument(endpoint string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		timer := metrics.NewTimer()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		h(rec, r)
		timer.ObserveDurationVec(metrics.ProxyRequestDuration, endpoint)

		status := "success"
		if rec.status >= 400 {
			status = "error"
		}
		metrics.ProxyRequestsTotal.WithLabelValues(endpoint, status).Inc()
	}
}

// Handler returns the http.Handler for embedding in an http.Server.
func (s *Server) Handler() http.Handler {
	return s.mux
}

type topologyResponse struct {
	RetCode   int             `json:"retCode"`
	Roster    []NodeInfo      `json:"roster"`
	Partition PartitionConfig `json:"partitionConfig"`
}

func (s *Server) handleTopology(w http.ResponseWriter, r *http.Request) {
	resp := topologyResponse{
		RetCode:   0,
		Roster:    s.router.ActiveRoster().Nodes,
		Partition: s.router.ActivePartitionConfig(),
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(resp)
}

func (s *Server) handleUpsert(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	target, err := s.resolve(body, true, r.URL.Query().Get("forceMaster") == "true")
	if err != nil {
		http.Error(w, "no suitable node for partition", http.StatusServiceUnavailable)
		return
	}
	s.router.forwardTo(w, r, target, body)
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	body, err := readBody(r)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	cfg := s.router.ActivePartitionConfig()
	if _, ok := partitionValue(body, cfg.PartitionKey); !ok {
		s.handleBroadcastSearch(w, r, body)
		return
	}

	target, err := s.resolve(body, false, r.URL.Query().Get("forceMaster") == "true")
	if err != nil {
		http.Error(w, "no suitable node for partition", http.StatusServiceUnavailable)
		return
	}
	s.router.forwardTo(w, r, target, body)
}

func (s *Server) handleBroadcastSearch(w http.ResponseWriter, r *http.Request, body []byte) {
	var req struct {
		K int `json:"k"`
	}
	_ = json.Unmarshal(body, &req)

	targets := s.router.broadcastTargets()
	if len(targets) == 0 {
		http.Error(w, "no suitable node for partition", http.StatusServiceUnavailable)
		return
	}
	metrics.ProxyScatterGatherFanout.Observe(float64(len(targets)))

	merged, err := s.router.scatterGather(r.Context(), "/search", body, req.K, targets)
	if err != nil {
		http.Error(w, "upstream request failed", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(merged)
}

// handleGeneric forwards any other endpoint (/query, /insert,
// /admin/*) round-robin across the full active roster: these paths
// have no partition-key concept in the spec, so the proxy simply
// spreads them across whatever nodes are up.
func (s *Server) handleGeneric(w http.ResponseWriter, r *http.Request) {
	roster := s.router.ActiveRoster()
	if len(roster.Nodes) == 0 {
		http.Error(w, "no suitable node available", http.StatusServiceUnavailable)
		return
	}

	body, err := readBody(r)
	if err != nil {
		http.Error(w, "failed to read request body", http.StatusBadRequest)
		return
	}

	target := s.router.roundRobin(-1, roster.Nodes)
	s.router.forwardTo(w, r, target, body)
}

// resolve extracts the partition key value from body and picks a
// target node. forWrite forces master selection; forceMaster does the
// same regardless of path.
func (s *Server) resolve(body []byte, forWrite, forceMaster bool) (NodeInfo, error) {
	cfg := s.router.ActivePartitionConfig()
	value, ok := partitionValue(body, cfg.PartitionKey)
	partitionID := 0
	if ok {
		partitionID = stableHash(value, cfg.NumberOfPartitions)
	}
	return s.router.selectNode(partitionID, forWrite || forceMaster)
}

func readBody(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxProxyRequestBody))
}

const maxProxyRequestBody = 64 << 20
