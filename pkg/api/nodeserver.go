package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cuemby/vdb/pkg/consensus"
	"github.com/cuemby/vdb/pkg/log"
	"github.com/cuemby/vdb/pkg/types"
	"github.com/cuemby/vdb/pkg/vectordb"
)

var nodeLogger = log.WithComponent("api")

const maxRequestBody = 64 << 20 // 64 MiB, per the concurrency model's body size floor.

// envelope is the canonical response shape every storage-node endpoint
// returns: retCode 0 means success, any other value is an error, and
// errorMsg is only populated on failure.
type envelope struct {
	RetCode   int       `json:"retCode"`
	ErrorMsg  string    `json:"errorMsg,omitempty"`
	Vectors   []int64   `json:"vectors,omitempty"`
	Distances []float32 `json:"distances,omitempty"`
}

const (
	retCodeSuccess = 0
	retCodeError   = 1
)

// NodeServer implements the storage node's HTTP JSON API: record
// mutation (/upsert, /insert), lookup (/query), similarity search
// (/search), and cluster administration (/admin/*).
type NodeServer struct {
	db     *vectordb.VectorDatabase
	raft   *consensus.Harness
	mux    *http.ServeMux
	nodeID string
}

// NewNodeServer wires db and raft (either may be used independently:
// raft is nil on a single-node deployment with no consensus harness).
func NewNodeServer(nodeID string, db *vectordb.VectorDatabase, raft *consensus.Harness) *NodeServer {
	s := &NodeServer{db: db, raft: raft, mux: http.NewServeMux(), nodeID: nodeID}

	s.mux.HandleFunc("/search", s.handleSearch)
	s.mux.HandleFunc("/insert", s.handleInsert)
	s.mux.HandleFunc("/upsert", s.handleUpsert)
	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/admin/snapshot", s.handleSnapshot)
	s.mux.HandleFunc("/admin/setLeader", s.handleSetLeader)
	s.mux.HandleFunc("/admin/addFollower", s.handleAddFollower)
	s.mux.HandleFunc("/admin/listNode", s.handleListNode)
	s.mux.HandleFunc("/admin/getNode", s.handleGetNode)
	s.mux.HandleFunc("/admin/enableElectionTimeout", s.handleSetElectionTimeout)

	return s
}

// Handler returns the http.Handler for embedding in an http.Server.
func (s *NodeServer) Handler() http.Handler {
	return s.mux
}

// Start runs the HTTP server on addr until the process exits or
// ListenAndServe returns an error.
func (s *NodeServer) Start(addr string) error {
	server := &http.Server{
		Addr:         addr,
		Handler:      s.mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return server.ListenAndServe()
}

func writeEnvelope(w http.ResponseWriter, status int, env envelope) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(env)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeEnvelope(w, status, envelope{RetCode: retCodeError, ErrorMsg: msg})
}

func readJSONBody(r *http.Request, v interface{}) error {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBody)
	return json.NewDecoder(r.Body).Decode(v)
}

type searchRequestBody struct {
	Vectors   []float32 `json:"vectors"`
	K         int       `json:"k"`
	IndexType string    `json:"indexType"`
	Filter    *struct {
		FieldName string `json:"fieldName"`
		Op        string `json:"op"`
		Value     int64  `json:"value"`
	} `json:"filter"`
}

func (s *NodeServer) handleSearch(w http.ResponseWriter, r *http.Request) {
	var body searchRequestBody
	if err := readJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request")
		return
	}
	if body.Vectors == nil || body.K == 0 {
		writeError(w, http.StatusBadRequest, "missing vectors or k parameter in the request")
		return
	}
	if _, ok := types.ParseIndexKind(body.IndexType); !ok {
		writeError(w, http.StatusBadRequest, "invalid indexType parameter in the request")
		return
	}

	req := vectordb.SearchRequest{Vectors: body.Vectors, K: body.K, IndexType: body.IndexType, Filter: body.Filter}
	results, err := s.db.Search(req)
	if err != nil {
		nodeLogger.Error().Err(err).Msg("search failed")
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	env := envelope{RetCode: retCodeSuccess}
	for _, r := range results {
		env.Vectors = append(env.Vectors, r.ID)
		env.Distances = append(env.Distances, r.Distance)
	}
	writeEnvelope(w, http.StatusOK, env)
}

type mutateRequestBody struct {
	ID        int64     `json:"id"`
	Vectors   []float32 `json:"vectors"`
	IndexType string    `json:"indexType"`
}

func (s *NodeServer) handleInsert(w http.ResponseWriter, r *http.Request) {
	var body mutateRequestBody
	raw, err := decodeRaw(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request")
		return
	}
	if err := json.Unmarshal(raw, &body); err != nil || body.Vectors == nil {
		writeError(w, http.StatusBadRequest, "missing vectors or id parameter in the request")
		return
	}
	kind, ok := types.ParseIndexKind(body.IndexType)
	if !ok {
		writeError(w, http.StatusBadRequest, "invalid indexType parameter in the request")
		return
	}

	idx, ok := s.db.Indexes().Get(kind)
	if !ok {
		writeError(w, http.StatusBadRequest, "index not available")
		return
	}
	if err := idx.Insert(body.ID, body.Vectors); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeEnvelope(w, http.StatusOK, envelope{RetCode: retCodeSuccess})
}

func (s *NodeServer) handleUpsert(w http.ResponseWriter, r *http.Request) {
	raw, err := decodeRaw(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request")
		return
	}
	var body mutateRequestBody
	if err := json.Unmarshal(raw, &body); err != nil || body.Vectors == nil {
		writeError(w, http.StatusBadRequest, "missing vectors or id parameter in the request")
		return
	}
	if _, ok := types.ParseIndexKind(body.IndexType); !ok {
		writeError(w, http.StatusBadRequest, "invalid indexType parameter in the request")
		return
	}

	if s.raft != nil {
		if !s.raft.IsLeader() {
			writeError(w, http.StatusBadRequest, "Current node is not the leader")
			return
		}
		if _, err := s.raft.Propose(raw); err != nil {
			writeError(w, http.StatusInternalServerError, err.Error())
			return
		}
	} else if err := s.db.Upsert(raw); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeEnvelope(w, http.StatusOK, envelope{RetCode: retCodeSuccess})
}

func (s *NodeServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var body struct {
		ID int64 `json:"id"`
	}
	if err := readJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request")
		return
	}

	data, ok, err := s.db.Query(body.ID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	if !ok {
		_ = json.NewEncoder(w).Encode(envelope{RetCode: retCodeSuccess})
		return
	}

	fields := map[string]json.RawMessage{}
	_ = json.Unmarshal(data, &fields)
	fields["retCode"] = json.RawMessage("0")
	_ = json.NewEncoder(w).Encode(fields)
}

func (s *NodeServer) handleSnapshot(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if err := s.db.TakeSnapshot(snapshotFolder(s.nodeID)); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeEnvelope(w, http.StatusOK, envelope{RetCode: retCodeSuccess})
}

func (s *NodeServer) handleSetLeader(w http.ResponseWriter, r *http.Request) {
	if s.raft == nil {
		writeError(w, http.StatusBadRequest, "consensus not enabled on this node")
		return
	}
	var body struct {
		NodeID  string `json:"nodeId"`
		Address string `json:"address"`
	}
	if err := readJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request")
		return
	}
	if err := s.raft.AddVoter(body.NodeID, body.Address); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeEnvelope(w, http.StatusOK, envelope{RetCode: retCodeSuccess})
}

func (s *NodeServer) handleAddFollower(w http.ResponseWriter, r *http.Request) {
	s.handleSetLeader(w, r)
}

// nodeInfo is the (id, endpoint, role, last-log-idx, last-snapshot-idx)
// tuple reported by listNode/getNode. LastLogIndex and LastSnapshotIdx
// are only populated for this process's own entry: hashicorp/raft's
// public API exposes no way to read another server's log or snapshot
// position, so peer entries always report them as 0.
type nodeInfo struct {
	ID              string `json:"id"`
	Endpoint        string `json:"endpoint"`
	Role            string `json:"role"`
	LastLogIndex    uint64 `json:"lastLogIndex"`
	LastSnapshotIdx uint64 `json:"lastSnapshotIdx"`
}

func (s *NodeServer) selfRole() string {
	if s.raft != nil && s.raft.IsLeader() {
		return "leader"
	}
	return "follower"
}

func (s *NodeServer) handleListNode(w http.ResponseWriter, r *http.Request) {
	if s.raft == nil {
		writeError(w, http.StatusBadRequest, "consensus not enabled on this node")
		return
	}
	servers, err := s.raft.Servers()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	leaderAddr := s.raft.LeaderAddr()
	nodes := make([]nodeInfo, 0, len(servers))
	for _, srv := range servers {
		info := nodeInfo{ID: string(srv.ID), Endpoint: string(srv.Address), Role: "follower"}
		if leaderAddr != "" && string(srv.Address) == leaderAddr {
			info.Role = "leader"
		}
		if string(srv.ID) == s.nodeID {
			info.LastLogIndex = s.raft.LastIndex()
			info.LastSnapshotIdx = s.db.LastSnapshotLogID()
		}
		nodes = append(nodes, info)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_ = json.NewEncoder(w).Encode(struct {
		RetCode int        `json:"retCode"`
		Nodes   []nodeInfo `json:"nodes"`
	}{RetCode: retCodeSuccess, Nodes: nodes})
}

func (s *NodeServer) handleGetNode(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	isLeader := s.raft != nil && s.raft.IsLeader()
	info := nodeInfo{
		ID:              s.nodeID,
		Role:            s.selfRole(),
		LastSnapshotIdx: s.db.LastSnapshotLogID(),
	}
	if s.raft != nil {
		info.LastLogIndex = s.raft.LastIndex()
	}
	_ = json.NewEncoder(w).Encode(struct {
		RetCode  int    `json:"retCode"`
		NodeID   string `json:"nodeId"`
		IsLeader bool   `json:"isLeader"`
		nodeInfo
	}{RetCode: retCodeSuccess, NodeID: s.nodeID, IsLeader: isLeader, nodeInfo: info})
}

func (s *NodeServer) handleSetElectionTimeout(w http.ResponseWriter, r *http.Request) {
	if s.raft == nil {
		writeError(w, http.StatusBadRequest, "consensus not enabled on this node")
		return
	}
	var body struct {
		ElectionTimeoutMs int `json:"electionTimeoutMs"`
	}
	if err := readJSONBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON request")
		return
	}
	if body.ElectionTimeoutMs <= 0 {
		writeError(w, http.StatusBadRequest, "electionTimeoutMs must be positive")
		return
	}
	if err := s.raft.SetElectionTimeout(time.Duration(body.ElectionTimeoutMs) * time.Millisecond); err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeEnvelope(w, http.StatusOK, envelope{RetCode: retCodeSuccess})
}

func decodeRaw(r *http.Request) (json.RawMessage, error) {
	r.Body = http.MaxBytesReader(nil, r.Body, maxRequestBody)
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		return nil, err
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("invalid JSON request")
	}
	return raw, nil
}

func snapshotFolder(nodeID string) string {
	return "data/" + nodeID + "/indexes"
}
