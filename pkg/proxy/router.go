package proxy

import (
	"context"
	"net"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cuemby/vdb/pkg/log"
)

var proxyLogger = log.WithComponent("proxy")

const (
	defaultRosterRefreshInterval     = 30 * time.Second
	defaultPartitionRefreshInterval  = 5 * time.Minute
	defaultCoordinatorRequestTimeout = 10 * time.Second
)

// Config configures a Router.
type Config struct {
	InstanceID               string
	CoordinatorBaseURL       string
	RosterRefreshInterval    time.Duration
	PartitionRefreshInterval time.Duration
}

// Router is the proxy's stateless routing core: a topology cache kept
// current by two background refresh timers, plus partition hashing and
// node-selection logic consumed by the HTTP handlers in server.go.
//
// The roster and partition config are each held in a double buffer
// ([2]T + an atomic index into it), matching original_source's
// activeNodesIndex_/activePartitionIndex_ pattern: a single background
// writer populates the inactive slot, then flips the index, so readers
// never observe a torn update and never take a lock.
type Router struct {
	cfg         Config
	coordinator *coordinatorClient

	rosters         [2]Roster
	activeRosterIdx atomic.Int32

	partitions         [2]PartitionConfig
	activePartitionIdx atomic.Int32

	rrMu       sync.Mutex
	rrCounters map[int]uint64

	transport *http.Transport

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewRouter constructs a Router. It performs no I/O; call Start to
// begin background topology refresh.
func NewRouter(cfg Config) *Router {
	if cfg.RosterRefreshInterval == 0 {
		cfg.RosterRefreshInterval = defaultRosterRefreshInterval
	}
	if cfg.PartitionRefreshInterval == 0 {
		cfg.PartitionRefreshInterval = defaultPartitionRefreshInterval
	}

	// TCP keep-alive tuning on the outbound forwarding client, carried
	// over from the original proxy's CURLOPT_TCP_KEEPALIVE/KEEPIDLE
	// settings.
	transport := &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		MaxIdleConns:        256,
		MaxIdleConnsPerHost: 64,
		IdleConnTimeout:     90 * time.Second,
	}
	httpClient := &http.Client{Timeout: defaultCoordinatorRequestTimeout, Transport: transport}

	return &Router{
		cfg:         cfg,
		coordinator: newCoordinatorClient(cfg.CoordinatorBaseURL, cfg.InstanceID, httpClient),
		transport:   transport,
		rrCounters:  make(map[int]uint64),
		stopCh:      make(chan struct{}),
	}
}

// Start performs an initial synchronous topology fetch, then launches
// the background refresh timers. It returns the first fetch's error, if
// any, so the caller can fail startup rather than serve with an empty
// topology.
func (r *Router) Start(ctx context.Context) error {
	if err := r.refreshRoster(ctx); err != nil {
		return err
	}
	if err := r.refreshPartitions(ctx); err != nil {
		return err
	}

	r.wg.Add(2)
	go r.refreshLoop(r.cfg.RosterRefreshInterval, r.refreshRoster)
	go r.refreshLoop(r.cfg.PartitionRefreshInterval, r.refreshPartitions)
	return nil
}

// Stop halts the background refresh timers.
func (r *Router) Stop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
	r.wg.Wait()
}

func (r *Router) refreshLoop(interval time.Duration, refresh func(context.Context) error) {
	defer r.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-r.stopCh:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), defaultCoordinatorRequestTimeout)
			if err := refresh(ctx); err != nil {
				proxyLogger.Warn().Err(err).Msg("topology refresh failed, keeping previous snapshot")
			}
			cancel()
		}
	}
}

func (r *Router) refreshRoster(ctx context.Context) error {
	roster, err := r.coordinator.fetchRoster(ctx)
	if err != nil {
		return err
	}
	inactive := 1 - r.activeRosterIdx.Load()
	r.rosters[inactive] = roster
	r.activeRosterIdx.Store(inactive)
	proxyLogger.Debug().Int("node_count", len(roster.Nodes)).Msg("refreshed roster")
	return nil
}

func (r *Router) refreshPartitions(ctx context.Context) error {
	cfg, err := r.coordinator.fetchPartitionConfig(ctx)
	if err != nil {
		return err
	}
	inactive := 1 - r.activePartitionIdx.Load()
	r.partitions[inactive] = cfg
	r.activePartitionIdx.Store(inactive)
	proxyLogger.Debug().Int("partitions", cfg.NumberOfPartitions).Msg("refreshed partition config")
	return nil
}

// ActiveRoster returns the currently active roster snapshot.
func (r *Router) ActiveRoster() Roster {
	return r.rosters[r.activeRosterIdx.Load()]
}

// ActivePartitionConfig returns the currently active partition config
// snapshot.
func (r *Router) ActivePartitionConfig() PartitionConfig {
	return r.partitions[r.activePartitionIdx.Load()]
}
