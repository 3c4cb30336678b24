package proxy

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"sort"
	"sync"
)

// forwardTo streams req to target, copying method and body and relaying
// the upstream's response back to w. A new ReverseProxy is built per
// call (matching the teacher's proxyRequest, which does the same) since
// the target varies per request with no connection affinity to reuse
// beyond what the shared transport's connection pool already provides.
func (r *Router) forwardTo(w http.ResponseWriter, req *http.Request, target NodeInfo, body []byte) {
	targetURL, err := url.Parse(target.URL)
	if err != nil {
		http.Error(w, "invalid backend address", http.StatusBadGateway)
		return
	}

	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))

	revProxy := httputil.NewSingleHostReverseProxy(targetURL)
	revProxy.Transport = r.transport
	revProxy.ErrorHandler = func(w http.ResponseWriter, _ *http.Request, err error) {
		proxyLogger.Error().Err(err).Str("target", target.URL).Msg("upstream forward failed")
		http.Error(w, "upstream request failed", http.StatusInternalServerError)
	}
	revProxy.ServeHTTP(w, req)
}

// searchEnvelope is the subset of the storage node's /search response
// this package needs to merge scatter-gather results.
type searchEnvelope struct {
	RetCode   int       `json:"retCode"`
	ErrorMsg  string    `json:"errorMsg,omitempty"`
	Vectors   []int64   `json:"vectors,omitempty"`
	Distances []float32 `json:"distances,omitempty"`
}

type hit struct {
	id       int64
	distance float32
}

// scatterGather broadcasts body to one node per partition, concatenates
// their {vectors, distances} arrays, sorts by distance ascending, and
// truncates to k: the merge semantics of a broadcast search matching a
// search run against the union of all partitions.
func (r *Router) scatterGather(ctx context.Context, path string, body []byte, k int, targets []NodeInfo) (searchEnvelope, error) {
	results := make([]searchEnvelope, len(targets))
	errs := make([]error, len(targets))

	var wg sync.WaitGroup
	for i, target := range targets {
		wg.Add(1)
		go func(i int, target NodeInfo) {
			defer wg.Done()
			env, err := r.doJSONRequest(ctx, target, path, body)
			results[i] = env
			errs[i] = err
		}(i, target)
	}
	wg.Wait()

	var hits []hit
	var firstErr error
	for i, env := range results {
		if errs[i] != nil {
			if firstErr == nil {
				firstErr = errs[i]
			}
			continue
		}
		for j, id := range env.Vectors {
			d := float32(0)
			if j < len(env.Distances) {
				d = env.Distances[j]
			}
			hits = append(hits, hit{id: id, distance: d})
		}
	}
	if len(hits) == 0 && firstErr != nil {
		return searchEnvelope{}, firstErr
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].distance < hits[j].distance })
	if k > 0 && len(hits) > k {
		hits = hits[:k]
	}

	merged := searchEnvelope{RetCode: 0}
	for _, h := range hits {
		merged.Vectors = append(merged.Vectors, h.id)
		merged.Distances = append(merged.Distances, h.distance)
	}
	return merged, nil
}

func (r *Router) doJSONRequest(ctx context.Context, target NodeInfo, path string, body []byte) (searchEnvelope, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target.URL+path, bytes.NewReader(body))
	if err != nil {
		return searchEnvelope{}, fmt.Errorf("build scatter request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	client := &http.Client{Transport: r.transport}
	resp, err := client.Do(req)
	if err != nil {
		return searchEnvelope{}, fmt.Errorf("scatter request to %s failed: %w", target.URL, err)
	}
	defer resp.Body.Close()

	var env searchEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&env); err != nil {
		return searchEnvelope{}, fmt.Errorf("decode scatter response from %s: %w", target.URL, err)
	}
	return env, nil
}
