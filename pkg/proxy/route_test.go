package proxy

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPartitionValue(t *testing.T) {
	body := []byte(`{"id":1,"tenant":"acme","vectors":[1,2]}`)

	v, ok := partitionValue(body, "tenant")
	require.True(t, ok)
	assert.JSONEq(t, `"acme"`, string(v))

	_, ok = partitionValue(body, "missing")
	assert.False(t, ok)

	_, ok = partitionValue(body, "")
	assert.False(t, ok)
}

func TestStableHashDeterministicAndBounded(t *testing.T) {
	v := json.RawMessage(`"acme"`)

	a := stableHash(v, 8)
	b := stableHash(v, 8)
	assert.Equal(t, a, b)
	assert.GreaterOrEqual(t, a, 0)
	assert.Less(t, a, 8)
}

func TestStableHashDistinctValuesCanLandDifferentPartitions(t *testing.T) {
	a := stableHash(json.RawMessage(`"tenant-a"`), 4)
	b := stableHash(json.RawMessage(`"tenant-b"`), 4)
	c := stableHash(json.RawMessage(`"tenant-c"`), 4)
	d := stableHash(json.RawMessage(`"tenant-d"`), 4)
	seen := map[int]bool{a: true, b: true, c: true, d: true}
	assert.Greater(t, len(seen), 1, "expected hash to spread across more than one partition")
}

func newTestRouter() *Router {
	r := NewRouter(Config{InstanceID: "inst-1", CoordinatorBaseURL: "http://unused"})
	r.rosters[0] = Roster{Nodes: []NodeInfo{
		{NodeID: "n1", URL: "http://n1", Role: RoleMaster, Status: "active"},
		{NodeID: "n2", URL: "http://n2", Role: RoleBackup, Status: "active"},
	}}
	r.partitions[0] = PartitionConfig{
		PartitionKey:       "tenant",
		NumberOfPartitions: 2,
		Partitions: map[int][]string{
			0: {"n1", "n2"},
			1: {"n1"},
		},
	}
	return r
}

func TestSelectNodeForceMaster(t *testing.T) {
	r := newTestRouter()
	n, err := r.selectNode(0, true)
	require.NoError(t, err)
	assert.Equal(t, "n1", n.NodeID)
}

func TestSelectNodeRoundRobin(t *testing.T) {
	r := newTestRouter()
	first, err := r.selectNode(0, false)
	require.NoError(t, err)
	second, err := r.selectNode(0, false)
	require.NoError(t, err)
	assert.NotEqual(t, first.NodeID, second.NodeID, "round robin should alternate between n1 and n2")
}

func TestSelectNodeNoRoute(t *testing.T) {
	r := newTestRouter()
	_, err := r.selectNode(99, false)
	assert.ErrorIs(t, err, ErrNoRoute)
}

func TestBroadcastTargetsCoversEveryPartition(t *testing.T) {
	r := newTestRouter()
	targets := r.broadcastTargets()
	assert.Len(t, targets, 2)
}
