/*
Package api implements the storage node's HTTP JSON surface: record
mutation and lookup, similarity search, and cluster administration
(nodeserver.go), plus liveness/readiness/metrics endpoints served on a
separate listener (health.go).

Every mutation/query endpoint returns the canonical envelope shape
{retCode, errorMsg, ...}: retCode 0 is success, anything else is a
failure with errorMsg populated. Write paths that should be
linearized across the cluster (/upsert) go through the consensus
harness when one is configured; /insert bypasses it for direct,
non-replicated index writes used by bulk-load tooling.
*/
package api
