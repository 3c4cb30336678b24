/*
Package metrics defines and registers the storage node's and proxy's
Prometheus metrics: record and index counts, search and upsert latency,
write-ahead log and snapshot activity, Raft state, and proxy routing
stats. All metrics are registered at package init and are scraped via
the handler returned by Handler().

A lightweight component health tracker (RegisterComponent,
GetHealth, GetReadiness) with its own HealthHandler and ReadyHandler
is kept independent of the Prometheus registry. The storage node's
/health and /ready endpoints are served by pkg/api's HealthServer,
which does not consult this tracker.
*/
package metrics
