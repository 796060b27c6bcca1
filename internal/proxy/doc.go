// Package proxy routes entity requests to provider proxies and manages their
// lifecycle.
//
// A provider proxy is a long-lived object that speaks one wire protocol to one
// provider endpoint (identified by URI). It keeps its own set of registered
// entities and pushes every value it produces into the shared signal.Queue.
//
// # Families
//
// Each supported protocol is described by a Family: the protocol name, a
// static operation check that can be evaluated without an instance, and a
// constructor. Families are collected in a Registry at startup; the registry
// is immutable afterwards and its order is the selection priority.
//
// # Selector
//
// Selector owns every proxy. CreateOrUpdateProxy binds an entity to the proxy
// for its URI, creating the proxy on first use, and RequestEntityValue routes
// a request to the owning proxy in constant time via a reverse index.
//
// Creation is atomic per URI: concurrent callers that race to create the same
// proxy all end up with the single instance that won. Callers for different
// URIs never wait on each other, and no network I/O happens while the
// selector lock is held.
//
// # Lifecycle
//
// Each proxy's Run loop executes in its own supervised goroutine. Panics are
// recovered and errors are logged; neither reaches callers. Stop cancels the
// context passed to every Run and waits for all loops to return.
//
// # Helpers for implementations
//
// Entities, RunTicks and ValueCache hold the pieces every family needs: a
// locked entity registry with snapshots, the periodic tick loop with
// per-entity failure isolation, and a latest-value cache for push transports.
package proxy
