// Package worker implements the offline asset cache synchronizer. A
// Synchronizer is built from one immutable manifest.Deployment and receives
// the service-worker style lifecycle events: Install stages the core paths,
// Activate reconciles the persistent store against the previous manifest
// snapshot, HandleFetch serves managed GET requests (network-first for the
// entry page, cache-first for everything else) and HandleMessage reacts to the
// skipWaiting / downloadOffline control tokens. A Registration serializes the
// lifecycle across deployments and tracks which synchronizer is active.
package worker
