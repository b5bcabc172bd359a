// Package manifest models a deployed asset version: the resource path → content
// hash mapping emitted by the web build, and the ordered core paths that must be
// cached before the app shell can run offline. Deployments are immutable and are
// handed to the worker package at startup (or on every manifest change) instead
// of living in package-level globals.
package manifest
