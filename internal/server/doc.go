// Package server hosts the Fiber HTTP service that stands in for the browser:
// every request first passes the request-id and recover middlewares, control
// paths under /-/ are left to the routes package, and everything else goes to
// the injected ProxyHandler which consults the active worker. Keep exports
// narrow and accept explicit dependencies so tests can swap the handler.
package server
