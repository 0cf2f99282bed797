package mcp

import "errors"

// ErrUnavailable is returned when a tool call cannot be served: the remote
// server is unreachable and local fallback is disabled by require_remote.
var ErrUnavailable = errors.New("mcp tool unavailable")

// ErrNoSession is returned for operations against a server that has no
// active session and could not be connected.
var ErrNoSession = errors.New("no mcp session")
