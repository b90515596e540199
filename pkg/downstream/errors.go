package downstream

import "errors"

// ErrUnavailable indicates the downstream MCP server could not be reached
// or returned an unexpected failure.
var ErrUnavailable = errors.New("downstream server unavailable")

// ErrRejected indicates the downstream MCP server refused the exchanged
// token. Callers should invalidate the cached token and retry with a fresh
// exchange before surfacing the failure.
var ErrRejected = errors.New("downstream server rejected token")
