// Package api serves the toolhub HTTP API consumed by the browser client.
//
// All routes live under /v1 and return JSON. Errors use the shape
// {"error": "<message>", "code": ..., "suggestions": [...], "details": {...}}.
package api
