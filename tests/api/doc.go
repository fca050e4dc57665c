// Package api contains tests that run against a real backend server.
//
// These tests require the backend server to be running before execution.
// They exercise every route the router exposes, mostly through negative
// paths so they stay safe against a server with live data.
//
// Usage:
//
//	# Start the backend server first
//	go run cmd/emailagent/main.go
//
//	# Then run the API tests
//	go test -tags=api ./tests/api/... -v
//
// Environment Variables:
//
//	API_BASE_URL - Base URL of the API server (default: http://localhost:8080)
//	API_KEY      - API key for authentication (unset means the server runs unsecured)
package api
