// Package server implements the HTTP entry point for remotely triggered
// deployments.
//
// This package provides:
//   - A deploy endpoint with HMAC signature verification that launches an
//     orchestration run asynchronously under the per-stack deployment lock
//   - Per-IP rate limiting to prevent abuse
//   - Health and status endpoints for monitoring
//   - Structured logging of all HTTP requests
//
// The server integrates with other packages:
//   - internal/stack: stack configuration and validation
//   - internal/orchestrator: the blue/green deployment run itself
//   - internal/history: SQLite-based run history and the switch journal
//
// Security features:
//   - HMAC-SHA256 request signature verification per stack secret
//   - Content-Type validation (application/json only)
//   - Payload size limits (1MB max)
//   - Rate limiting (global and per-deploy-endpoint)
//   - Per-stack deployment locking (prevents concurrent runs)
package server
