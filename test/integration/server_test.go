package integration

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"cutover/internal/server"
	"cutover/internal/stack"
)

func newTestServer(t *testing.T, env *testEnv) *server.Server {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	registry := stack.NewRegistry(map[string]*stack.Stack{"orders": env.stack})

	factory := func(stk *stack.Stack) server.Runner {
		return env.orchestrator(t)
	}

	return server.NewServer(registry, env.store, factory, logger, true)
}

func signedDeployRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()
	req := httptest.NewRequest("POST", "/deploy/orders", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set(server.SignatureHeader, server.MakeTestSignature(payload, secret))
	return req
}

// TestServerDrivenDeployment runs a full deployment through the HTTP surface
// and reads the result back through the status endpoint.
func TestServerDrivenDeployment(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	env := newTestEnv(t)
	srv := newTestServer(t, env)

	payload := []byte(`{"image_tag":"v2.1.0","active_env":"blue","operator":"webhook"}`)
	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, signedDeployRequest(t, payload, testSecret))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	srv.WaitForDeployments()

	if got := env.currentTarget(t); got != "green" {
		t.Errorf("Expected traffic target green, got %s", got)
	}

	latest, err := env.store.LatestRun(context.Background(), "orders")
	if err != nil {
		t.Fatalf("Failed to query history: %v", err)
	}
	if latest == nil || latest.Status != "completed" {
		t.Fatalf("Expected completed run in history, got %+v", latest)
	}
	if latest.Operator != "webhook" {
		t.Errorf("Expected operator 'webhook', got %q", latest.Operator)
	}

	statusReq := httptest.NewRequest("GET", "/status/orders", nil)
	statusRR := httptest.NewRecorder()
	srv.Router().ServeHTTP(statusRR, statusReq)

	if statusRR.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", statusRR.Code)
	}

	var status map[string]interface{}
	if err := json.Unmarshal(statusRR.Body.Bytes(), &status); err != nil {
		t.Fatalf("Failed to parse status response: %v", err)
	}
	if status["latest_run"] == nil {
		t.Error("Expected latest_run in status response")
	}
	if status["pending_switch"] != nil {
		t.Errorf("Expected no pending switch, got %v", status["pending_switch"])
	}
}

// TestServerRejectsConcurrentDeployment verifies the per-stack lock turns a
// second overlapping request into a 429 and records the rejection.
func TestServerRejectsConcurrentDeployment(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	env := newTestEnv(t)
	// Slow the run down enough for the second request to overlap.
	env.stack.SmokeChecks = append(env.stack.SmokeChecks, []string{"sh", "-c", "sleep 1"})
	srv := newTestServer(t, env)

	payload := []byte(`{"image_tag":"v2.1.0","active_env":"blue"}`)

	first := make(chan int, 1)
	go func() {
		rr := httptest.NewRecorder()
		srv.Router().ServeHTTP(rr, signedDeployRequest(t, payload, testSecret))
		first <- rr.Code
	}()

	// Give the first deployment time to acquire the lock.
	time.Sleep(200 * time.Millisecond)

	rr := httptest.NewRecorder()
	srv.Router().ServeHTTP(rr, signedDeployRequest(t, payload, testSecret))

	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d: %s", rr.Code, rr.Body.String())
	}

	if code := <-first; code != http.StatusAccepted {
		t.Errorf("Expected first request to be accepted with 202, got %d", code)
	}
	srv.WaitForDeployments()

	// One completed run plus one rejected record.
	runs, err := env.store.RunHistory(context.Background(), "orders", 10)
	if err != nil {
		t.Fatalf("Failed to query history: %v", err)
	}
	var rejected bool
	for _, run := range runs {
		if run.Status == "rejected" {
			rejected = true
		}
	}
	if !rejected {
		t.Errorf("Expected a rejected run in history, got %+v", runs)
	}
}

// TestServerSignatureValidation covers the HMAC gate on the deploy endpoint.
func TestServerSignatureValidation(t *testing.T) {
	if testing.Short() {
		t.Skip("Skipping integration test in short mode")
	}

	env := newTestEnv(t)
	srv := newTestServer(t, env)
	payload := []byte(`{"image_tag":"v2.1.0","active_env":"blue"}`)

	tests := []struct {
		name           string
		signature      string
		expectedStatus int
	}{
		{
			name:           "valid signature",
			signature:      server.MakeTestSignature(payload, testSecret),
			expectedStatus: http.StatusAccepted,
		},
		{
			name:           "wrong secret",
			signature:      server.MakeTestSignature(payload, "another-secret-0123456789abcdef0123456789abcdef"),
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "missing signature",
			signature:      "",
			expectedStatus: http.StatusForbidden,
		},
		{
			name:           "malformed signature",
			signature:      "not-a-signature",
			expectedStatus: http.StatusForbidden,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest("POST", "/deploy/orders", bytes.NewReader(payload))
			req.Header.Set("Content-Type", "application/json")
			if tt.signature != "" {
				req.Header.Set(server.SignatureHeader, tt.signature)
			}

			rr := httptest.NewRecorder()
			srv.Router().ServeHTTP(rr, req)

			if rr.Code != tt.expectedStatus {
				t.Errorf("Expected status %d, got %d: %s", tt.expectedStatus, rr.Code, rr.Body.String())
			}

			srv.WaitForDeployments()
		})
	}
}
