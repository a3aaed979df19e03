package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"cutover/internal/orchestrator"
	"cutover/internal/report"
	"cutover/internal/stack"
)

const testSecret = "test-secret-with-plenty-of-entropy-Abc123xyz789QWErty456"

// fakeRunner records launched runs.
type fakeRunner struct {
	mu       sync.Mutex
	requests []orchestrator.Request
	err      error
}

func (f *fakeRunner) Run(ctx context.Context, req orchestrator.Request) (report.DeploymentReport, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	return report.DeploymentReport{FinalState: "COMPLETED"}, f.err
}

func (f *fakeRunner) launched() []orchestrator.Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]orchestrator.Request(nil), f.requests...)
}

func setupTestServer(t *testing.T) (*Server, *fakeRunner) {
	t.Helper()

	testStack := &stack.Stack{
		Name:      "test-stack",
		Secret:    testSecret,
		PublicURL: "https://test.example.com",
		Environments: map[string]stack.Environment{
			"blue":  {Name: "blue", InternalURL: "http://blue.internal:8080"},
			"green": {Name: "green", InternalURL: "http://green.internal:8080"},
		},
	}

	registry := stack.NewRegistry(map[string]*stack.Stack{
		"test-stack": testStack,
	})

	runner := &fakeRunner{}
	factory := func(s *stack.Stack) Runner { return runner }

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	server := NewServer(registry, nil, factory, logger, true)

	return server, runner
}

func deployRequest(t *testing.T, payload []byte, secret string) *http.Request {
	t.Helper()

	req := httptest.NewRequest("POST", "/deploy/test-stack", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")
	if secret != "" {
		req.Header.Set(SignatureHeader, MakeTestSignature(payload, secret))
	}
	return req
}

func TestHandleDeploy_Accepted(t *testing.T) {
	server, runner := setupTestServer(t)

	payload := []byte(`{"image_tag":"v2.1.0","active_env":"auto","operator":"ci"}`)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, deployRequest(t, payload, testSecret))

	if rr.Code != http.StatusAccepted {
		t.Fatalf("Expected status 202, got %d: %s", rr.Code, rr.Body.String())
	}

	server.WaitForDeployments()

	launched := runner.launched()
	if len(launched) != 1 {
		t.Fatalf("Expected one launched run, got %d", len(launched))
	}
	if launched[0].ImageTag != "v2.1.0" || launched[0].ActiveEnv != "auto" || launched[0].Operator != "ci" {
		t.Errorf("Unexpected request: %+v", launched[0])
	}
}

func TestHandleDeploy_UnknownStack(t *testing.T) {
	server, _ := setupTestServer(t)

	payload := []byte(`{"image_tag":"v2.1.0"}`)
	req := httptest.NewRequest("POST", "/deploy/unknown-stack", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}

	var response map[string]string
	_ = json.Unmarshal(rr.Body.Bytes(), &response)

	if response["error"] != "Unknown stack" {
		t.Errorf("Expected 'Unknown stack' error, got %v", response)
	}
}

func TestHandleDeploy_InvalidSignature(t *testing.T) {
	server, runner := setupTestServer(t)

	payload := []byte(`{"image_tag":"v2.1.0"}`)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, deployRequest(t, payload, "the-wrong-secret-with-enough-length-0123456789abcdef"))

	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rr.Code)
	}
	if len(runner.launched()) != 0 {
		t.Error("Expected no run for bad signature")
	}
}

func TestHandleDeploy_MissingSignature(t *testing.T) {
	server, runner := setupTestServer(t)

	payload := []byte(`{"image_tag":"v2.1.0"}`)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, deployRequest(t, payload, ""))

	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rr.Code)
	}
	if len(runner.launched()) != 0 {
		t.Error("Expected no run for missing signature")
	}
}

func TestHandleDeploy_PayloadTooLarge(t *testing.T) {
	server, _ := setupTestServer(t)

	largePayload := make([]byte, MaxPayloadBytes+1)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, deployRequest(t, largePayload, testSecret))

	if rr.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("Expected status 413, got %d", rr.Code)
	}
}

func TestHandleDeploy_InvalidContentType(t *testing.T) {
	server, _ := setupTestServer(t)

	payload := []byte(`{"image_tag":"v2.1.0"}`)
	req := httptest.NewRequest("POST", "/deploy/test-stack", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "text/plain")
	req.Header.Set(SignatureHeader, MakeTestSignature(payload, testSecret))

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusUnsupportedMediaType {
		t.Errorf("Expected status 415, got %d", rr.Code)
	}
}

func TestHandleDeploy_MissingImageTag(t *testing.T) {
	server, runner := setupTestServer(t)

	payload := []byte(`{"operator":"ci"}`)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, deployRequest(t, payload, testSecret))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
	if len(runner.launched()) != 0 {
		t.Error("Expected no run without an image tag")
	}
}

func TestHandleDeploy_InvalidImageTag(t *testing.T) {
	server, runner := setupTestServer(t)

	payload := []byte(`{"image_tag":"-not;a$tag"}`)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, deployRequest(t, payload, testSecret))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
	if len(runner.launched()) != 0 {
		t.Error("Expected no run for invalid image tag")
	}
}

func TestHandleDeploy_InvalidJSON(t *testing.T) {
	server, _ := setupTestServer(t)

	payload := []byte(`{not json`)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, deployRequest(t, payload, testSecret))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400, got %d", rr.Code)
	}
}

func TestHandleDeploy_NoSecretConfigured(t *testing.T) {
	server, runner := setupTestServer(t)

	// Register a stack without a secret alongside the default one.
	server.Registry = stack.NewRegistry(map[string]*stack.Stack{
		"open-stack": {Name: "open-stack"},
	})

	payload := []byte(`{"image_tag":"v2.1.0"}`)
	req := httptest.NewRequest("POST", "/deploy/open-stack", bytes.NewReader(payload))
	req.Header.Set("Content-Type", "application/json")

	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Errorf("Expected status 403, got %d", rr.Code)
	}
	if len(runner.launched()) != 0 {
		t.Error("Expected no run for secretless stack")
	}
}

func TestHandleDeploy_LockContention(t *testing.T) {
	server, runner := setupTestServer(t)

	server.LockManager.TryLock("test-stack")
	defer server.LockManager.Unlock("test-stack")

	payload := []byte(`{"image_tag":"v2.1.0"}`)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, deployRequest(t, payload, testSecret))

	if rr.Code != http.StatusTooManyRequests {
		t.Errorf("Expected status 429, got %d", rr.Code)
	}
	if len(runner.launched()) != 0 {
		t.Error("Expected no run while lock held")
	}
}

func TestHandleHealth(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/health", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var response map[string]interface{}
	if err := json.Unmarshal(rr.Body.Bytes(), &response); err != nil {
		t.Fatalf("Unmarshal error: %v", err)
	}
	if response["status"] != "ok" {
		t.Errorf("Expected status ok, got %v", response["status"])
	}
	if response["stack_count"] != float64(1) {
		t.Errorf("Expected stack_count 1, got %v", response["stack_count"])
	}
}

func TestHandleStatus_UnknownStack(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/status/unknown-stack", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusNotFound {
		t.Errorf("Expected status 404, got %d", rr.Code)
	}
}

func TestHandleStatus_NoHistory(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/status/test-stack", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusServiceUnavailable {
		t.Errorf("Expected status 503, got %d", rr.Code)
	}
}

func TestHandleStatus_InvalidStackName(t *testing.T) {
	server, _ := setupTestServer(t)

	req := httptest.NewRequest("GET", "/status/bad..name%2F", nil)
	rr := httptest.NewRecorder()
	server.Router().ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest && rr.Code != http.StatusNotFound {
		t.Errorf("Expected rejection, got %d", rr.Code)
	}
}
