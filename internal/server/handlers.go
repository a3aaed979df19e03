package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"cutover/internal/history"
	"cutover/internal/orchestrator"
	"cutover/internal/security"
	"cutover/internal/stack"
)

const (
	MaxPayloadBytes = 1_000_000 // 1 MB
	RecentRunsLimit = 10        // Number of recent runs to return in status endpoint
)

// DeployPayload is the JSON body of a deploy request.
type DeployPayload struct {
	ImageTag  string `json:"image_tag"`
	ActiveEnv string `json:"active_env,omitempty"` // empty or "auto" resolves from the platform
	Operator  string `json:"operator,omitempty"`
}

// HandleDeploy handles signed deployment trigger requests
func (s *Server) HandleDeploy(w http.ResponseWriter, r *http.Request) {
	stackName := chi.URLParam(r, "stackName")

	// Validate stack name for security
	if err := security.ValidateStackName(stackName); err != nil {
		s.Logger.Warn("Invalid stack name in deploy request", "stack", stackName, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid stack name: %v", err)})
		return
	}

	// Check if stack exists
	stk, err := s.Registry.Get(stackName)
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown stack"})
		return
	}

	// Stacks without a configured secret cannot be deployed remotely.
	if stk.Secret == "" {
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Remote deployments disabled for this stack"})
		return
	}

	// Check payload size (ContentLength can be -1 if not set, so check for both > 0 and > max)
	if r.ContentLength > MaxPayloadBytes {
		s.respondJSON(w, http.StatusRequestEntityTooLarge, map[string]string{"error": "Payload too large"})
		return
	}

	// Check content type
	if r.Header.Get("Content-Type") != "application/json" {
		s.respondJSON(w, http.StatusUnsupportedMediaType, map[string]string{"error": "Invalid content type"})
		return
	}

	// Read payload
	body, err := io.ReadAll(io.LimitReader(r.Body, MaxPayloadBytes))
	if err != nil {
		s.Logger.Error("Failed to read request body", "error", err, "stack", stackName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to read payload"})
		return
	}

	// Verify signature
	signature := r.Header.Get(SignatureHeader)
	if !VerifySignature(body, signature, stk.Secret) {
		s.respondJSON(w, http.StatusForbidden, map[string]string{"error": "Invalid signature"})
		return
	}

	// Parse JSON payload
	var payload DeployPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		s.Logger.Error("Failed to parse JSON payload", "error", err, "stack", stackName)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Invalid JSON payload"})
		return
	}

	if payload.ImageTag == "" {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "Missing image_tag"})
		return
	}
	if err := security.ValidateImageTag(payload.ImageTag); err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid image_tag: %v", err)})
		return
	}

	// Try to acquire deployment lock
	if !s.LockManager.TryLock(stackName) {
		s.Logger.Warn("Deployment already in progress, rejecting", "stack", stackName)

		// Record rejected deployment
		if s.History != nil {
			msg := "Deployment already in progress"
			if _, err := s.History.RecordRun(r.Context(), &history.RunRecord{
				Stack:        stackName,
				ImageTag:     payload.ImageTag,
				Status:       history.StatusRejected,
				Operator:     payload.Operator,
				ErrorMessage: &msg,
			}); err != nil {
				s.Logger.Error("Failed to record rejection in history", "error", err, "stack", stackName)
			}
		}

		s.respondJSON(w, http.StatusTooManyRequests, map[string]string{"error": "Deployment already in progress"})
		return
	}

	// Respond immediately: callers like CI systems have short webhook
	// timeouts, so acknowledge receipt and run the deployment
	// asynchronously.
	s.respondJSON(w, http.StatusAccepted, map[string]string{
		"message": "Deployment accepted",
		"stack":   stackName,
		"tag":     payload.ImageTag,
	})

	// Execute deployment asynchronously
	s.deployWg.Add(1)
	go func() {
		defer s.deployWg.Done()
		defer s.LockManager.Unlock(stackName)
		s.executeDeployment(context.Background(), stk, payload)
	}()
}

// executeDeployment runs the deployment. The orchestrator records history
// and the report itself; this only logs the outcome, the HTTP response went
// out long ago.
func (s *Server) executeDeployment(ctx context.Context, stk *stack.Stack, payload DeployPayload) {
	runner := s.Factory(stk)

	rep, err := runner.Run(ctx, orchestrator.Request{
		ActiveEnv: payload.ActiveEnv,
		ImageTag:  payload.ImageTag,
		Operator:  payload.Operator,
	})

	if err != nil {
		s.Logger.Error("deployment failed",
			"stack", stk.Name,
			"tag", payload.ImageTag,
			"failed_stage", rep.FailedStage,
			"error", err)
	} else {
		s.Logger.Info("deployment completed", "stack", stk.Name, "tag", payload.ImageTag)
	}
}

// HandleHealth handles health check requests
func (s *Server) HandleHealth(w http.ResponseWriter, r *http.Request) {
	stackNames := s.Registry.List()

	response := map[string]interface{}{
		"status":      "ok",
		"stacks":      stackNames,
		"stack_count": s.Registry.Count(),
	}

	s.respondJSON(w, http.StatusOK, response)
}

// HandleStatus handles deployment status requests
func (s *Server) HandleStatus(w http.ResponseWriter, r *http.Request) {
	stackName := chi.URLParam(r, "stackName")

	// Validate stack name for security
	if err := security.ValidateStackName(stackName); err != nil {
		s.Logger.Warn("Invalid stack name in status request", "stack", stackName, "error", err)
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": fmt.Sprintf("Invalid stack name: %v", err)})
		return
	}

	// Check if stack exists
	_, err := s.Registry.Get(stackName)
	if err != nil {
		s.respondJSON(w, http.StatusNotFound, map[string]string{"error": "Unknown stack"})
		return
	}

	// Check if history is available
	if s.History == nil {
		s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "History not available"})
		return
	}

	// Get latest run
	latest, err := s.History.LatestRun(r.Context(), stackName)
	if err != nil {
		s.Logger.Error("Failed to get latest run", "error", err, "stack", stackName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	// Get recent runs
	recent, err := s.History.RunHistory(r.Context(), stackName, RecentRunsLimit)
	if err != nil {
		s.Logger.Error("Failed to get run history", "error", err, "stack", stackName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	// An unresolved switch journal entry is the first thing an operator
	// needs to see.
	pending, err := s.History.PendingSwitch(r.Context(), stackName)
	if err != nil {
		s.Logger.Error("Failed to query switch journal", "error", err, "stack", stackName)
		s.respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "Failed to fetch deployment status"})
		return
	}

	response := map[string]interface{}{
		"stack":          stackName,
		"latest_run":     latest,
		"recent_runs":    recent,
		"pending_switch": pending,
	}

	s.respondJSON(w, http.StatusOK, response)
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.Logger.Error("Failed to encode JSON response", "error", err)
	}
}
