// Package traffic owns the two operations that mutate the live traffic
// target: the forward switch at the point of no return, and the single-shot
// rollback that reverts it.
package traffic

import (
	"context"
	"fmt"
	"log/slog"

	"cutover/internal/platform"
	"cutover/internal/probe"
)

// Journal durably records whether a traffic switch has occurred for a stack.
// It must survive a crash of the orchestrator process so an operator can tell
// whether rollback is safe.
type Journal interface {
	MarkSwitched(ctx context.Context, stack, fromEnv, toEnv string) error
	ClearSwitched(ctx context.Context, stack string) error
}

// HealthProber is satisfied by probe.Prober.
type HealthProber interface {
	Probe(ctx context.Context, url string, policy probe.Policy) probe.Result
}

// Switcher performs the atomic traffic repoint for one stack.
type Switcher struct {
	client  platform.Client
	journal Journal
	prober  HealthProber
	logger  *slog.Logger
	stack   string
}

// NewSwitcher creates a switcher for a stack.
func NewSwitcher(stackName string, client platform.Client, journal Journal, prober HealthProber, logger *slog.Logger) *Switcher {
	return &Switcher{
		client:  client,
		journal: journal,
		prober:  prober,
		logger:  logger,
		stack:   stackName,
	}
}

// Switch issues exactly one repoint call. On acceptance the switch is
// journaled before Switch returns; rollback eligibility depends on that
// record, not on whether any later validation succeeds. A journal write
// failure after an accepted repoint is reported as an error so the caller
// treats the switch as failed and restores a known topology.
func (s *Switcher) Switch(ctx context.Context, fromEnv, toEnv string) error {
	s.logger.Info("switching traffic", "stack", s.stack, "from", fromEnv, "to", toEnv)

	if err := s.client.SetTarget(ctx, toEnv); err != nil {
		return fmt.Errorf("traffic repoint rejected: %w", err)
	}

	if err := s.journal.MarkSwitched(ctx, s.stack, fromEnv, toEnv); err != nil {
		return fmt.Errorf("traffic repointed but journal write failed: %w", err)
	}

	s.logger.Info("traffic switched", "stack", s.stack, "target", toEnv)
	return nil
}

// Validate confirms traffic is actually served by the new target by probing
// the public-facing endpoint under the same bounded-retry contract used for
// pre-switch health checking. Pre-switch probes validate the candidate in
// isolation; this one validates the whole routing path.
func (s *Switcher) Validate(ctx context.Context, publicURL string, policy probe.Policy) probe.Result {
	s.logger.Info("validating switch", "stack", s.stack, "url", publicURL)
	return s.prober.Probe(ctx, publicURL, policy)
}
