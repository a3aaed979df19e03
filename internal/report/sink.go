package report

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"cutover/internal/security"
	"cutover/pkg/fileutil"
)

// FileSink persists reports as JSON files in a directory, one file per run.
type FileSink struct {
	dir    string
	logger *slog.Logger
}

// NewFileSink creates a sink writing into dir, creating it if needed.
func NewFileSink(dir string, logger *slog.Logger) (*FileSink, error) {
	if err := os.MkdirAll(dir, security.PermDirectory); err != nil {
		return nil, fmt.Errorf("failed to create report directory: %w", err)
	}
	return &FileSink{dir: dir, logger: logger}, nil
}

// Write persists the report atomically and returns the file path.
func (s *FileSink) Write(rep DeploymentReport) (string, error) {
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to encode report: %w", err)
	}

	name := fmt.Sprintf("%s-%s.json", rep.Stack, rep.StartedAt.Format("20060102-150405"))
	path := filepath.Join(s.dir, name)

	if err := fileutil.WriteFileAtomic(path, data, security.PermReportFile); err != nil {
		return "", fmt.Errorf("failed to write report: %w", err)
	}

	s.logger.Info("Deployment report written",
		"stack", rep.Stack,
		"final_state", rep.FinalState,
		"path", path,
		"duration", time.Duration(rep.DurationSec*float64(time.Second)).Round(time.Millisecond).String())

	return path, nil
}
