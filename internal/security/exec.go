package security

import (
	"fmt"
	"strings"
)

// DefaultAllowedCommands is the default set of commands allowed in platform
// and smoke-test command templates. Commands run without a shell, but the
// allowlist keeps a compromised config file from running arbitrary binaries.
var DefaultAllowedCommands = map[string]bool{
	"kubectl":  true,
	"helm":     true,
	"docker":   true,
	"podman":   true,
	"nomad":    true,
	"aws":      true,
	"gcloud":   true,
	"az":       true,
	"flyctl":   true,
	"curl":     true,
	"wget":     true,
	"psql":     true,
	"redis-cli": true,
	"nc":       true,
}

// CommandPolicy validates configured command templates before execution.
type CommandPolicy struct {
	// AllowedCommands is the map of commands that are permitted to run.
	AllowedCommands map[string]bool

	// AllowScripts permits argv[0] to be a path to a script
	// (containing a path separator), e.g. "./scripts/smoke.sh".
	AllowScripts bool
}

// NewCommandPolicy creates a policy with the default allowlist.
// Smoke-test harnesses are operator-supplied scripts, so script paths are
// permitted by default.
func NewCommandPolicy(extra []string) *CommandPolicy {
	allowed := make(map[string]bool, len(DefaultAllowedCommands)+len(extra))
	for cmd := range DefaultAllowedCommands {
		allowed[cmd] = true
	}
	for _, cmd := range extra {
		if cmd != "" {
			allowed[cmd] = true
		}
	}
	return &CommandPolicy{
		AllowedCommands: allowed,
		AllowScripts:    true,
	}
}

// ValidateCommandParts validates a command template before execution.
func (p *CommandPolicy) ValidateCommandParts(cmdParts []string) error {
	if len(cmdParts) == 0 {
		return fmt.Errorf("empty command")
	}

	baseCmd := cmdParts[0]

	if strings.ContainsRune(baseCmd, '/') {
		if !p.AllowScripts {
			return fmt.Errorf("script paths not allowed: %s", baseCmd)
		}
		if strings.Contains(baseCmd, "..") {
			return fmt.Errorf("script path contains traversal elements: %s", baseCmd)
		}
	} else if !p.AllowedCommands[baseCmd] {
		return fmt.Errorf("command not allowed: %s", baseCmd)
	}

	for i, arg := range cmdParts[1:] {
		if containsShellMetachars(arg) {
			return fmt.Errorf("argument %d contains shell metacharacters: %s", i+1, arg)
		}
	}

	return nil
}

// containsShellMetachars checks if a string contains shell metacharacters.
// Commands run without a shell, but rejecting these early keeps injection
// attempts out of the logs and off the process table. Placeholder braces
// ({env}, {tag}) are exempt since templates are expanded after parsing.
func containsShellMetachars(s string) bool {
	dangerous := []string{
		";",  // Command separator
		"|",  // Pipe
		"&",  // Background/AND
		"$",  // Variable expansion
		"`",  // Command substitution
		"\n", // Newline (command separator)
		"<",  // Redirect input
		"*",  // Glob wildcard
		"?",  // Glob single char
		"\\", // Escape character
	}

	for _, char := range dangerous {
		if strings.Contains(s, char) {
			return true
		}
	}

	return false
}
