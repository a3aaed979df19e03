package security

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
)

var (
	// Safe patterns for validation
	stackPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)
	envPattern   = regexp.MustCompile(`^[a-z][a-z0-9-]*$`)
	tagPattern   = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9_.-]*$`)
)

// ValidateStackName ensures a stack name is safe for use in paths and URLs.
func ValidateStackName(name string) error {
	if name == "" {
		return fmt.Errorf("stack name cannot be empty")
	}
	if strings.HasPrefix(name, "-") || strings.HasPrefix(name, ".") {
		return fmt.Errorf("stack name cannot start with '-' or '.'")
	}
	if !stackPattern.MatchString(name) {
		return fmt.Errorf("stack name contains invalid characters (only a-z, A-Z, 0-9, _, - allowed)")
	}
	return nil
}

// ValidateEnvironmentName ensures an environment name is safe for command
// substitution. Environment names end up in platform command arguments, so
// the accepted alphabet is deliberately narrow.
func ValidateEnvironmentName(name string) error {
	if name == "" {
		return fmt.Errorf("environment name cannot be empty")
	}
	if !envPattern.MatchString(name) {
		return fmt.Errorf("environment name contains invalid characters (must start with a letter; only a-z, 0-9, - allowed)")
	}
	return nil
}

// ValidateImageTag ensures an image tag is safe for command substitution.
// Prevents command injection through tags received from webhooks or the CLI.
func ValidateImageTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("image tag cannot be empty")
	}
	if strings.HasPrefix(tag, "-") {
		return fmt.Errorf("image tag cannot start with '-'")
	}
	if !tagPattern.MatchString(tag) {
		return fmt.Errorf("image tag contains invalid characters")
	}
	return nil
}

// ValidateEndpointURL ensures a configured endpoint is a plain HTTP(S) URL
// with a host, suitable for health probing.
func ValidateEndpointURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("endpoint must use http or https, got %q", u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("endpoint URL missing host")
	}
	return nil
}
