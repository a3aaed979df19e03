package stack

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"cutover/internal/security"
	"cutover/pkg/cmdutil"
)

const (
	DefaultHealthPath            = "/healthz"
	DefaultDeployTimeout         = 300
	DefaultReadyTimeout          = 120
	DefaultSmokeTimeout          = 300
	DefaultHealthMaxAttempts     = 30
	DefaultHealthInterval        = 2
	DefaultHealthAttemptTimeout  = 5
	DefaultReportDir             = "./reports"
)

// LoadConfig loads and validates the configuration from a YAML file.
func LoadConfig(configPath string) (*Config, map[string]*Stack, error) {
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, nil, fmt.Errorf("failed to parse YAML config: %w", err)
	}

	// Initialize Stacks map if it's nil (happens with empty YAML files)
	if config.Stacks == nil {
		config.Stacks = make(map[string]StackConfig)
	}

	stacks := make(map[string]*Stack)
	for name, stackConfig := range config.Stacks {
		errors := ValidateStackConfig(name, stackConfig)
		if len(errors) > 0 {
			return nil, nil, fmt.Errorf("invalid configuration for stack '%s':\n%s",
				name, strings.Join(errors, "\n"))
		}

		built, err := buildStack(name, stackConfig)
		if err != nil {
			return nil, nil, fmt.Errorf("invalid configuration for stack '%s': %w", name, err)
		}
		stacks[name] = built
	}

	return &config, stacks, nil
}

// buildStack applies defaults and parses command templates for a validated
// stack configuration.
func buildStack(name string, cfg StackConfig) (*Stack, error) {
	healthPath := cfg.HealthPath
	if healthPath == "" {
		healthPath = DefaultHealthPath
	}

	deployTimeout := cfg.DeployTimeout
	if deployTimeout == 0 {
		deployTimeout = DefaultDeployTimeout
	}
	readyTimeout := cfg.ReadyTimeout
	if readyTimeout == 0 {
		readyTimeout = DefaultReadyTimeout
	}
	smokeTimeout := cfg.SmokeTimeout
	if smokeTimeout == 0 {
		smokeTimeout = DefaultSmokeTimeout
	}

	healthRetry := buildRetry(cfg.Health)

	// Post-switch validation reuses the health retry settings unless the
	// operator tunes them separately.
	switchRetry := buildRetry(cfg.SwitchValidate)
	if cfg.SwitchValidate.MaxAttempts == 0 {
		switchRetry.MaxAttempts = healthRetry.MaxAttempts
	}
	if cfg.SwitchValidate.Interval == 0 {
		switchRetry.IntervalSeconds = healthRetry.IntervalSeconds
	}
	if cfg.SwitchValidate.AttemptTimeout == 0 {
		switchRetry.AttemptTimeoutSeconds = healthRetry.AttemptTimeoutSeconds
	}

	reportDir := cfg.ReportDir
	if reportDir == "" {
		reportDir = DefaultReportDir
	}

	platform, err := parsePlatformCommands(cfg.Platform)
	if err != nil {
		return nil, err
	}

	smokeChecks := make([][]string, 0, len(cfg.SmokeChecks))
	for i, check := range cfg.SmokeChecks {
		parsed, err := cmdutil.ParseCommandList(check)
		if err != nil {
			return nil, fmt.Errorf("smoke_checks[%d]: %w", i, err)
		}
		smokeChecks = append(smokeChecks, parsed)
	}

	environments := make(map[string]Environment, len(cfg.Environments))
	for envName, envCfg := range cfg.Environments {
		environments[envName] = Environment{
			Name:        envName,
			InternalURL: envCfg.InternalURL,
		}
	}

	return &Stack{
		Name:            name,
		Secret:          cfg.Secret,
		PublicURL:       cfg.PublicURL,
		HealthPath:      healthPath,
		Environments:    environments,
		Platform:        platform,
		SmokeChecks:     smokeChecks,
		DeployTimeout:   deployTimeout,
		ReadyTimeout:    readyTimeout,
		SmokeTimeout:    smokeTimeout,
		WarmupGrace:     cfg.WarmupGrace,
		HealthRetry:     healthRetry,
		SwitchRetry:     switchRetry,
		ReleaseRepo:     cfg.ReleaseRepo,
		ReportDir:       reportDir,
		AllowedCommands: cfg.AllowedCommands,
	}, nil
}

func buildRetry(cfg RetryConfig) RetrySettings {
	settings := RetrySettings{
		MaxAttempts:           cfg.MaxAttempts,
		IntervalSeconds:       cfg.Interval,
		AttemptTimeoutSeconds: cfg.AttemptTimeout,
		BackoffFactor:         cfg.BackoffFactor,
	}
	if settings.MaxAttempts == 0 {
		settings.MaxAttempts = DefaultHealthMaxAttempts
	}
	if settings.IntervalSeconds == 0 {
		settings.IntervalSeconds = DefaultHealthInterval
	}
	if settings.AttemptTimeoutSeconds == 0 {
		settings.AttemptTimeoutSeconds = DefaultHealthAttemptTimeout
	}
	if settings.BackoffFactor == 0 {
		settings.BackoffFactor = 1.0
	}
	return settings
}

func parsePlatformCommands(cfg PlatformConfig) (PlatformCommands, error) {
	var commands PlatformCommands
	var err error

	if commands.Deploy, err = cmdutil.ParseCommandList(cfg.Deploy); err != nil {
		return commands, fmt.Errorf("platform.deploy: %w", err)
	}
	if commands.WaitReady, err = cmdutil.ParseCommandList(cfg.WaitReady); err != nil {
		return commands, fmt.Errorf("platform.wait_ready: %w", err)
	}
	if commands.CurrentTarget, err = cmdutil.ParseCommandList(cfg.CurrentTarget); err != nil {
		return commands, fmt.Errorf("platform.current_target: %w", err)
	}
	if commands.SetTarget, err = cmdutil.ParseCommandList(cfg.SetTarget); err != nil {
		return commands, fmt.Errorf("platform.set_target: %w", err)
	}

	// Cleanup is optional; without it a failed candidate is left in place.
	if cfg.Cleanup != nil {
		if commands.Cleanup, err = cmdutil.ParseCommandList(cfg.Cleanup); err != nil {
			return commands, fmt.Errorf("platform.cleanup: %w", err)
		}
	}

	// Decommission is optional; without it the decommission command refuses to run.
	if cfg.Decommission != nil {
		if commands.Decommission, err = cmdutil.ParseCommandList(cfg.Decommission); err != nil {
			return commands, fmt.Errorf("platform.decommission: %w", err)
		}
	}

	return commands, nil
}

// ValidateStackConfig validates a single stack configuration.
func ValidateStackConfig(name string, config StackConfig) []string {
	var errors []string

	if err := security.ValidateStackName(name); err != nil {
		errors = append(errors, fmt.Sprintf("  - Stack '%s': invalid name: %v", name, err))
	}

	// Exactly two environments; one active, one idle. That pairing is the
	// whole point of the system, so it is enforced at load time.
	if len(config.Environments) != 2 {
		errors = append(errors, fmt.Sprintf("  - Stack '%s': exactly two environments required, got %d", name, len(config.Environments)))
	}
	for envName, envCfg := range config.Environments {
		if err := security.ValidateEnvironmentName(envName); err != nil {
			errors = append(errors, fmt.Sprintf("  - Stack '%s': environment '%s': %v", name, envName, err))
		}
		if envCfg.InternalURL == "" {
			errors = append(errors, fmt.Sprintf("  - Stack '%s': environment '%s': missing required 'internal_url' field", name, envName))
		} else if err := security.ValidateEndpointURL(envCfg.InternalURL); err != nil {
			errors = append(errors, fmt.Sprintf("  - Stack '%s': environment '%s': internal_url: %v", name, envName, err))
		}
	}

	if config.PublicURL == "" {
		errors = append(errors, fmt.Sprintf("  - Stack '%s': missing required 'public_url' field", name))
	} else if err := security.ValidateEndpointURL(config.PublicURL); err != nil {
		errors = append(errors, fmt.Sprintf("  - Stack '%s': public_url: %v", name, err))
	}

	if config.HealthPath != "" && !strings.HasPrefix(config.HealthPath, "/") {
		errors = append(errors, fmt.Sprintf("  - Stack '%s': health_path must start with '/', got '%s'", name, config.HealthPath))
	}

	// Required platform command templates
	policy := security.NewCommandPolicy(config.AllowedCommands)
	required := map[string]interface{}{
		"deploy":         config.Platform.Deploy,
		"wait_ready":     config.Platform.WaitReady,
		"current_target": config.Platform.CurrentTarget,
		"set_target":     config.Platform.SetTarget,
	}
	for field, raw := range required {
		if raw == nil {
			errors = append(errors, fmt.Sprintf("  - Stack '%s': missing required 'platform.%s' command", name, field))
			continue
		}
		errors = append(errors, validateCommand(name, "platform."+field, raw, policy)...)
	}
	if config.Platform.Cleanup != nil {
		errors = append(errors, validateCommand(name, "platform.cleanup", config.Platform.Cleanup, policy)...)
	}
	if config.Platform.Decommission != nil {
		errors = append(errors, validateCommand(name, "platform.decommission", config.Platform.Decommission, policy)...)
	}

	for i, check := range config.SmokeChecks {
		errors = append(errors, validateCommand(name, fmt.Sprintf("smoke_checks[%d]", i), check, policy)...)
	}

	// Secret is only required for webhook-driven deployments; the server
	// refuses stacks without one. When present it must be a real secret.
	if config.Secret != "" {
		if err := security.ValidateSecret(config.Secret); err != nil {
			errors = append(errors, fmt.Sprintf("  - Stack '%s': secret: %v", name, err))
		}
	}

	// Timeouts must be positive if set; zero uses defaults
	timeouts := map[string]int{
		"deploy_timeout": config.DeployTimeout,
		"ready_timeout":  config.ReadyTimeout,
		"smoke_timeout":  config.SmokeTimeout,
		"warmup_grace":   config.WarmupGrace,
	}
	for field, value := range timeouts {
		if value < 0 {
			errors = append(errors, fmt.Sprintf("  - Stack '%s': %s must be a positive integer, got %d", name, field, value))
		}
	}

	for _, retryField := range []struct {
		name string
		cfg  RetryConfig
	}{
		{"health", config.Health},
		{"switch_validate", config.SwitchValidate},
	} {
		if retryField.cfg.MaxAttempts < 0 {
			errors = append(errors, fmt.Sprintf("  - Stack '%s': %s.max_attempts must be a positive integer, got %d", name, retryField.name, retryField.cfg.MaxAttempts))
		}
		if retryField.cfg.Interval < 0 {
			errors = append(errors, fmt.Sprintf("  - Stack '%s': %s.interval must be a positive integer, got %d", name, retryField.name, retryField.cfg.Interval))
		}
		if retryField.cfg.AttemptTimeout < 0 {
			errors = append(errors, fmt.Sprintf("  - Stack '%s': %s.attempt_timeout must be a positive integer, got %d", name, retryField.name, retryField.cfg.AttemptTimeout))
		}
		if retryField.cfg.BackoffFactor < 0 || (retryField.cfg.BackoffFactor > 0 && retryField.cfg.BackoffFactor < 1.0) {
			errors = append(errors, fmt.Sprintf("  - Stack '%s': %s.backoff_factor must be >= 1.0, got %g", name, retryField.name, retryField.cfg.BackoffFactor))
		}
	}

	if config.ReleaseRepo != "" {
		parts := strings.Split(config.ReleaseRepo, "/")
		if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
			errors = append(errors, fmt.Sprintf("  - Stack '%s': release_repo must be in 'owner/repo' format, got '%s'", name, config.ReleaseRepo))
		}
	}

	return errors
}

// validateCommand parses a configured command template and checks it against
// the command policy.
func validateCommand(stackName, field string, raw interface{}, policy *security.CommandPolicy) []string {
	parts, err := cmdutil.ParseCommandList(raw)
	if err != nil {
		return []string{fmt.Sprintf("  - Stack '%s': %s: %v", stackName, field, err)}
	}
	if err := policy.ValidateCommandParts(parts); err != nil {
		return []string{fmt.Sprintf("  - Stack '%s': %s: %v", stackName, field, err)}
	}
	return nil
}
