package stack

// Environment is one of the two deployment targets of a stack. Exactly one
// environment receives live traffic at a time.
type Environment struct {
	Name        string
	InternalURL string // candidate endpoint, reachable before the switch
}

// PlatformCommands holds the parsed command templates used to drive the
// underlying orchestration platform. Templates may contain {env} and {tag}
// placeholders, expanded after shell-quote parsing.
type PlatformCommands struct {
	Deploy        []string
	WaitReady     []string
	CurrentTarget []string
	SetTarget     []string
	Cleanup       []string
	Decommission  []string
}

// RetrySettings configures bounded-retry probing.
type RetrySettings struct {
	MaxAttempts           int
	IntervalSeconds       int
	AttemptTimeoutSeconds int
	BackoffFactor         float64
}

// Stack represents a validated blue/green deployment stack configuration.
type Stack struct {
	Name            string
	Secret          string
	PublicURL       string // routed endpoint, validated after the switch
	HealthPath      string
	Environments    map[string]Environment
	Platform        PlatformCommands
	SmokeChecks     [][]string
	DeployTimeout   int // seconds
	ReadyTimeout    int // seconds
	SmokeTimeout    int // seconds
	WarmupGrace     int // seconds between readiness and health checking
	HealthRetry     RetrySettings
	SwitchRetry     RetrySettings
	ReleaseRepo     string // optional "owner/repo" for release tag verification
	ReportDir       string
	AllowedCommands []string
}

// EnvironmentNames returns the stack's environment names in sorted order.
func (s *Stack) EnvironmentNames() []string {
	names := make([]string, 0, len(s.Environments))
	for name := range s.Environments {
		names = append(names, name)
	}
	// Two entries at most; a full sort is overkill.
	if len(names) == 2 && names[0] > names[1] {
		names[0], names[1] = names[1], names[0]
	}
	return names
}

// OtherEnvironment returns the name of the environment that is not the given
// one. The config loader guarantees exactly two environments exist.
func (s *Stack) OtherEnvironment(name string) (string, bool) {
	for other := range s.Environments {
		if other != name {
			return other, true
		}
	}
	return "", false
}

// StackConfig represents the YAML configuration for a stack.
type StackConfig struct {
	Secret          string                       `yaml:"secret"`
	PublicURL       string                       `yaml:"public_url"`
	HealthPath      string                       `yaml:"health_path"`
	Environments    map[string]EnvironmentConfig `yaml:"environments"`
	Platform        PlatformConfig               `yaml:"platform"`
	SmokeChecks     []interface{}                `yaml:"smoke_checks"`
	DeployTimeout   int                          `yaml:"deploy_timeout"`
	ReadyTimeout    int                          `yaml:"ready_timeout"`
	SmokeTimeout    int                          `yaml:"smoke_timeout"`
	WarmupGrace     int                          `yaml:"warmup_grace"`
	Health          RetryConfig                  `yaml:"health"`
	SwitchValidate  RetryConfig                  `yaml:"switch_validate"`
	ReleaseRepo     string                       `yaml:"release_repo"`
	ReportDir       string                       `yaml:"report_dir"`
	AllowedCommands []string                     `yaml:"allowed_commands"`
}

// EnvironmentConfig represents the YAML configuration for an environment.
type EnvironmentConfig struct {
	InternalURL string `yaml:"internal_url"`
}

// PlatformConfig represents the YAML platform command templates.
// Each command can be a string or a list of strings.
type PlatformConfig struct {
	Deploy        interface{} `yaml:"deploy"`
	WaitReady     interface{} `yaml:"wait_ready"`
	CurrentTarget interface{} `yaml:"current_target"`
	SetTarget     interface{} `yaml:"set_target"`
	Cleanup       interface{} `yaml:"cleanup"`
	Decommission  interface{} `yaml:"decommission"`
}

// RetryConfig represents YAML retry settings.
type RetryConfig struct {
	MaxAttempts    int     `yaml:"max_attempts"`
	Interval       int     `yaml:"interval"`
	AttemptTimeout int     `yaml:"attempt_timeout"`
	BackoffFactor  float64 `yaml:"backoff_factor"`
}

// Config represents the root configuration structure.
type Config struct {
	Stacks map[string]StackConfig `yaml:"stacks"`
}
