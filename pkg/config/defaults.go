package config

import "time"

// PipelineDefaults are the tunables the orchestrator and action executors
// fall back to when a flow node carries no per-node override.
type PipelineDefaults struct {
	DefaultMaxOutputTokens int
	DefaultMaxToolSteps    int

	// Agent step wall clock is derived from the output-token budget:
	// timeout = AgentTimeoutBase + maxOutputTokens * AgentTimeoutPerToken.
	AgentTimeoutBase     time.Duration
	AgentTimeoutPerToken time.Duration

	BuildTimeout time.Duration
	TestTimeout  time.Duration

	MaxBuildFixAttempts  int
	MaxRemediationCycles int
	MaxTestFailures      int
	MaxUniqueErrors      int

	// Transient LLM provider failures retry up to this many times per step.
	MaxAgentRetries int

	// When true, a pipeline for a project whose working tree is locked by
	// another chat fails immediately instead of waiting for the lock.
	ProjectLockFailFast bool
}

func loadPipelineDefaults() PipelineDefaults {
	return PipelineDefaults{
		DefaultMaxOutputTokens: getEnvInt("LOOM_DEFAULT_MAX_OUTPUT_TOKENS", 8192),
		DefaultMaxToolSteps:    getEnvInt("LOOM_DEFAULT_MAX_TOOL_STEPS", 24),
		AgentTimeoutBase:       getEnvDuration("LOOM_AGENT_TIMEOUT_BASE", 60*time.Second),
		AgentTimeoutPerToken:   getEnvDuration("LOOM_AGENT_TIMEOUT_PER_TOKEN", 30*time.Millisecond),
		BuildTimeout:           getEnvDuration("LOOM_BUILD_TIMEOUT", 120*time.Second),
		TestTimeout:            getEnvDuration("LOOM_TEST_TIMEOUT", 180*time.Second),
		MaxBuildFixAttempts:    getEnvInt("LOOM_MAX_BUILD_FIX_ATTEMPTS", 3),
		MaxRemediationCycles:   getEnvInt("LOOM_MAX_REMEDIATION_CYCLES", 2),
		MaxTestFailures:        getEnvInt("LOOM_MAX_TEST_FAILURES", 10),
		MaxUniqueErrors:        getEnvInt("LOOM_MAX_UNIQUE_ERRORS", 8),
		MaxAgentRetries:        getEnvInt("LOOM_MAX_AGENT_RETRIES", 2),
		ProjectLockFailFast:    getEnv("LOOM_PROJECT_LOCK_FAIL_FAST", "false") == "true",
	}
}

// AgentTimeout returns the wall-clock budget for an agent step with the given
// output-token cap (0 means the configured default applies).
func (d PipelineDefaults) AgentTimeout(maxOutputTokens int) time.Duration {
	if maxOutputTokens <= 0 {
		maxOutputTokens = d.DefaultMaxOutputTokens
	}
	return d.AgentTimeoutBase + time.Duration(maxOutputTokens)*d.AgentTimeoutPerToken
}
