package vault

import (
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/breaker"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/consensus"
)

// Config is the vault policy.
type Config struct {
	// FailureThreshold is the number of consecutive failures that
	// quarantines a sentry. Zero selects breaker.DefaultThreshold.
	FailureThreshold int
	// RecoveryStep is the health a sentry regains per success. Zero selects
	// breaker.DefaultRecoveryStep.
	RecoveryStep float64
	// EnableHealthMonitoring turns request-driven diagnostics on.
	EnableHealthMonitoring bool
	// HealthCheckInterval runs diagnostics every N requests.
	HealthCheckInterval int
	// AutoQuarantine lets breakers quarantine on their own. When false only
	// operators quarantine.
	AutoQuarantine bool
	// RejectIfAllQuarantined refuses input when no sentry is usable.
	RejectIfAllQuarantined bool
	// LogSentryResponses logs every sentry verdict at debug level.
	LogSentryResponses bool
	// MinHealthScore is the diagnostic score below which a probe counts as a
	// failure.
	MinHealthScore float64
	// Consensus decides when verdicts mark an input as poisoned.
	Consensus consensus.Rule
}

// DefaultConfig returns the production policy.
func DefaultConfig() Config {
	return Config{
		FailureThreshold:       breaker.DefaultThreshold,
		RecoveryStep:           breaker.DefaultRecoveryStep,
		EnableHealthMonitoring: true,
		HealthCheckInterval:    100,
		AutoQuarantine:         true,
		RejectIfAllQuarantined: true,
		LogSentryResponses:     true,
		MinHealthScore:         0.5,
		Consensus:              consensus.Default,
	}
}

func (c Config) breakerOptions() []breaker.Option {
	opts := []breaker.Option{breaker.WithAutoQuarantine(c.AutoQuarantine)}
	if c.FailureThreshold > 0 {
		opts = append(opts, breaker.WithThreshold(c.FailureThreshold))
	}
	if c.RecoveryStep > 0 {
		opts = append(opts, breaker.WithRecoveryStep(c.RecoveryStep))
	}
	return opts
}
