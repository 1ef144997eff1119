package vault

import "github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"

// Status is a point-in-time copy of the vault state.
type Status struct {
	// Sentries holds one entry per sentry sorted by name.
	Sentries []SentryStatus `json:"sentries"`
	// Stats are the request counters.
	Stats Stats `json:"stats"`
	// DiagnosticIterations counts completed health evaluations.
	DiagnosticIterations uint64 `json:"diagnostic_iterations"`
}

// SentryStatus describes one sentry.
type SentryStatus struct {
	Name                string  `json:"name"`
	Health              float64 `json:"health"`
	Quarantined         bool    `json:"quarantined"`
	ConsecutiveFailures int     `json:"consecutive_failures"`
	Baseline            float64 `json:"baseline"`
}

// Status returns a deep copy of the vault state. Two calls without an
// intervening mutation return equal values.
func (v *Vault) Status() Status {
	st := Status{
		Sentries:             make([]SentryStatus, 0, len(v.names)),
		DiagnosticIterations: v.diag.Iteration(),
	}
	for _, name := range v.names {
		snap := v.breakers[name].Snapshot()
		base, _ := v.diag.Baseline(name)
		st.Sentries = append(st.Sentries, SentryStatus{
			Name:                name,
			Health:              snap.Health,
			Quarantined:         snap.Quarantined,
			ConsecutiveFailures: snap.ConsecutiveFailures,
			Baseline:            base.Value,
		})
	}
	st.Stats = v.Stats()
	return st
}

// Stats returns a copy of the request counters.
func (v *Vault) Stats() Stats {
	v.statsMu.Lock()
	defer v.statsMu.Unlock()
	return v.stats
}

// Usable reports whether the named sentry may be invoked.
func (v *Vault) Usable(name string) (bool, error) {
	b, ok := v.breakers[name]
	if !ok {
		return false, backend.NotFound(name)
	}
	return b.Usable(), nil
}
