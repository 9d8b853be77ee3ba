package channels

import (
	"context"
	"fmt"
	"time"
)

// Probe timeout bounds. Live checks are clamped into this range.
const (
	probeTimeoutDefault = 10 * time.Second
	probeTimeoutMin     = 1 * time.Second
	probeTimeoutMax     = 30 * time.Second
)

// ProbeOptions controls which checks run.
type ProbeOptions struct {
	// Live enables the platform auth check against the live API.
	Live bool `json:"live"`
	// TimeoutMs bounds the live check; clamped to [1s, 30s].
	TimeoutMs int `json:"timeout_ms"`
}

// ProbeCheck is one independent check result.
type ProbeCheck struct {
	Name     string `json:"name"`
	OK       bool   `json:"ok"`
	Severity string `json:"severity"` // "error" | "warn"
	Detail   string `json:"detail,omitempty"`
}

// ProbeResult carries every check's outcome; checks never abort each other.
type ProbeResult struct {
	Channel string       `json:"channel"`
	Checks  []ProbeCheck `json:"checks"`
}

// Probe runs a sequence of independent health checks for a channel without
// failing fast. A live check past its timeout fails that single check only.
func (m *Manager) Probe(ctx context.Context, channel string, opts ProbeOptions) (ProbeResult, error) {
	adapter, ok := m.Adapter(channel)
	if !ok {
		return ProbeResult{}, fmt.Errorf("%w: %s", ErrUnknownChannel, channel)
	}

	result := ProbeResult{Channel: channel}

	cfg, configured := m.deps.Config.Get(channel)
	result.Checks = append(result.Checks, ProbeCheck{
		Name: "configured", OK: configured, Severity: "error",
		Detail: detailUnless(configured, "channel has no configuration"),
	})

	enabled := configured && cfg.Enabled
	result.Checks = append(result.Checks, ProbeCheck{
		Name: "enabled", OK: enabled, Severity: "warn",
		Detail: detailUnless(enabled, "channel is disabled"),
	})

	status := adapter.Status()
	result.Checks = append(result.Checks, ProbeCheck{
		Name: "connected", OK: status.Connected, Severity: "warn",
		Detail: detailUnless(status.Connected, status.Error),
	})

	if opts.Live {
		check := ProbeCheck{Name: "auth", Severity: "error"}
		if prober, ok := adapter.(LiveProber); ok {
			probeCtx, cancel := context.WithTimeout(ctx, clampProbeTimeout(opts.TimeoutMs))
			err := prober.ProbeAuth(probeCtx)
			cancel()
			check.OK = err == nil
			if err != nil {
				check.Detail = err.Error()
			}
		} else {
			check.OK = false
			check.Detail = "live auth probe not supported"
			check.Severity = "warn"
		}
		result.Checks = append(result.Checks, check)
	}

	return result, nil
}

func clampProbeTimeout(ms int) time.Duration {
	if ms <= 0 {
		return probeTimeoutDefault
	}
	d := time.Duration(ms) * time.Millisecond
	if d < probeTimeoutMin {
		return probeTimeoutMin
	}
	if d > probeTimeoutMax {
		return probeTimeoutMax
	}
	return d
}

func detailUnless(ok bool, detail string) string {
	if ok {
		return ""
	}
	return detail
}
