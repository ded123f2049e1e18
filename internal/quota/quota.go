// Package quota is the single check-gate call spec.md's scope line asks us
// to model as an external collaborator: "billing/quota accounting beyond a
// single check-gate call" lives outside this system. Gate is that call.
package quota

import "context"

// Request describes what the caller is about to do, enough for a gate to
// decide without needing to know mashup or track internals.
type Request struct {
	UserID                string
	TargetDurationSeconds int
	RequestsHiFiStems     bool
}

// Gate authorizes or rejects a quota-bound operation before the Supervisor
// enqueues any work.
type Gate interface {
	Check(ctx context.Context, req Request) error
}

// ErrQuotaExceeded is returned by a Gate whose quota accounting rejects the
// request; callers map it to spec §7's QuotaError (HTTP 402).
type ErrQuotaExceeded struct {
	Reason string
}

func (e *ErrQuotaExceeded) Error() string { return "quota exceeded: " + e.Reason }

// Config toggles quota enforcement. Billing accounting itself is an
// external collaborator (spec.md's scope line); this package only owns the
// gate call a request passes through before work is enqueued.
type Config struct {
	Enabled             bool
	MonthlySecondsLimit int
}

// UsageLookup reports a user's consumed seconds this billing period. The
// real implementation lives with whatever billing system Config.Enabled
// switches on; it is injected rather than owned here.
type UsageLookup func(ctx context.Context, userID string) (secondsUsed int, err error)

// ConfiguredGate enforces Config against a UsageLookup when enabled, and
// passes every request through untouched when disabled — mirroring the
// disabled-by-default auth gate pattern used elsewhere in this codebase.
type ConfiguredGate struct {
	cfg   Config
	usage UsageLookup
}

func NewGate(cfg Config, usage UsageLookup) *ConfiguredGate {
	return &ConfiguredGate{cfg: cfg, usage: usage}
}

func (g *ConfiguredGate) Check(ctx context.Context, req Request) error {
	if !g.cfg.Enabled {
		return nil
	}
	used, err := g.usage(ctx, req.UserID)
	if err != nil {
		return err
	}
	if used+req.TargetDurationSeconds > g.cfg.MonthlySecondsLimit {
		return &ErrQuotaExceeded{Reason: "monthly render-seconds limit reached"}
	}
	return nil
}
