package quota

import (
	"context"
	"errors"
	"testing"
)

func TestDisabledGateAllowsEverything(t *testing.T) {
	gate := NewGate(Config{Enabled: false}, func(context.Context, string) (int, error) {
		return 1_000_000, nil
	})
	if err := gate.Check(context.Background(), Request{UserID: "u1", TargetDurationSeconds: 999999}); err != nil {
		t.Errorf("disabled gate should never reject, got %v", err)
	}
}

func TestEnabledGateRejectsOverLimit(t *testing.T) {
	gate := NewGate(Config{Enabled: true, MonthlySecondsLimit: 3600}, func(context.Context, string) (int, error) {
		return 3500, nil
	})
	err := gate.Check(context.Background(), Request{UserID: "u1", TargetDurationSeconds: 200})
	var quotaErr *ErrQuotaExceeded
	if !errors.As(err, &quotaErr) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}
}

func TestEnabledGateAllowsUnderLimit(t *testing.T) {
	gate := NewGate(Config{Enabled: true, MonthlySecondsLimit: 3600}, func(context.Context, string) (int, error) {
		return 100, nil
	})
	if err := gate.Check(context.Background(), Request{UserID: "u1", TargetDurationSeconds: 200}); err != nil {
		t.Errorf("expected the request under quota to be allowed, got %v", err)
	}
}
