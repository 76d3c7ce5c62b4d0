package health

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRegistry_Check(t *testing.T) {
	ok := CheckFunc(func(context.Context) error { return nil })
	broken := CheckFunc(func(context.Context) error { return errors.New("connection refused") })

	tests := []struct {
		name     string
		checkers []Checker
		want     Status
	}{
		{name: "empty", want: StatusHealthy},
		{name: "all healthy", checkers: []Checker{NewAdapterChecker("store", ok, 0), NewAdapterChecker("cache", ok, 0)}, want: StatusHealthy},
		{name: "optional failure degrades", checkers: []Checker{NewAdapterChecker("store", ok, 0), NewOptionalChecker("blobs", broken, 0)}, want: StatusDegraded},
		{name: "required failure", checkers: []Checker{NewOptionalChecker("blobs", broken, 0), NewAdapterChecker("store", broken, 0)}, want: StatusUnhealthy},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			for _, c := range tt.checkers {
				r.Register(c)
			}
			rep := r.Check(context.Background())
			if rep.Status != tt.want {
				t.Fatalf("status = %s, want %s (%+v)", rep.Status, tt.want, rep.Checks)
			}
			if len(rep.Checks) != len(tt.checkers) {
				t.Fatalf("checks = %d", len(rep.Checks))
			}
			for i := 1; i < len(rep.Checks); i++ {
				if rep.Checks[i-1].Name > rep.Checks[i].Name {
					t.Fatalf("checks not sorted: %+v", rep.Checks)
				}
			}
		})
	}
}

func TestRegistry_RegisterReplaces(t *testing.T) {
	r := NewRegistry()
	r.Register(NewAdapterChecker("store", CheckFunc(func(context.Context) error { return errors.New("down") }), 0))
	r.Register(NewAdapterChecker("store", CheckFunc(func(context.Context) error { return nil }), 0))
	if r.Len() != 1 || !r.Check(context.Background()).IsHealthy() {
		t.Fatal("expected the replacement checker to win")
	}
}

func TestAdapterChecker_Timeout(t *testing.T) {
	slow := CheckFunc(func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	res := NewAdapterChecker("slow", slow, 20*time.Millisecond).Check(context.Background())
	if res.Status != StatusUnhealthy || res.Error == "" {
		t.Fatalf("unexpected result %+v", res)
	}
}
