package recovery

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/dalemusser/familyspace/internal/app/policy/recoverypolicy"
	claimstore "github.com/dalemusser/familyspace/internal/app/store/claims"
	"github.com/dalemusser/familyspace/internal/domain/models"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestKind(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{ErrNotOrphaned, "not_orphaned"},
		{fmt.Errorf("wrapped: %w", ErrCoolingOffActive), "cooling_off_active"},
		{invalid("bad type"), "invalid_request"},
		{errors.New("boom"), "internal"},
	}
	for _, tt := range tests {
		if got := Kind(tt.err); got != tt.want {
			t.Errorf("Kind(%v) = %q, want %q", tt.err, got, tt.want)
		}
	}
}

func TestMaskEmail(t *testing.T) {
	tests := map[string]string{
		"owner@example.com": "o****@example.com",
		"a@b.org":           "a@b.org",
		"not-an-email":      "***",
	}
	for in, want := range tests {
		if got := maskEmail(in); got != want {
			t.Errorf("maskEmail(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestNewView(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	until := now.Add(2 * time.Hour)

	approved := models.AdminClaim{
		ID:              primitive.NewObjectID(),
		ClaimType:       models.ClaimTypeEmailChallenge,
		Status:          models.ClaimApproved,
		CoolingOffUntil: &until,
		ExpiresAt:       now.Add(48 * time.Hour),
		Metadata:        map[string]string{MetaChallengeEmail: "owner@example.com"},
	}
	v := NewView(approved, now)
	if v.Grantable {
		t.Error("should not be grantable during cooling-off")
	}
	if v.CoolingOffRemainingSeconds != 7200 {
		t.Errorf("remaining seconds: got %d, want 7200", v.CoolingOffRemainingSeconds)
	}
	if v.Metadata[MetaChallengeEmail] != "o****@example.com" {
		t.Errorf("email should be masked, got %q", v.Metadata[MetaChallengeEmail])
	}
	if approved.Metadata[MetaChallengeEmail] != "owner@example.com" {
		t.Error("masking must not modify the stored claim")
	}

	later := NewView(approved, until)
	if !later.Grantable || later.CoolingOffRemaining != 0 {
		t.Errorf("expected grantable at cooling-off end, got %+v", later)
	}

	pending := models.AdminClaim{
		ClaimType:            models.ClaimTypeEndorsement,
		Status:               models.ClaimPending,
		EndorsementsRequired: 2,
		EndorsementsReceived: 1,
		ExpiresAt:            now.Add(-time.Second),
	}
	pv := NewView(pending, now)
	if pv.EndorsementsNeeded != 1 {
		t.Errorf("endorsements needed: got %d, want 1", pv.EndorsementsNeeded)
	}
	if !pv.PastDeadline {
		t.Error("expected past deadline")
	}
}

func TestRetry_ConflictsThenSuccess(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := New(Deps{Metrics: NewMetrics(reg)})

	calls := 0
	err := s.retry(context.Background(), "test_op", func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return claimstore.ErrConflict
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 3 {
		t.Errorf("expected 3 calls, got %d", calls)
	}
	if got := testutil.ToFloat64(s.metrics.retries.WithLabelValues("test_op")); got != 2 {
		t.Errorf("retries metric: got %v, want 2", got)
	}
}

func TestRetry_Exhausted(t *testing.T) {
	s := New(Deps{Policy: recoverypolicy.Policy{RetryAttempts: 2}})

	calls := 0
	err := s.retry(context.Background(), "test_op", func(ctx context.Context) error {
		calls++
		return claimstore.ErrConflict
	})
	if !errors.Is(err, ErrTransientStore) {
		t.Fatalf("expected ErrTransientStore, got %v", err)
	}
	if calls != 2 {
		t.Errorf("expected 2 calls, got %d", calls)
	}
}

func TestRetry_PermanentErrorStops(t *testing.T) {
	s := New(Deps{})

	calls := 0
	err := s.retry(context.Background(), "test_op", func(ctx context.Context) error {
		calls++
		return ErrNotApproved
	})
	if !errors.Is(err, ErrNotApproved) {
		t.Fatalf("expected ErrNotApproved, got %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
}

func TestMetrics_NilSafe(t *testing.T) {
	var m *Metrics
	m.transition("pending", "approved")
	m.rejection("op", ErrNotAMember)
	m.retry("op")
	m.sweep(SweepResult{Expired: 1})
}
