package challenges_test

import (
	"errors"
	"testing"
	"time"

	"github.com/dalemusser/familyspace/internal/app/store/challenges"
	"github.com/dalemusser/familyspace/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func TestNew_Defaults(t *testing.T) {
	db := testutil.SetupTestDB(t)

	store := challenges.New(db, 0, 0)
	if store.Expiry() != challenges.DefaultExpiry {
		t.Errorf("expected default expiry %v, got %v", challenges.DefaultExpiry, store.Expiry())
	}

	store = challenges.New(db, -time.Minute, -1)
	if store.Expiry() != challenges.DefaultExpiry {
		t.Errorf("expected default expiry for negative input, got %v", store.Expiry())
	}

	store = challenges.New(db, 30*time.Minute, 1)
	if store.Expiry() != 30*time.Minute {
		t.Errorf("expected custom expiry, got %v", store.Expiry())
	}
}

func TestStore_IssueAndVerify(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challenges.New(db, time.Hour, 3)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	claimID := primitive.NewObjectID()
	res, err := store.Issue(ctx, claimID, "owner@x.com", time.Time{}, false)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if res.Token == "" {
		t.Fatal("expected token to be generated")
	}

	ch, err := store.Verify(ctx, claimID, res.Token)
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if ch.Email != "owner@x.com" {
		t.Errorf("email = %q", ch.Email)
	}

	// Single use.
	if _, err := store.Verify(ctx, claimID, res.Token); !errors.Is(err, challenges.ErrNotFound) {
		t.Errorf("expected ErrNotFound on reuse, got %v", err)
	}
}

func TestStore_Issue_CappedByNotAfter(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challenges.New(db, 24*time.Hour, 3)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	notAfter := time.Now().Add(time.Hour).UTC()
	res, err := store.Issue(ctx, primitive.NewObjectID(), "owner@x.com", notAfter, false)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	if !res.ExpiresAt.Equal(notAfter) {
		t.Errorf("expires_at = %v, want %v", res.ExpiresAt, notAfter)
	}
}

func TestStore_Verify_WrongToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challenges.New(db, time.Hour, 3)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	claimID := primitive.NewObjectID()
	res, err := store.Issue(ctx, claimID, "owner@x.com", time.Time{}, false)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	if _, err := store.Verify(ctx, claimID, "not-the-token"); !errors.Is(err, challenges.ErrInvalidToken) {
		t.Errorf("expected ErrInvalidToken, got %v", err)
	}
	// The right token still works after one failure.
	if _, err := store.Verify(ctx, claimID, res.Token); err != nil {
		t.Errorf("expected valid token to verify, got %v", err)
	}
}

func TestStore_Verify_TooManyAttempts(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challenges.New(db, time.Hour, 3)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	claimID := primitive.NewObjectID()
	res, err := store.Issue(ctx, claimID, "owner@x.com", time.Time{}, false)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	for i := 0; i < challenges.MaxVerifyAttempts; i++ {
		_, _ = store.Verify(ctx, claimID, "wrong")
	}

	if _, err := store.Verify(ctx, claimID, res.Token); !errors.Is(err, challenges.ErrTooManyAttempts) {
		t.Errorf("expected ErrTooManyAttempts, got %v", err)
	}
}

func TestStore_Verify_Expired(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challenges.New(db, time.Hour, 3)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	claimID := primitive.NewObjectID()
	res, err := store.Issue(ctx, claimID, "owner@x.com", time.Time{}, false)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	store.SetClock(func() time.Time { return time.Now().Add(2 * time.Hour) })
	if _, err := store.Verify(ctx, claimID, res.Token); !errors.Is(err, challenges.ErrNotFound) {
		t.Errorf("expected ErrNotFound for expired challenge, got %v", err)
	}
}

func TestStore_Issue_ReplacesPreviousToken(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challenges.New(db, time.Hour, 3)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	claimID := primitive.NewObjectID()
	first, err := store.Issue(ctx, claimID, "owner@x.com", time.Time{}, false)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	second, err := store.Issue(ctx, claimID, "owner@x.com", time.Time{}, true)
	if err != nil {
		t.Fatalf("resend failed: %v", err)
	}
	if second.ResendCount != 1 {
		t.Errorf("resend count = %d, want 1", second.ResendCount)
	}

	if _, err := store.Verify(ctx, claimID, first.Token); !errors.Is(err, challenges.ErrInvalidToken) {
		t.Errorf("expected old token to be rejected, got %v", err)
	}
	if _, err := store.Verify(ctx, claimID, second.Token); err != nil {
		t.Errorf("expected new token to verify, got %v", err)
	}
}

func TestStore_Issue_ResendLimit(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challenges.New(db, time.Hour, 2)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	claimID := primitive.NewObjectID()
	if _, err := store.Issue(ctx, claimID, "owner@x.com", time.Time{}, false); err != nil {
		t.Fatalf("Issue failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if _, err := store.Issue(ctx, claimID, "owner@x.com", time.Time{}, true); err != nil {
			t.Fatalf("resend %d failed: %v", i+1, err)
		}
	}
	if _, err := store.Issue(ctx, claimID, "owner@x.com", time.Time{}, true); !errors.Is(err, challenges.ErrTooManyResends) {
		t.Errorf("expected ErrTooManyResends, got %v", err)
	}

	// A new window resets the count.
	store.SetClock(func() time.Time { return time.Now().Add(challenges.ResendWindow + time.Minute) })
	if _, err := store.Issue(ctx, claimID, "owner@x.com", time.Time{}, true); err != nil {
		t.Errorf("expected resend in new window to succeed, got %v", err)
	}
}

func TestStore_CheckLeavesChallengeInPlace(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challenges.New(db, time.Hour, 3)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	claimID := primitive.NewObjectID()
	res, err := store.Issue(ctx, claimID, "owner@x.com", time.Time{}, false)
	if err != nil {
		t.Fatalf("Issue failed: %v", err)
	}

	ch, err := store.Check(ctx, claimID, res.Token)
	if err != nil {
		t.Fatalf("Check failed: %v", err)
	}
	if _, err := store.Check(ctx, claimID, res.Token); err != nil {
		t.Errorf("second Check should still pass, got %v", err)
	}

	if err := store.Consume(ctx, ch.ID); err != nil {
		t.Fatalf("Consume failed: %v", err)
	}
	if err := store.Consume(ctx, ch.ID); !errors.Is(err, challenges.ErrNotFound) {
		t.Errorf("second Consume: expected ErrNotFound, got %v", err)
	}
	if _, err := store.Check(ctx, claimID, res.Token); !errors.Is(err, challenges.ErrNotFound) {
		t.Errorf("Check after Consume: expected ErrNotFound, got %v", err)
	}
}

func TestStore_ChallengeAdapters(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := challenges.New(db, time.Hour, 3)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	claimID := primitive.NewObjectID()
	token, err := store.IssueChallenge(ctx, claimID, "owner@x.com", time.Time{}, false)
	if err != nil {
		t.Fatalf("IssueChallenge failed: %v", err)
	}

	ok, err := store.CheckChallenge(ctx, claimID, "wrong")
	if err != nil || ok {
		t.Errorf("wrong token: ok=%v err=%v, want false, nil", ok, err)
	}
	ok, err = store.CheckChallenge(ctx, primitive.NewObjectID(), token)
	if err != nil || ok {
		t.Errorf("unknown claim: ok=%v err=%v, want false, nil", ok, err)
	}
	ok, err = store.CheckChallenge(ctx, claimID, token)
	if err != nil || !ok {
		t.Errorf("right token: ok=%v err=%v, want true, nil", ok, err)
	}

	if err := store.ConsumeChallenge(ctx, claimID); err != nil {
		t.Fatalf("ConsumeChallenge failed: %v", err)
	}
	ok, err = store.CheckChallenge(ctx, claimID, token)
	if err != nil || ok {
		t.Errorf("consumed token: ok=%v err=%v, want false, nil", ok, err)
	}
}
