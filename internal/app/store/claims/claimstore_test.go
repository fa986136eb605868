package claimstore_test

import (
	"errors"
	"sync"
	"testing"
	"time"

	claimstore "github.com/dalemusser/familyspace/internal/app/store/claims"
	"github.com/dalemusser/familyspace/internal/domain/models"
	"github.com/dalemusser/familyspace/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

func newStore(t *testing.T) *claimstore.Store {
	t.Helper()
	db := testutil.SetupTestDB(t)
	store := claimstore.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()
	if err := store.EnsureIndexes(ctx); err != nil {
		t.Fatalf("EnsureIndexes failed: %v", err)
	}
	return store
}

func pendingClaim(familyID, claimantID primitive.ObjectID, typ models.ClaimType, expiresAt time.Time) models.AdminClaim {
	return models.AdminClaim{
		FamilyID:             familyID,
		ClaimantID:           claimantID,
		ClaimType:            typ,
		EndorsementsRequired: 2,
		ExpiresAt:            expiresAt,
	}
}

func TestStore_Create(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c, err := store.Create(ctx, pendingClaim(primitive.NewObjectID(), primitive.NewObjectID(), models.ClaimTypeEndorsement, time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if c.ID.IsZero() {
		t.Error("expected ID to be assigned")
	}
	if c.Status != models.ClaimPending || !c.Active {
		t.Errorf("expected active pending claim, got status=%q active=%v", c.Status, c.Active)
	}
	if c.Version != 1 {
		t.Errorf("expected version 1, got %d", c.Version)
	}

	got, err := store.GetByID(ctx, c.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}
	if got.FamilyID != c.FamilyID || got.EndorsementsRequired != 2 {
		t.Errorf("unexpected stored claim: %+v", got)
	}
}

func TestStore_Create_DuplicateActive(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	fam, claimant := primitive.NewObjectID(), primitive.NewObjectID()
	if _, err := store.Create(ctx, pendingClaim(fam, claimant, models.ClaimTypeEndorsement, time.Now().Add(time.Hour))); err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	_, err := store.Create(ctx, pendingClaim(fam, claimant, models.ClaimTypeEmailChallenge, time.Now().Add(time.Hour)))
	if !errors.Is(err, claimstore.ErrDuplicateActiveClaim) {
		t.Errorf("expected ErrDuplicateActiveClaim, got %v", err)
	}

	// A different claimant in the same family is fine.
	if _, err := store.Create(ctx, pendingClaim(fam, primitive.NewObjectID(), models.ClaimTypeEndorsement, time.Now().Add(time.Hour))); err != nil {
		t.Errorf("Create for another claimant failed: %v", err)
	}
}

func TestStore_Create_ConcurrentDuplicates(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	fam, claimant := primitive.NewObjectID(), primitive.NewObjectID()

	const n = 8
	var wg sync.WaitGroup
	errs := make(chan error, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.Create(ctx, pendingClaim(fam, claimant, models.ClaimTypeEndorsement, time.Now().Add(time.Hour)))
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	created := 0
	for err := range errs {
		switch {
		case err == nil:
			created++
		case errors.Is(err, claimstore.ErrDuplicateActiveClaim):
		default:
			t.Errorf("unexpected error: %v", err)
		}
	}
	if created != 1 {
		t.Errorf("expected exactly 1 claim created, got %d", created)
	}
}

func TestStore_Create_AllowedAfterTerminal(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	fam, claimant := primitive.NewObjectID(), primitive.NewObjectID()
	c, err := store.Create(ctx, pendingClaim(fam, claimant, models.ClaimTypeEndorsement, time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.CompareAndSwap(ctx, c.ID, models.ClaimPending, c.Version, claimstore.Update{Status: models.ClaimDenied}); err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}

	if _, err := store.Create(ctx, pendingClaim(fam, claimant, models.ClaimTypeEndorsement, time.Now().Add(time.Hour))); err != nil {
		t.Errorf("expected new claim after terminal one, got %v", err)
	}
}

func TestStore_CompareAndSwap(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c, err := store.Create(ctx, pendingClaim(primitive.NewObjectID(), primitive.NewObjectID(), models.ClaimTypeEndorsement, time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	received := 2
	cooling := time.Now().Add(7 * 24 * time.Hour).UTC()
	updated, err := store.CompareAndSwap(ctx, c.ID, models.ClaimPending, c.Version, claimstore.Update{
		Status:               models.ClaimApproved,
		EndorsementsReceived: &received,
		CoolingOffUntil:      &cooling,
	})
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if updated.Status != models.ClaimApproved || !updated.Active {
		t.Errorf("expected approved active claim, got %q active=%v", updated.Status, updated.Active)
	}
	if updated.Version != c.Version+1 {
		t.Errorf("expected version %d, got %d", c.Version+1, updated.Version)
	}
	if updated.EndorsementsReceived != 2 || updated.CoolingOffUntil == nil {
		t.Errorf("expected fields to be written: %+v", updated)
	}

	// Stale version loses.
	_, err = store.CompareAndSwap(ctx, c.ID, models.ClaimPending, c.Version, claimstore.Update{Status: models.ClaimExpired})
	if !errors.Is(err, claimstore.ErrConflict) {
		t.Errorf("expected ErrConflict for stale version, got %v", err)
	}
	// Wrong status loses.
	_, err = store.CompareAndSwap(ctx, c.ID, models.ClaimPending, updated.Version, claimstore.Update{Status: models.ClaimExpired})
	if !errors.Is(err, claimstore.ErrConflict) {
		t.Errorf("expected ErrConflict for wrong status, got %v", err)
	}
}

func TestStore_CompareAndSwap_ExactlyOneWinner(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c, err := store.Create(ctx, pendingClaim(primitive.NewObjectID(), primitive.NewObjectID(), models.ClaimTypeEndorsement, time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	const n = 10
	var wg sync.WaitGroup
	wins := make(chan struct{}, n)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := store.CompareAndSwap(ctx, c.ID, models.ClaimPending, c.Version, claimstore.Update{Status: models.ClaimExpired})
			if err == nil {
				wins <- struct{}{}
			} else if !errors.Is(err, claimstore.ErrConflict) {
				t.Errorf("unexpected error: %v", err)
			}
		}()
	}
	wg.Wait()
	close(wins)

	if len(wins) != 1 {
		t.Errorf("expected exactly 1 winner, got %d", len(wins))
	}
}

func TestStore_CompareAndSwap_ClearResolution(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c, err := store.Create(ctx, pendingClaim(primitive.NewObjectID(), primitive.NewObjectID(), models.ClaimTypeEmailChallenge, time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	approved, err := store.CompareAndSwap(ctx, c.ID, models.ClaimPending, c.Version, claimstore.Update{Status: models.ClaimApproved})
	if err != nil {
		t.Fatalf("approve failed: %v", err)
	}
	now := time.Now().UTC()
	completed, err := store.CompareAndSwap(ctx, c.ID, models.ClaimApproved, approved.Version, claimstore.Update{
		Status:         models.ClaimCompleted,
		ClaimedAt:      &now,
		ResolvedAt:     &now,
		ResolutionCode: "granted",
	})
	if err != nil {
		t.Fatalf("complete failed: %v", err)
	}
	if completed.Active {
		t.Error("expected completed claim to be inactive")
	}

	reverted, err := store.CompareAndSwap(ctx, c.ID, models.ClaimCompleted, completed.Version, claimstore.Update{
		Status:          models.ClaimApproved,
		ClearResolution: true,
	})
	if err != nil {
		t.Fatalf("revert failed: %v", err)
	}
	if reverted.ClaimedAt != nil || reverted.ResolvedAt != nil || reverted.ResolutionCode != "" {
		t.Errorf("expected resolution fields cleared: %+v", reverted)
	}
	if !reverted.Active {
		t.Error("expected reverted claim to be active again")
	}
}

func TestStore_GetActiveAndLatest(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	fam, claimant := primitive.NewObjectID(), primitive.NewObjectID()

	if _, err := store.GetActive(ctx, fam, claimant); !errors.Is(err, claimstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
	if _, err := store.GetLatest(ctx, fam, claimant); !errors.Is(err, claimstore.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}

	first, err := store.Create(ctx, pendingClaim(fam, claimant, models.ClaimTypeEndorsement, time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	if _, err := store.CompareAndSwap(ctx, first.ID, models.ClaimPending, first.Version, claimstore.Update{Status: models.ClaimDenied}); err != nil {
		t.Fatalf("deny failed: %v", err)
	}

	latest, err := store.GetLatest(ctx, fam, claimant)
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest.ID != first.ID || latest.Status != models.ClaimDenied {
		t.Errorf("expected the denied claim, got %+v", latest)
	}

	second, err := store.Create(ctx, pendingClaim(fam, claimant, models.ClaimTypeEmailChallenge, time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}
	active, err := store.GetActive(ctx, fam, claimant)
	if err != nil {
		t.Fatalf("GetActive failed: %v", err)
	}
	if active.ID != second.ID {
		t.Errorf("expected active claim %s, got %s", second.ID.Hex(), active.ID.Hex())
	}
	latest, err = store.GetLatest(ctx, fam, claimant)
	if err != nil {
		t.Fatalf("GetLatest failed: %v", err)
	}
	if latest.ID != second.ID {
		t.Errorf("expected latest to prefer the active claim")
	}
}

func TestStore_ListPendingEndorsement(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	fam := primitive.NewObjectID()
	caller := primitive.NewObjectID()
	now := time.Now()

	mine, _ := store.Create(ctx, pendingClaim(fam, caller, models.ClaimTypeEndorsement, now.Add(time.Hour)))
	other, _ := store.Create(ctx, pendingClaim(fam, primitive.NewObjectID(), models.ClaimTypeEndorsement, now.Add(time.Hour)))
	_, _ = store.Create(ctx, pendingClaim(fam, primitive.NewObjectID(), models.ClaimTypeEmailChallenge, now.Add(time.Hour)))
	_, _ = store.Create(ctx, pendingClaim(fam, primitive.NewObjectID(), models.ClaimTypeEndorsement, now.Add(-time.Hour)))
	_, _ = store.Create(ctx, pendingClaim(primitive.NewObjectID(), primitive.NewObjectID(), models.ClaimTypeEndorsement, now.Add(time.Hour)))

	got, err := store.ListPendingEndorsement(ctx, fam, caller, now)
	if err != nil {
		t.Fatalf("ListPendingEndorsement failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != other.ID {
		t.Fatalf("expected only %s, got %+v", other.ID.Hex(), got)
	}

	got, err = store.ListPendingEndorsement(ctx, fam, primitive.NilObjectID, now)
	if err != nil {
		t.Fatalf("ListPendingEndorsement failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != mine.ID {
		t.Errorf("expected both live endorsement claims oldest first, got %d", len(got))
	}
}

func TestStore_ListPastDeadline(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	now := time.Now()
	stale, _ := store.Create(ctx, pendingClaim(primitive.NewObjectID(), primitive.NewObjectID(), models.ClaimTypeEndorsement, now.Add(-2*time.Hour)))
	_, _ = store.Create(ctx, pendingClaim(primitive.NewObjectID(), primitive.NewObjectID(), models.ClaimTypeEndorsement, now.Add(time.Hour)))
	done, _ := store.Create(ctx, pendingClaim(primitive.NewObjectID(), primitive.NewObjectID(), models.ClaimTypeEndorsement, now.Add(-time.Hour)))
	if _, err := store.CompareAndSwap(ctx, done.ID, models.ClaimPending, done.Version, claimstore.Update{Status: models.ClaimDenied}); err != nil {
		t.Fatalf("deny failed: %v", err)
	}

	got, err := store.ListPastDeadline(ctx, now, 0)
	if err != nil {
		t.Fatalf("ListPastDeadline failed: %v", err)
	}
	if len(got) != 1 || got[0].ID != stale.ID {
		t.Errorf("expected only the stale active claim, got %d claims", len(got))
	}
}

func TestStore_CompareAndSwap_AddCounted(t *testing.T) {
	store := newStore(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c, err := store.Create(ctx, pendingClaim(primitive.NewObjectID(), primitive.NewObjectID(), models.ClaimTypeEndorsement, time.Now().Add(time.Hour)))
	if err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	voter := primitive.NewObjectID()
	received := 1
	updated, err := store.CompareAndSwap(ctx, c.ID, models.ClaimPending, c.Version, claimstore.Update{
		EndorsementsReceived: &received,
		AddCounted:           &voter,
	})
	if err != nil {
		t.Fatalf("CompareAndSwap failed: %v", err)
	}
	if !updated.Counted(voter) {
		t.Errorf("expected voter to be counted, got %v", updated.CountedEndorsers)
	}
	if updated.Counted(primitive.NewObjectID()) {
		t.Error("unexpected voter reported as counted")
	}
	if updated.Status != models.ClaimPending {
		t.Errorf("status should be untouched, got %q", updated.Status)
	}
}
