package auditlog_test

import (
	"testing"
	"time"

	"github.com/dalemusser/familyspace/internal/app/store/audit"
	"github.com/dalemusser/familyspace/internal/app/system/auditlog"
	"github.com/dalemusser/familyspace/internal/domain/models"
	"github.com/dalemusser/familyspace/internal/testutil"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func testClaim() models.AdminClaim {
	return models.AdminClaim{
		ID:         primitive.NewObjectID(),
		FamilyID:   primitive.NewObjectID(),
		ClaimantID: primitive.NewObjectID(),
		ClaimType:  models.ClaimTypeEndorsement,
		Status:     models.ClaimPending,
		ExpiresAt:  time.Now().Add(time.Hour),
	}
}

func TestLogger_NilLogger(t *testing.T) {
	// nil logger should be a no-op (not panic)
	var logger *auditlog.Logger
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := testClaim()
	logger.Log(ctx, audit.Event{EventType: "test"})
	logger.Transition(ctx, c, audit.EventClaimApproved, models.ClaimPending, models.ClaimApproved, auditlog.SystemActor(), "", nil)
	logger.Rejected(ctx, c, audit.EventGrantRejected, auditlog.UserActor(c.ClaimantID, audit.ActorClaimant), "cooling_off_active", nil)
	logger.SubmissionRejected(ctx, c.FamilyID, c.ClaimantID, "not_orphaned", nil)
}

func TestLogger_Log_AlwaysStores(t *testing.T) {
	for _, setting := range []string{"", "all", "db", "off", "log"} {
		t.Run("setting="+setting, func(t *testing.T) {
			db := testutil.SetupTestDB(t)
			store := audit.New(db)
			ctx, cancel := testutil.TestContext()
			defer cancel()

			logger := auditlog.New(store, zap.NewNop(), auditlog.Config{Recovery: setting})

			c := testClaim()
			logger.Transition(ctx, c, audit.EventClaimSubmitted, "", models.ClaimPending,
				auditlog.UserActor(c.ClaimantID, audit.ActorClaimant), "", nil)

			events, err := store.GetByClaim(ctx, c.ID, 10)
			if err != nil {
				t.Fatalf("GetByClaim failed: %v", err)
			}
			if len(events) != 1 {
				t.Errorf("expected the event to be stored, got %d", len(events))
			}
		})
	}
}

func TestLogger_Log_MirrorsToZap(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	c := testClaim()
	actor := auditlog.UserActor(c.ClaimantID, audit.ActorClaimant)

	core, logs := observer.New(zap.InfoLevel)
	auditlog.New(store, zap.New(core), auditlog.Config{Recovery: "all"}).
		Transition(ctx, c, audit.EventClaimSubmitted, "", models.ClaimPending, actor, "", nil)
	if n := logs.FilterMessage("audit event").Len(); n != 1 {
		t.Errorf("all: expected 1 zap audit entry, got %d", n)
	}

	core, logs = observer.New(zap.InfoLevel)
	auditlog.New(store, zap.New(core), auditlog.Config{Recovery: "db"}).
		Transition(ctx, c, audit.EventClaimSubmitted, "", models.ClaimPending, actor, "", nil)
	if n := logs.FilterMessage("audit event").Len(); n != 0 {
		t.Errorf("db: expected no zap audit entry, got %d", n)
	}
}

func TestLogger_Transition_StoresEntry(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	logger := auditlog.New(store, zap.NewNop(), auditlog.Config{})

	c := testClaim()
	logger.Transition(ctx, c, audit.EventClaimExpired, models.ClaimPending, models.ClaimExpired,
		auditlog.SystemActor(), "deadline_passed", map[string]string{"expires_at": c.ExpiresAt.Format(time.RFC3339)})

	events, err := store.GetByClaim(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("GetByClaim failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	e := events[0]
	if e.Category != audit.CategoryRecovery {
		t.Errorf("category = %q, want %q", e.Category, audit.CategoryRecovery)
	}
	if e.FromStatus != string(models.ClaimPending) || e.ToStatus != string(models.ClaimExpired) {
		t.Errorf("unexpected statuses %q -> %q", e.FromStatus, e.ToStatus)
	}
	if e.ActorKind != audit.ActorSystem || e.ActorID != nil {
		t.Errorf("expected scheduler actor without id, got %q %v", e.ActorKind, e.ActorID)
	}
	if !e.Success || e.ReasonCode != "deadline_passed" {
		t.Errorf("unexpected outcome: success=%v reason=%q", e.Success, e.ReasonCode)
	}
	if e.FamilyID == nil || *e.FamilyID != c.FamilyID {
		t.Error("expected family id to be recorded")
	}
	if e.Details["expires_at"] == "" {
		t.Error("expected details to be stored")
	}
}

func TestLogger_Rejected_RecordsCurrentStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	core, logs := observer.New(zap.InfoLevel)
	logger := auditlog.New(store, zap.New(core), auditlog.Config{Recovery: "all"})

	c := testClaim()
	c.Status = models.ClaimApproved
	endorser := primitive.NewObjectID()
	logger.Rejected(ctx, c, audit.EventEndorsementRejected, auditlog.UserActor(endorser, audit.ActorEndorser), "claim_not_pending", nil)

	events, err := store.GetByClaim(ctx, c.ID, 10)
	if err != nil {
		t.Fatalf("GetByClaim failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].Success {
		t.Error("expected rejected event to have success=false")
	}
	if events[0].FromStatus != string(models.ClaimApproved) || events[0].ToStatus != "" {
		t.Errorf("unexpected statuses %q -> %q", events[0].FromStatus, events[0].ToStatus)
	}
	if events[0].ActorID == nil || *events[0].ActorID != endorser {
		t.Error("expected endorser to be recorded as actor")
	}

	// Rejections are mirrored at warn level.
	if logs.FilterLevelExact(zap.WarnLevel).Len() != 1 {
		t.Errorf("expected 1 warn log, got %d", logs.FilterLevelExact(zap.WarnLevel).Len())
	}
}

func TestLogger_SubmissionRejected(t *testing.T) {
	db := testutil.SetupTestDB(t)
	store := audit.New(db)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	logger := auditlog.New(store, zap.NewNop(), auditlog.Config{Recovery: "db"})

	familyID := primitive.NewObjectID()
	claimant := primitive.NewObjectID()
	logger.SubmissionRejected(ctx, familyID, claimant, "not_orphaned", nil)

	events, err := store.Query(ctx, audit.QueryFilter{FamilyID: &familyID})
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("expected 1 event, got %d", len(events))
	}
	if events[0].ClaimID != nil {
		t.Error("expected no claim id on a refused submission")
	}
	if events[0].EventType != audit.EventClaimRejected || events[0].ReasonCode != "not_orphaned" {
		t.Errorf("unexpected event: %+v", events[0])
	}
}
