package recovery_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/dalemusser/familyspace/internal/app/policy/recoverypolicy"
	"github.com/dalemusser/familyspace/internal/app/recovery"
	"github.com/dalemusser/familyspace/internal/app/store/audit"
	"github.com/dalemusser/familyspace/internal/app/store/challenges"
	claimstore "github.com/dalemusser/familyspace/internal/app/store/claims"
	endorsementstore "github.com/dalemusser/familyspace/internal/app/store/endorsements"
	familystore "github.com/dalemusser/familyspace/internal/app/store/families"
	membershipstore "github.com/dalemusser/familyspace/internal/app/store/memberships"
	"github.com/dalemusser/familyspace/internal/app/system/auditlog"
	"github.com/dalemusser/familyspace/internal/app/system/txn"
	"github.com/dalemusser/familyspace/internal/domain/models"
	"github.com/dalemusser/familyspace/internal/testutil"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// fakeClock is shared by the service and the challenge store.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type sentChallenge struct {
	To, FamilyName, ClaimID, Token string
	TTL                            time.Duration
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent []sentChallenge
	err  error
}

func (n *fakeNotifier) SendChallenge(ctx context.Context, to, familyName, claimID, token string, ttl time.Duration) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, sentChallenge{to, familyName, claimID, token, ttl})
	return nil
}

func (n *fakeNotifier) last(t *testing.T) sentChallenge {
	t.Helper()
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		t.Fatal("no challenge was sent")
	}
	return n.sent[len(n.sent)-1]
}

func (n *fakeNotifier) count() int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sent)
}

// failingGrants wraps the membership store and fails every GrantRole.
type failingGrants struct {
	*membershipstore.Store
	err error
}

func (f failingGrants) GrantRole(ctx context.Context, familyID, userID primitive.ObjectID, role string) error {
	return f.err
}

// flakyAdminCheck wraps the membership store and fails HasActiveAdmin
// while fail is set.
type flakyAdminCheck struct {
	*membershipstore.Store
	fail *atomic.Bool
}

func (f flakyAdminCheck) HasActiveAdmin(ctx context.Context, familyID primitive.ObjectID) (bool, error) {
	if f.fail.Load() {
		return false, errors.New("membership store unavailable")
	}
	return f.Store.HasActiveAdmin(ctx, familyID)
}

type harness struct {
	t            *testing.T
	svc          *recovery.Service
	clock        *fakeClock
	notifier     *fakeNotifier
	fx           *testutil.Fixtures
	claims       *claimstore.Store
	endorsements *endorsementstore.Store
	members      *membershipstore.Store
	auditStore   *audit.Store
}

type option func(*recovery.Deps)

func withPolicy(p recoverypolicy.Policy) option {
	return func(d *recovery.Deps) { d.Policy = p }
}

func newHarness(t *testing.T, opts ...option) *harness {
	t.Helper()
	db := testutil.SetupTestDB(t)
	ctx, cancel := testutil.TestContext()
	defer cancel()

	h := &harness{
		t:            t,
		clock:        &fakeClock{now: time.Now().UTC().Truncate(time.Millisecond)},
		notifier:     &fakeNotifier{},
		fx:           testutil.NewFixtures(t, db),
		claims:       claimstore.New(db),
		endorsements: endorsementstore.New(db),
		members:      membershipstore.New(db),
		auditStore:   audit.New(db),
	}
	families := familystore.New(db)
	chal := challenges.New(db, recoverypolicy.DefaultChallengeTTL, recoverypolicy.DefaultMaxResends)
	chal.SetClock(h.clock.Now)

	for name, ensure := range map[string]func(context.Context) error{
		"claims":       h.claims.EnsureIndexes,
		"endorsements": h.endorsements.EnsureIndexes,
		"memberships":  h.members.EnsureIndexes,
		"audit":        h.auditStore.EnsureIndexes,
		"families":     families.EnsureIndexes,
		"challenges":   chal.EnsureIndexes,
	} {
		if err := ensure(ctx); err != nil {
			t.Fatalf("EnsureIndexes(%s) failed: %v", name, err)
		}
	}

	deps := recovery.Deps{
		Claims:       h.claims,
		Endorsements: h.endorsements,
		Families:     families,
		AuditStore:   h.auditStore,
		Audit:        auditlog.New(h.auditStore, zap.NewNop(), auditlog.Config{Recovery: "db"}),
		Members:      h.members,
		Challenges:   chal,
		Notifier:     h.notifier,
		Txn:          txn.New(db.Client(), zap.NewNop()),
		Metrics:      recovery.NewMetrics(prometheus.NewRegistry()),
		Now:          h.clock.Now,
		Logger:       zap.NewNop(),
	}
	for _, o := range opts {
		o(&deps)
	}
	h.svc = recovery.New(deps)
	return h
}

func (h *harness) ctx() context.Context {
	ctx, cancel := testutil.TestContext()
	h.t.Cleanup(cancel)
	return ctx
}

// orphan creates a family with n members and no admin.
func (h *harness) orphan(n int) (models.Family, []primitive.ObjectID) {
	h.t.Helper()
	return h.fx.OrphanedFamily(h.ctx(), "Family "+primitive.NewObjectID().Hex(), n)
}

func (h *harness) submitEndorsementClaim(familyID, claimantID primitive.ObjectID) recovery.ClaimView {
	h.t.Helper()
	v, err := h.svc.SubmitClaim(h.ctx(), recovery.SubmitInput{
		FamilyID:   familyID,
		ClaimantID: claimantID,
		Type:       models.ClaimTypeEndorsement,
		Reason:     "The owner passed away last spring.",
	})
	if err != nil {
		h.t.Fatalf("SubmitClaim failed: %v", err)
	}
	return v
}

func (h *harness) submitEmailClaim(familyID, claimantID primitive.ObjectID) recovery.ClaimView {
	h.t.Helper()
	v, err := h.svc.SubmitClaim(h.ctx(), recovery.SubmitInput{
		FamilyID:   familyID,
		ClaimantID: claimantID,
		Type:       models.ClaimTypeEmailChallenge,
		OwnerEmail: "Owner@Example.com",
	})
	if err != nil {
		h.t.Fatalf("SubmitClaim failed: %v", err)
	}
	return v
}

func (h *harness) endorse(claimID, endorserID primitive.ObjectID, typ models.EndorsementType) (recovery.ClaimView, error) {
	return h.svc.SubmitEndorsement(h.ctx(), recovery.EndorseInput{
		ClaimID:    claimID,
		EndorserID: endorserID,
		Type:       typ,
	})
}

// approve drives an endorsement claim to approved with two support votes.
func (h *harness) approve(claimID primitive.ObjectID, endorsers ...primitive.ObjectID) recovery.ClaimView {
	h.t.Helper()
	var v recovery.ClaimView
	var err error
	for _, e := range endorsers {
		if v, err = h.endorse(claimID, e, models.EndorsementSupport); err != nil {
			h.t.Fatalf("endorse failed: %v", err)
		}
	}
	if v.Status != models.ClaimApproved {
		h.t.Fatalf("expected approved claim, got %q", v.Status)
	}
	return v
}

func (h *harness) claim(id primitive.ObjectID) models.AdminClaim {
	h.t.Helper()
	c, err := h.claims.GetByID(h.ctx(), id)
	if err != nil {
		h.t.Fatalf("GetByID failed: %v", err)
	}
	return c
}

// events counts audit entries of eventType for the claim.
func (h *harness) events(claimID primitive.ObjectID, eventType string) int {
	h.t.Helper()
	list, err := h.auditStore.GetByClaim(h.ctx(), claimID, 1000)
	if err != nil {
		h.t.Fatalf("GetByClaim failed: %v", err)
	}
	n := 0
	for _, e := range list {
		if e.EventType == eventType {
			n++
		}
	}
	return n
}

func (h *harness) isAdmin(familyID, userID primitive.ObjectID) bool {
	h.t.Helper()
	m, err := h.members.Get(h.ctx(), familyID, userID)
	if err != nil {
		h.t.Fatalf("membership Get failed: %v", err)
	}
	return m.Role == models.FamilyRoleAdmin && m.Status == membershipstore.StatusActive
}
