package testutil

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/dalemusser/familyspace/internal/domain/models"
	"github.com/dalemusser/waffle/pantry/text"
	"github.com/go-chi/chi/v5"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

// WithChiURLParam adds a chi URL parameter to the request context.
// Use this in handler tests that need to access chi.URLParam values.
func WithChiURLParam(r *http.Request, key, value string) *http.Request {
	rctx, ok := r.Context().Value(chi.RouteCtxKey).(*chi.Context)
	if !ok || rctx == nil {
		rctx = chi.NewRouteContext()
	}
	rctx.URLParams.Add(key, value)
	return r.WithContext(context.WithValue(r.Context(), chi.RouteCtxKey, rctx))
}

// Fixtures provides helper methods for creating test data.
type Fixtures struct {
	db *mongo.Database
	t  *testing.T
}

// NewFixtures creates a new Fixtures instance for the given test database.
func NewFixtures(t *testing.T, db *mongo.Database) *Fixtures {
	t.Helper()
	return &Fixtures{db: db, t: t}
}

// DB returns the underlying database for direct access in tests.
func (f *Fixtures) DB() *mongo.Database {
	return f.db
}

// CreateFamily creates an active family with the given name.
func (f *Fixtures) CreateFamily(ctx context.Context, name string) models.Family {
	f.t.Helper()

	now := time.Now().UTC()
	fam := models.Family{
		ID:        primitive.NewObjectID(),
		Name:      name,
		NameCI:    text.Fold(name),
		Status:    "active",
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := f.db.Collection("families").InsertOne(ctx, fam); err != nil {
		f.t.Fatalf("failed to create test family: %v", err)
	}
	return fam
}

// AddMember creates an active membership and returns the new user's ID.
func (f *Fixtures) AddMember(ctx context.Context, familyID primitive.ObjectID, role string) primitive.ObjectID {
	f.t.Helper()

	userID := primitive.NewObjectID()
	f.AddExistingUser(ctx, familyID, userID, role, "active")
	return userID
}

// AddExistingUser creates a membership for userID with the given role and status.
func (f *Fixtures) AddExistingUser(ctx context.Context, familyID, userID primitive.ObjectID, role, status string) {
	f.t.Helper()

	now := time.Now().UTC()
	m := models.FamilyMembership{
		ID:        primitive.NewObjectID(),
		FamilyID:  familyID,
		UserID:    userID,
		Role:      role,
		Status:    status,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := f.db.Collection("family_memberships").InsertOne(ctx, m); err != nil {
		f.t.Fatalf("failed to create test membership: %v", err)
	}
}

// OrphanedFamily creates a family with n plain members and no admin.
// It returns the family and the member IDs.
func (f *Fixtures) OrphanedFamily(ctx context.Context, name string, n int) (models.Family, []primitive.ObjectID) {
	f.t.Helper()

	fam := f.CreateFamily(ctx, name)
	ids := make([]primitive.ObjectID, 0, n)
	for i := 0; i < n; i++ {
		ids = append(ids, f.AddMember(ctx, fam.ID, models.FamilyRoleMember))
	}
	return fam, ids
}
