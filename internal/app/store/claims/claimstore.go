// internal/app/store/claims/claimstore.go
package claimstore

// Terminology: User Identifiers
//   - ClaimantID / claimant_id: The user ObjectID asking for admin rights
//   - FamilyID / family_id: The family space the claim targets

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/familyspace/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

var (
	// ErrNotFound is returned when no claim matches.
	ErrNotFound = errors.New("claim not found")
	// ErrDuplicateActiveClaim is returned when the (family, claimant) pair
	// already has a pending or approved claim.
	ErrDuplicateActiveClaim = errors.New("an active claim already exists for this family and claimant")
	// ErrConflict is returned when a compare-and-swap loses to a concurrent write.
	ErrConflict = errors.New("claim was modified concurrently")
)

// Store manages admin claim records.
type Store struct {
	c *mongo.Collection
}

// New creates a new claims Store.
func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("admin_claims")}
}

// EnsureIndexes creates the storage-level uniqueness rule (one active claim
// per family/claimant pair) and the indexes used by the sweep and listings.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys: bson.D{{Key: "family_id", Value: 1}, {Key: "claimant_id", Value: 1}},
			Options: options.Index().
				SetName("uniq_active_family_claimant").
				SetUnique(true).
				SetPartialFilterExpression(bson.M{"active": true}),
		},
		{
			Keys:    bson.D{{Key: "family_id", Value: 1}, {Key: "claimant_id", Value: 1}, {Key: "created_at", Value: -1}},
			Options: options.Index().SetName("idx_family_claimant_created"),
		},
		{
			Keys:    bson.D{{Key: "active", Value: 1}, {Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("idx_active_expires"),
		},
		{
			Keys:    bson.D{{Key: "family_id", Value: 1}, {Key: "status", Value: 1}, {Key: "claim_type", Value: 1}},
			Options: options.Index().SetName("idx_family_status_type"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Create inserts a new pending claim. The unique partial index makes the
// check-and-insert atomic: a concurrent duplicate gets ErrDuplicateActiveClaim.
func (s *Store) Create(ctx context.Context, c models.AdminClaim) (models.AdminClaim, error) {
	now := time.Now().UTC()
	if c.ID.IsZero() {
		c.ID = primitive.NewObjectID()
	}
	if c.Status == "" {
		c.Status = models.ClaimPending
	}
	c.Active = c.Status.Active()
	c.Version = 1
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	c.UpdatedAt = c.CreatedAt

	if _, err := s.c.InsertOne(ctx, c); err != nil {
		if wafflemongo.IsDup(err) {
			return models.AdminClaim{}, ErrDuplicateActiveClaim
		}
		return models.AdminClaim{}, err
	}
	return c, nil
}

// GetByID retrieves a claim by its ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.AdminClaim, error) {
	return s.findOne(ctx, bson.M{"_id": id})
}

// GetActive returns the pending or approved claim for the pair.
func (s *Store) GetActive(ctx context.Context, familyID, claimantID primitive.ObjectID) (models.AdminClaim, error) {
	return s.findOne(ctx, bson.M{"family_id": familyID, "claimant_id": claimantID, "active": true})
}

// GetLatest returns the active claim for the pair if there is one, otherwise
// the most recently created claim.
func (s *Store) GetLatest(ctx context.Context, familyID, claimantID primitive.ObjectID) (models.AdminClaim, error) {
	opts := options.FindOne().SetSort(bson.D{{Key: "active", Value: -1}, {Key: "created_at", Value: -1}})
	var c models.AdminClaim
	err := s.c.FindOne(ctx, bson.M{"family_id": familyID, "claimant_id": claimantID}, opts).Decode(&c)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.AdminClaim{}, ErrNotFound
		}
		return models.AdminClaim{}, err
	}
	return c, nil
}

// ListPendingEndorsement returns pending endorsement claims for a family that
// have not passed their deadline, excluding claims made by excludeClaimant.
func (s *Store) ListPendingEndorsement(ctx context.Context, familyID, excludeClaimant primitive.ObjectID, now time.Time) ([]models.AdminClaim, error) {
	filter := bson.M{
		"family_id":  familyID,
		"status":     models.ClaimPending,
		"claim_type": models.ClaimTypeEndorsement,
		"expires_at": bson.M{"$gte": now},
	}
	if !excludeClaimant.IsZero() {
		filter["claimant_id"] = bson.M{"$ne": excludeClaimant}
	}
	return s.find(ctx, filter, options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
}

// ListPastDeadline returns active claims whose expires_at is before now,
// oldest deadline first.
func (s *Store) ListPastDeadline(ctx context.Context, now time.Time, limit int64) ([]models.AdminClaim, error) {
	opts := options.Find().SetSort(bson.D{{Key: "expires_at", Value: 1}})
	if limit > 0 {
		opts.SetLimit(limit)
	}
	return s.find(ctx, bson.M{"active": true, "expires_at": bson.M{"$lt": now}}, opts)
}

// Update describes the fields a compare-and-swap writes. Zero values leave
// the stored field untouched.
type Update struct {
	Status               models.ClaimStatus
	EndorsementsReceived *int
	OppositionsReceived  *int
	CoolingOffUntil      *time.Time
	ExpiresAt            *time.Time
	ClaimedAt            *time.Time
	ResolvedAt           *time.Time
	ResolutionCode       string

	// AddCounted appends a voter to counted_endorsers.
	AddCounted *primitive.ObjectID

	// ClearResolution removes claimed_at, resolved_at and resolution_code.
	ClearResolution bool
}

// CompareAndSwap applies u only if the stored claim still has the expected
// status and version, bumping the version. It returns the updated claim, or
// ErrConflict when another writer got there first.
func (s *Store) CompareAndSwap(ctx context.Context, id primitive.ObjectID, status models.ClaimStatus, version int64, u Update) (models.AdminClaim, error) {
	set := bson.M{"updated_at": time.Now().UTC()}
	if u.Status != "" {
		set["status"] = u.Status
		set["active"] = u.Status.Active()
	}
	if u.EndorsementsReceived != nil {
		set["endorsements_received"] = *u.EndorsementsReceived
	}
	if u.OppositionsReceived != nil {
		set["oppositions_received"] = *u.OppositionsReceived
	}
	if u.CoolingOffUntil != nil {
		set["cooling_off_until"] = *u.CoolingOffUntil
	}
	if u.ExpiresAt != nil {
		set["expires_at"] = *u.ExpiresAt
	}
	if u.ClaimedAt != nil {
		set["claimed_at"] = *u.ClaimedAt
	}
	if u.ResolvedAt != nil {
		set["resolved_at"] = *u.ResolvedAt
	}
	if u.ResolutionCode != "" {
		set["resolution_code"] = u.ResolutionCode
	}

	update := bson.M{
		"$set": set,
		"$inc": bson.M{"version": 1},
	}
	if u.AddCounted != nil {
		update["$push"] = bson.M{"counted_endorsers": *u.AddCounted}
	}
	if u.ClearResolution {
		update["$unset"] = bson.M{"claimed_at": "", "resolved_at": "", "resolution_code": ""}
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)
	var out models.AdminClaim
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"_id": id, "status": status, "version": version},
		update,
		opts,
	).Decode(&out)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.AdminClaim{}, ErrConflict
		}
		if wafflemongo.IsDup(err) {
			return models.AdminClaim{}, ErrDuplicateActiveClaim
		}
		return models.AdminClaim{}, err
	}
	return out, nil
}

func (s *Store) findOne(ctx context.Context, filter bson.M) (models.AdminClaim, error) {
	var c models.AdminClaim
	if err := s.c.FindOne(ctx, filter).Decode(&c); err != nil {
		if err == mongo.ErrNoDocuments {
			return models.AdminClaim{}, ErrNotFound
		}
		return models.AdminClaim{}, err
	}
	return c, nil
}

func (s *Store) find(ctx context.Context, filter bson.M, opts *options.FindOptions) ([]models.AdminClaim, error) {
	cur, err := s.c.Find(ctx, filter, opts)
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.AdminClaim
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
