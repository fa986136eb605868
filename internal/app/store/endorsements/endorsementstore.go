// internal/app/store/endorsements/endorsementstore.go
package endorsementstore

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
	// ErrDuplicateEndorsement is returned when the endorser already voted on the claim.
	ErrDuplicateEndorsement = errors.New("endorser has already endorsed this claim")
	// ErrNotFound is returned when the endorser has no vote on the claim.
	ErrNotFound = errors.New("endorsement not found")
)

// Store manages endorsement votes. A vote counts toward a claim once the
// claim lists its endorser in counted_endorsers.
type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("claim_endorsements")}
}

// EnsureIndexes creates the (claim_id, endorser_id) uniqueness constraint.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "claim_id", Value: 1}, {Key: "endorser_id", Value: 1}},
			Options: options.Index().SetName("uniq_claim_endorser").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "claim_id", Value: 1}, {Key: "endorsement_type", Value: 1}},
			Options: options.Index().SetName("idx_claim_type"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// Insert records a new vote.
func (s *Store) Insert(ctx context.Context, e models.Endorsement) (models.Endorsement, error) {
	now := time.Now().UTC()
	if e.ID.IsZero() {
		e.ID = primitive.NewObjectID()
	}
	e.CreatedAt = now
	e.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, e); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Endorsement{}, ErrDuplicateEndorsement
		}
		return models.Endorsement{}, err
	}
	return e, nil
}

// Get returns endorserID's vote on the claim.
func (s *Store) Get(ctx context.Context, claimID, endorserID primitive.ObjectID) (models.Endorsement, error) {
	var e models.Endorsement
	err := s.c.FindOne(ctx, bson.M{"claim_id": claimID, "endorser_id": endorserID}).Decode(&e)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Endorsement{}, ErrNotFound
		}
		return models.Endorsement{}, err
	}
	return e, nil
}

// Update changes an existing vote in place.
func (s *Store) Update(ctx context.Context, claimID, endorserID primitive.ObjectID, typ models.EndorsementType, reason string) (models.Endorsement, error) {
	var out models.Endorsement
	err := s.c.FindOneAndUpdate(ctx,
		bson.M{"claim_id": claimID, "endorser_id": endorserID},
		bson.M{"$set": bson.M{
			"endorsement_type": typ,
			"reason":           reason,
			"updated_at":       time.Now().UTC(),
		}},
		options.FindOneAndUpdate().SetReturnDocument(options.After),
	).Decode(&out)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Endorsement{}, ErrNotFound
		}
		return models.Endorsement{}, err
	}
	return out, nil
}

// Delete removes a vote. Only used to undo an insert whose surrounding
// operation failed.
func (s *Store) Delete(ctx context.Context, id primitive.ObjectID) error {
	_, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	return err
}

// Tally holds vote counts for one claim.
type Tally struct {
	Support int
	Oppose  int
}

// Tally counts the votes recorded for a claim.
func (s *Store) Tally(ctx context.Context, claimID primitive.ObjectID) (Tally, error) {
	cur, err := s.c.Aggregate(ctx, []bson.M{
		{"$match": bson.M{"claim_id": claimID}},
		{"$group": bson.M{"_id": "$endorsement_type", "n": bson.M{"$sum": 1}}},
	})
	if err != nil {
		return Tally{}, err
	}
	defer cur.Close(ctx)

	var t Tally
	for cur.Next(ctx) {
		var row struct {
			Type models.EndorsementType `bson:"_id"`
			N    int                    `bson:"n"`
		}
		if err := cur.Decode(&row); err != nil {
			return Tally{}, err
		}
		switch row.Type {
		case models.EndorsementSupport:
			t.Support = row.N
		case models.EndorsementOppose:
			t.Oppose = row.N
		}
	}
	return t, cur.Err()
}

// ListByClaim returns all votes on a claim, oldest first.
func (s *Store) ListByClaim(ctx context.Context, claimID primitive.ObjectID) ([]models.Endorsement, error) {
	cur, err := s.c.Find(ctx, bson.M{"claim_id": claimID},
		options.Find().SetSort(bson.D{{Key: "created_at", Value: 1}}))
	if err != nil {
		return nil, err
	}
	defer cur.Close(ctx)

	var out []models.Endorsement
	if err := cur.All(ctx, &out); err != nil {
		return nil, err
	}
	return out, nil
}
