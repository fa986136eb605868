// internal/app/store/memberships/membershipstore.go
package membershipstore

// Terminology: User Identifiers
//   - UserID / userID / user_id: The MongoDB ObjectID (_id) that uniquely identifies a user record
//   - FamilyID / familyID / family_id: The MongoDB ObjectID of the family space

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

const (
	StatusActive  = "active"
	StatusRemoved = "removed"
)

type Store struct {
	c *mongo.Collection
}

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("family_memberships")}
}

var errBadRole = errors.New(`role must be "admin" or "member"`)

var ErrDuplicateMembership = errors.New("user is already a member of this family")

// EnsureIndexes creates the (family_id, user_id) uniqueness constraint and
// the admin lookup index used by HasActiveAdmin.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "family_id", Value: 1}, {Key: "user_id", Value: 1}},
			Options: options.Index().SetName("uniq_family_user").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "family_id", Value: 1}, {Key: "role", Value: 1}, {Key: "status", Value: 1}},
			Options: options.Index().SetName("idx_family_role_status"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

func validRole(role string) bool {
	return role == models.FamilyRoleAdmin || role == models.FamilyRoleMember
}

// Add creates an active membership.
func (s *Store) Add(ctx context.Context, familyID, userID primitive.ObjectID, role string) error {
	if !validRole(role) {
		return errBadRole
	}
	now := time.Now().UTC()
	doc := models.FamilyMembership{
		ID:        primitive.NewObjectID(),
		FamilyID:  familyID,
		UserID:    userID,
		Role:      role,
		Status:    StatusActive,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if _, err := s.c.InsertOne(ctx, doc); err != nil {
		if wafflemongo.IsDup(err) {
			return ErrDuplicateMembership
		}
		return err
	}
	return nil
}

// Remove marks the membership removed. The document is kept so the
// family's history stays intact.
func (s *Store) Remove(ctx context.Context, familyID, userID primitive.ObjectID) error {
	_, err := s.c.UpdateOne(ctx,
		bson.M{"family_id": familyID, "user_id": userID},
		bson.M{"$set": bson.M{"status": StatusRemoved, "updated_at": time.Now().UTC()}},
	)
	return err
}

// HasActiveAdmin reports whether the family has at least one active admin.
func (s *Store) HasActiveAdmin(ctx context.Context, familyID primitive.ObjectID) (bool, error) {
	err := s.c.FindOne(ctx, bson.M{
		"family_id": familyID,
		"role":      models.FamilyRoleAdmin,
		"status":    StatusActive,
	}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsMember reports whether the user holds an active membership (any role).
func (s *Store) IsMember(ctx context.Context, familyID, userID primitive.ObjectID) (bool, error) {
	err := s.c.FindOne(ctx, bson.M{
		"family_id": familyID,
		"user_id":   userID,
		"status":    StatusActive,
	}).Err()
	if err == mongo.ErrNoDocuments {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// GrantRole upserts an active membership with the given role. A removed
// membership is reactivated.
func (s *Store) GrantRole(ctx context.Context, familyID, userID primitive.ObjectID, role string) error {
	if !validRole(role) {
		return errBadRole
	}
	now := time.Now().UTC()
	_, err := s.c.UpdateOne(ctx,
		bson.M{"family_id": familyID, "user_id": userID},
		bson.M{
			"$set": bson.M{
				"role":       role,
				"status":     StatusActive,
				"updated_at": now,
			},
			"$setOnInsert": bson.M{
				"_id":        primitive.NewObjectID(),
				"created_at": now,
			},
		},
		options.Update().SetUpsert(true),
	)
	return err
}

// Get returns the membership for (familyID, userID).
func (s *Store) Get(ctx context.Context, familyID, userID primitive.ObjectID) (models.FamilyMembership, error) {
	var m models.FamilyMembership
	err := s.c.FindOne(ctx, bson.M{"family_id": familyID, "user_id": userID}).Decode(&m)
	return m, err
}

// CountByFamily returns the count of active memberships for a family,
// optionally filtered by role. If role is empty, counts all roles.
func (s *Store) CountByFamily(ctx context.Context, familyID primitive.ObjectID, role string) (int64, error) {
	filter := bson.M{"family_id": familyID, "status": StatusActive}
	if role != "" {
		filter["role"] = role
	}
	return s.c.CountDocuments(ctx, filter)
}
