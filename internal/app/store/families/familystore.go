// internal/app/store/families/familystore.go
package familystore

import (
	"context"
	"errors"
	"time"

	"github.com/dalemusser/familyspace/internal/domain/models"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"github.com/dalemusser/waffle/pantry/text"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

type Store struct {
	c *mongo.Collection
}

var (
	ErrDuplicateName = errors.New("a family with this name already exists")
	ErrNotFound      = errors.New("family not found")
)

func New(db *mongo.Database) *Store {
	return &Store{c: db.Collection("families")}
}

// EnsureIndexes creates the unique case-insensitive name index.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	_, err := s.c.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "name_ci", Value: 1}},
		Options: options.Index().SetName("uniq_family_name_ci").SetUnique(true),
	})
	return err
}

// Create inserts a new family.
func (s *Store) Create(ctx context.Context, f models.Family) (models.Family, error) {
	now := time.Now().UTC()
	f.ID = primitive.NewObjectID()
	f.NameCI = text.Fold(f.Name)
	if f.Status == "" {
		f.Status = "active"
	}
	f.CreatedAt = now
	f.UpdatedAt = now
	if _, err := s.c.InsertOne(ctx, f); err != nil {
		if wafflemongo.IsDup(err) {
			return models.Family{}, ErrDuplicateName
		}
		return models.Family{}, err
	}
	return f, nil
}

// GetByID retrieves a family by its ID.
func (s *Store) GetByID(ctx context.Context, id primitive.ObjectID) (models.Family, error) {
	var f models.Family
	err := s.c.FindOne(ctx, bson.M{"_id": id}).Decode(&f)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return models.Family{}, ErrNotFound
		}
		return models.Family{}, err
	}
	return f, nil
}
