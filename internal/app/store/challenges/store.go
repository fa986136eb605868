package challenges

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"golang.org/x/crypto/bcrypt"
)

const (
	// DefaultExpiry is how long a challenge token is valid when the claim
	// deadline does not cut it shorter.
	DefaultExpiry = 24 * time.Hour
	// BcryptCost for hashing tokens.
	BcryptCost = 10
	// MaxVerifyAttempts is the maximum number of verification attempts per challenge.
	MaxVerifyAttempts = 5
	// DefaultMaxResends is the maximum number of re-issues within ResendWindow.
	DefaultMaxResends = 3
	// ResendWindow is the time window for tracking resend rate limiting.
	ResendWindow = time.Hour
)

var (
	// ErrNotFound is returned when no live challenge exists for the claim.
	ErrNotFound = errors.New("challenge not found or expired")
	// ErrInvalidToken is returned when the token doesn't match.
	ErrInvalidToken = errors.New("invalid challenge token")
	// ErrTooManyAttempts is returned when too many verification attempts have been made.
	ErrTooManyAttempts = errors.New("too many challenge attempts")
	// ErrTooManyResends is returned when too many re-issues have been requested.
	ErrTooManyResends = errors.New("too many challenge resend requests")
)

// Challenge is a pending email proof for one claim. Only a bcrypt hash of
// the token is stored.
type Challenge struct {
	ID          primitive.ObjectID `bson:"_id,omitempty"`
	ClaimID     primitive.ObjectID `bson:"claim_id"`
	Email       string             `bson:"email"`
	TokenHash   string             `bson:"token_hash"`
	ExpiresAt   time.Time          `bson:"expires_at"` // TTL index field
	CreatedAt   time.Time          `bson:"created_at"`
	Attempts    int                `bson:"attempts"`
	ResendCount int                `bson:"resend_count"`
	WindowStart time.Time          `bson:"window_start"`
}

// Store issues and verifies claim challenges.
type Store struct {
	c          *mongo.Collection
	expiry     time.Duration
	maxResends int
	now        func() time.Time
}

// New creates a new Store. Non-positive expiry or maxResends fall back to
// the defaults.
func New(db *mongo.Database, expiry time.Duration, maxResends int) *Store {
	if expiry <= 0 {
		expiry = DefaultExpiry
	}
	if maxResends <= 0 {
		maxResends = DefaultMaxResends
	}
	return &Store{
		c:          db.Collection("claim_challenges"),
		expiry:     expiry,
		maxResends: maxResends,
		now:        time.Now,
	}
}

// SetClock overrides the time source. Tests use it to move past expiry.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Expiry returns the default challenge lifetime.
func (s *Store) Expiry() time.Duration {
	return s.expiry
}

// EnsureIndexes creates necessary indexes including TTL index for auto-cleanup.
func (s *Store) EnsureIndexes(ctx context.Context) error {
	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "expires_at", Value: 1}},
			Options: options.Index().SetName("idx_challenge_expires_ttl").SetExpireAfterSeconds(0),
		},
		{
			Keys:    bson.D{{Key: "claim_id", Value: 1}},
			Options: options.Index().SetName("idx_challenge_claim"),
		},
	}
	_, err := s.c.Indexes().CreateMany(ctx, indexes)
	return err
}

// IssueResult contains the plain token to send and resend bookkeeping.
type IssueResult struct {
	Token       string
	ExpiresAt   time.Time
	ResendCount int
}

// Issue creates a challenge for the claim, replacing any previous one. The
// token expires after the store expiry or at notAfter, whichever is sooner.
// If isResend is true, this counts against the resend rate limit.
func (s *Store) Issue(ctx context.Context, claimID primitive.ObjectID, email string, notAfter time.Time, isResend bool) (*IssueResult, error) {
	now := s.now()

	var existing Challenge
	err := s.c.FindOne(ctx, bson.M{"claim_id": claimID}).Decode(&existing)
	existingFound := err == nil
	if err != nil && err != mongo.ErrNoDocuments {
		return nil, err
	}

	inWindow := existingFound && now.Before(existing.WindowStart.Add(ResendWindow))
	if isResend && inWindow && existing.ResendCount >= s.maxResends {
		return nil, ErrTooManyResends
	}

	resendCount := 0
	windowStart := now
	if inWindow {
		windowStart = existing.WindowStart
		resendCount = existing.ResendCount
		if isResend {
			resendCount++
		}
	}

	token := uuid.NewString()
	hash, err := bcrypt.GenerateFromPassword([]byte(token), BcryptCost)
	if err != nil {
		return nil, fmt.Errorf("hash token: %w", err)
	}

	expiresAt := now.Add(s.expiry)
	if !notAfter.IsZero() && notAfter.Before(expiresAt) {
		expiresAt = notAfter
	}

	// Only one live challenge per claim; the old token stops working.
	if _, err := s.c.DeleteMany(ctx, bson.M{"claim_id": claimID}); err != nil {
		return nil, fmt.Errorf("delete previous challenge: %w", err)
	}

	ch := Challenge{
		ID:          primitive.NewObjectID(),
		ClaimID:     claimID,
		Email:       email,
		TokenHash:   string(hash),
		ExpiresAt:   expiresAt,
		CreatedAt:   now,
		ResendCount: resendCount,
		WindowStart: windowStart,
	}
	if _, err := s.c.InsertOne(ctx, ch); err != nil {
		return nil, fmt.Errorf("insert challenge: %w", err)
	}

	return &IssueResult{Token: token, ExpiresAt: expiresAt, ResendCount: resendCount}, nil
}

// Check counts an attempt against the claim's live challenge and compares
// token with it. The challenge is left in place; Consume or Verify removes it.
func (s *Store) Check(ctx context.Context, claimID primitive.ObjectID, token string) (*Challenge, error) {
	var ch Challenge
	err := s.c.FindOne(ctx, bson.M{
		"claim_id":   claimID,
		"expires_at": bson.M{"$gt": s.now()},
	}).Decode(&ch)
	if err != nil {
		if err == mongo.ErrNoDocuments {
			return nil, ErrNotFound
		}
		return nil, err
	}

	if ch.Attempts >= MaxVerifyAttempts {
		return nil, ErrTooManyAttempts
	}

	// Count the attempt before comparing (valid and invalid attempts alike).
	if _, err := s.c.UpdateOne(ctx, bson.M{"_id": ch.ID}, bson.M{"$inc": bson.M{"attempts": 1}}); err != nil {
		return nil, err
	}

	if err := bcrypt.CompareHashAndPassword([]byte(ch.TokenHash), []byte(token)); err != nil {
		return nil, ErrInvalidToken
	}
	return &ch, nil
}

// Consume deletes the challenge. ErrNotFound means another caller already
// used it or a resend replaced it.
func (s *Store) Consume(ctx context.Context, id primitive.ObjectID) error {
	res, err := s.c.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// Verify checks a token for the claim and consumes the challenge on
// success (single use).
func (s *Store) Verify(ctx context.Context, claimID primitive.ObjectID, token string) (*Challenge, error) {
	ch, err := s.Check(ctx, claimID, token)
	if err != nil {
		return nil, err
	}
	// Only the caller whose delete succeeds wins.
	if err := s.Consume(ctx, ch.ID); err != nil {
		return nil, err
	}
	return ch, nil
}

// DeleteByClaim removes any challenge for the claim.
func (s *Store) DeleteByClaim(ctx context.Context, claimID primitive.ObjectID) error {
	_, err := s.c.DeleteMany(ctx, bson.M{"claim_id": claimID})
	return err
}

// IssueChallenge adapts Issue to the token-only contract used by the
// recovery service.
func (s *Store) IssueChallenge(ctx context.Context, claimID primitive.ObjectID, email string, notAfter time.Time, resend bool) (string, error) {
	res, err := s.Issue(ctx, claimID, email, notAfter, resend)
	if err != nil {
		return "", err
	}
	return res.Token, nil
}

// CheckChallenge reports whether token is the live challenge for the claim
// without using it up. Wrong, expired, exhausted or already-used tokens
// report false; only store failures return an error.
func (s *Store) CheckChallenge(ctx context.Context, claimID primitive.ObjectID, token string) (bool, error) {
	_, err := s.Check(ctx, claimID, token)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrInvalidToken), errors.Is(err, ErrTooManyAttempts):
		return false, nil
	default:
		return false, err
	}
}

// ConsumeChallenge removes the claim's challenge so its token stops working.
func (s *Store) ConsumeChallenge(ctx context.Context, claimID primitive.ObjectID) error {
	return s.DeleteByClaim(ctx, claimID)
}
