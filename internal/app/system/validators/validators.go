// internal/app/system/validators/validators.go
package validators

import (
	"context"
	"errors"
	"slices"
	"strings"

	"github.com/dalemusser/familyspace/internal/domain/models"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.uber.org/zap"
)

// EnsureAll creates the recovery collections (if missing) and tries to
// attach JSON-Schema validators. On servers that don't support
// collMod/validators (e.g. some DocumentDB versions), we log and skip.
func EnsureAll(ctx context.Context, db *mongo.Database, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	var problems []string

	ensure := func(coll string, schema bson.M) {
		if _, err := ensureCollection(ctx, db, coll, logger); err != nil {
			problems = append(problems, coll+": "+err.Error())
			return
		}
		if schema == nil {
			return
		}
		if err := setValidator(ctx, db, coll, schema, logger); err != nil {
			if isNoSuchCommand(err) || isNotImplemented(err) {
				logger.Info("validator skipped (unsupported)", zap.String("collection", coll))
				return
			}
			problems = append(problems, coll+": "+err.Error())
		}
	}

	ensure("admin_claims", claimsSchema())
	ensure("claim_endorsements", endorsementsSchema())
	ensure("families", familiesSchema())
	ensure("family_memberships", membershipsSchema())

	// Append-only; written by the audit store only.
	ensure("audit_events", nil)

	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

/* ------------------------------ helpers --------------------------------- */

// ensureCollection creates name unless it already exists.
func ensureCollection(ctx context.Context, db *mongo.Database, name string, logger *zap.Logger) (created bool, err error) {
	names, err := db.ListCollectionNames(ctx, bson.M{"name": name})
	if err == nil && len(names) > 0 {
		logger.Debug("collection exists", zap.String("collection", name))
		return false, nil
	}
	if err := db.CreateCollection(ctx, name); err != nil {
		// Another instance may have created it between the list and the create.
		if isNamespaceExistsErr(err) {
			return false, nil
		}
		return false, err
	}
	logger.Info("created collection", zap.String("collection", name))
	return true, nil
}

// setValidator attaches schema to name. Documents already stored are not
// re-checked ("moderate"); new writes that fail are rejected.
func setValidator(ctx context.Context, db *mongo.Database, name string, schema bson.M, logger *zap.Logger) error {
	cmd := bson.D{
		{Key: "collMod", Value: name},
		{Key: "validator", Value: schema},
		{Key: "validationLevel", Value: "moderate"},
		{Key: "validationAction", Value: "error"},
	}
	if err := db.RunCommand(ctx, cmd).Err(); err != nil {
		return err
	}
	logger.Info("validator ensured", zap.String("collection", name))
	return nil
}

// commandFailed reports whether err is a server command error with one of
// codes, or whose text contains one of phrases.
func commandFailed(err error, codes []int32, phrases ...string) bool {
	if err == nil {
		return false
	}
	var ce mongo.CommandError
	if errors.As(err, &ce) && slices.Contains(codes, ce.Code) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, p := range phrases {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}

func isNamespaceExistsErr(err error) bool {
	return commandFailed(err, []int32{48}, "already exists", "namespace exists")
}

func isNoSuchCommand(err error) bool {
	return commandFailed(err, []int32{59}, "no such command")
}

func isNotImplemented(err error) bool {
	return commandFailed(err, []int32{115}, "not implemented", "not supported")
}

/* ------------------------- JSON-Schema docs ---------------------- */

func enum[T ~string](vals ...T) bson.A {
	out := make(bson.A, len(vals))
	for i, v := range vals {
		out[i] = string(v)
	}
	return out
}

var counter = bson.M{"bsonType": bson.A{"int", "long"}, "minimum": 0}

func claimsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{
				"family_id", "claimant_id", "claim_type", "status", "active",
				"endorsements_required", "endorsements_received", "oppositions_received",
				"expires_at", "version", "created_at",
			},
			"properties": bson.M{
				"family_id":   bson.M{"bsonType": "objectId"},
				"claimant_id": bson.M{"bsonType": "objectId"},
				"claim_type":  bson.M{"enum": enum(models.ClaimTypeEndorsement, models.ClaimTypeEmailChallenge)},
				"status": bson.M{"enum": enum(
					models.ClaimPending, models.ClaimApproved, models.ClaimDenied,
					models.ClaimCompleted, models.ClaimExpired,
				)},
				"active":                bson.M{"bsonType": "bool"},
				"reason":                bson.M{"bsonType": "string"},
				"endorsements_required": counter,
				"endorsements_received": counter,
				"oppositions_received":  counter,
				"counted_endorsers":     bson.M{"bsonType": "array", "items": bson.M{"bsonType": "objectId"}},
				"cooling_off_until":     bson.M{"bsonType": "date"},
				"expires_at":            bson.M{"bsonType": "date"},
				"claimed_at":            bson.M{"bsonType": "date"},
				"resolved_at":           bson.M{"bsonType": "date"},
				"resolution_code":       bson.M{"bsonType": "string"},
				"metadata":              bson.M{"bsonType": "object"},
				"version":               counter,
				"created_at":            bson.M{"bsonType": "date"},
				"updated_at":            bson.M{"bsonType": "date"},
			},
		},
	}
}

func endorsementsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"claim_id", "family_id", "endorser_id", "endorsement_type", "created_at"},
			"properties": bson.M{
				"claim_id":         bson.M{"bsonType": "objectId"},
				"family_id":        bson.M{"bsonType": "objectId"},
				"endorser_id":      bson.M{"bsonType": "objectId"},
				"endorsement_type": bson.M{"enum": enum(models.EndorsementSupport, models.EndorsementOppose)},
				"reason":           bson.M{"bsonType": "string"},
				"created_at":       bson.M{"bsonType": "date"},
				"updated_at":       bson.M{"bsonType": "date"},
			},
		},
	}
}

func familiesSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"name", "name_ci", "status"},
			"properties": bson.M{
				"name":    bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"},
				"name_ci": bson.M{"bsonType": "string", "minLength": 1, "pattern": ".*\\S.*"},
				"status":  bson.M{"enum": bson.A{"active", "disabled"}},
			},
		},
	}
}

func membershipsSchema() bson.M {
	return bson.M{
		"$jsonSchema": bson.M{
			"bsonType": "object",
			"required": bson.A{"family_id", "user_id", "role", "status"},
			"properties": bson.M{
				"family_id":  bson.M{"bsonType": "objectId"},
				"user_id":    bson.M{"bsonType": "objectId"},
				"role":       bson.M{"enum": bson.A{models.FamilyRoleAdmin, models.FamilyRoleMember}},
				"status":     bson.M{"enum": bson.A{"active", "removed"}},
				"created_at": bson.M{"bsonType": "date"},
				"updated_at": bson.M{"bsonType": "date"},
			},
		},
	}
}
