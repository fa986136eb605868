// internal/app/bootstrap/db.go
package bootstrap

import (
	"context"
	"fmt"

	"github.com/dalemusser/familyspace/internal/app/store/audit"
	"github.com/dalemusser/familyspace/internal/app/store/challenges"
	claimstore "github.com/dalemusser/familyspace/internal/app/store/claims"
	endorsementstore "github.com/dalemusser/familyspace/internal/app/store/endorsements"
	familystore "github.com/dalemusser/familyspace/internal/app/store/families"
	membershipstore "github.com/dalemusser/familyspace/internal/app/store/memberships"
	"github.com/dalemusser/familyspace/internal/app/system/timeouts"
	"github.com/dalemusser/familyspace/internal/app/system/validators"
	"github.com/dalemusser/waffle/config"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"go.uber.org/zap"
)

// ConnectDB connects to MongoDB and verifies the connection with a ping.
func ConnectDB(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) (DBDeps, error) {
	opts := options.Client().ApplyURI(appCfg.MongoURI)
	if appCfg.MongoMaxPoolSize > 0 {
		opts.SetMaxPoolSize(appCfg.MongoMaxPoolSize)
	}
	if appCfg.MongoMinPoolSize > 0 {
		opts.SetMinPoolSize(appCfg.MongoMinPoolSize)
	}

	client, err := mongo.Connect(ctx, opts)
	if err != nil {
		logger.Error("MongoDB connect failed", zap.Error(err))
		return DBDeps{}, fmt.Errorf("connect to MongoDB: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, timeouts.Ping())
	defer cancel()
	if err := client.Ping(pingCtx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		logger.Error("MongoDB ping failed", zap.Error(err))
		return DBDeps{}, fmt.Errorf("ping MongoDB: %w", err)
	}

	logger.Info("connected to MongoDB",
		zap.String("database", appCfg.MongoDatabase),
		zap.Uint64("max_pool_size", appCfg.MongoMaxPoolSize))

	return DBDeps{
		MongoClient:   client,
		MongoDatabase: client.Database(appCfg.MongoDatabase),
		Runtime:       &Runtime{},
	}, nil
}

// EnsureSchema creates the indexes every store relies on. The unique
// indexes on claims and endorsements are what enforce one active claim per
// claimant and one vote per endorser, so startup fails if they cannot be
// built. JSON-Schema validators are applied afterwards; a server that
// rejects them only costs a warning.
func EnsureSchema(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	db := deps.MongoDatabase
	steps := []struct {
		name   string
		ensure func(context.Context) error
	}{
		{"admin_claims", claimstore.New(db).EnsureIndexes},
		{"claim_endorsements", endorsementstore.New(db).EnsureIndexes},
		{"families", familystore.New(db).EnsureIndexes},
		{"family_memberships", membershipstore.New(db).EnsureIndexes},
		{"audit_events", audit.New(db).EnsureIndexes},
		{"claim_challenges", challenges.New(db, appCfg.Policy.ChallengeTTL, appCfg.Policy.MaxResends).EnsureIndexes},
	}
	for _, s := range steps {
		if err := s.ensure(ctx); err != nil {
			logger.Error("ensure indexes failed", zap.String("collection", s.name), zap.Error(err))
			return fmt.Errorf("ensure %s indexes: %w", s.name, err)
		}
	}
	logger.Info("indexes ensured", zap.Int("collections", len(steps)))

	if err := validators.EnsureAll(ctx, db, logger); err != nil {
		logger.Warn("schema validators not fully applied", zap.Error(err))
	}
	return nil
}
