// internal/app/bootstrap/dbdeps.go
package bootstrap

import (
	"github.com/dalemusser/familyspace/internal/app/recovery"
	"github.com/dalemusser/familyspace/internal/app/system/ratelimit"
	"github.com/dalemusser/familyspace/internal/app/system/txn"
	"github.com/dalemusser/familyspace/internal/app/system/workers"
	"github.com/prometheus/client_golang/prometheus"
	"go.mongodb.org/mongo-driver/mongo"
)

// DBDeps holds database/back-end dependencies for the app.
//
// WAFFLE passes DBDeps by value to every hook after ConnectDB, so the
// services built in Startup live behind the Runtime pointer.
type DBDeps struct {
	MongoClient   *mongo.Client
	MongoDatabase *mongo.Database

	Runtime *Runtime
}

// Runtime holds the services built in Startup.
type Runtime struct {
	Recovery *recovery.Service
	Txn      *txn.Runner
	Sweeper  *workers.ClaimSweeper
	Limiter  *ratelimit.ChallengeLimiter
	Registry *prometheus.Registry
}
