// internal/app/bootstrap/routes.go
package bootstrap

import (
	"errors"
	"net/http"

	healthfeature "github.com/dalemusser/familyspace/internal/app/features/health"
	recoveryfeature "github.com/dalemusser/familyspace/internal/app/features/recovery"
	"github.com/dalemusser/familyspace/internal/app/system/auth"
	"github.com/dalemusser/waffle/config"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// BuildHandler constructs the root HTTP handler (router) for this WAFFLE app.
//
// WAFFLE calls this after configuration, DB connections, schema setup, and
// the Startup hook have completed. The service only reads the session
// cookie minted by the main family-space app; sign-in happens there.
func BuildHandler(coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) (http.Handler, error) {
	if deps.Runtime == nil || deps.Runtime.Recovery == nil {
		return nil, errors.New("build handler: recovery service not initialized")
	}

	// Secure cookies are enabled in production mode.
	secure := coreCfg.Env == "prod"
	if err := auth.InitSessionStore(appCfg.SessionKey, appCfg.SessionName, appCfg.SessionDomain, secure, logger); err != nil {
		logger.Error("session store init failed", zap.Error(err))
		return nil, err
	}

	return newRouter(appCfg, deps, logger), nil
}

func newRouter(appCfg AppConfig, deps DBDeps, logger *zap.Logger) chi.Router {
	r := chi.NewRouter()

	// Loads SessionUser into context if the cookie carries one.
	r.Use(auth.LoadSessionUser)

	// Health check endpoint for load balancers and orchestrators
	healthHandler := healthfeature.NewHandler(deps.MongoClient, deps.Runtime.Txn, logger)
	r.Mount("/health", healthfeature.Routes(healthHandler))

	recoveryHandler := recoveryfeature.NewHandler(deps.Runtime.Recovery, logger)
	recoveryHandler.Limiter = deps.Runtime.Limiter
	r.Mount("/recovery", recoveryfeature.Routes(recoveryHandler))

	if appCfg.MetricsEnabled && deps.Runtime.Registry != nil {
		r.Handle("/metrics", promhttp.HandlerFor(deps.Runtime.Registry, promhttp.HandlerOpts{}))
	}

	return r
}
