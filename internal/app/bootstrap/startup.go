// internal/app/bootstrap/startup.go
package bootstrap

import (
	"context"
	"errors"

	"github.com/dalemusser/familyspace/internal/app/recovery"
	"github.com/dalemusser/familyspace/internal/app/store/audit"
	"github.com/dalemusser/familyspace/internal/app/store/challenges"
	claimstore "github.com/dalemusser/familyspace/internal/app/store/claims"
	endorsementstore "github.com/dalemusser/familyspace/internal/app/store/endorsements"
	familystore "github.com/dalemusser/familyspace/internal/app/store/families"
	membershipstore "github.com/dalemusser/familyspace/internal/app/store/memberships"
	"github.com/dalemusser/familyspace/internal/app/system/auditlog"
	"github.com/dalemusser/familyspace/internal/app/system/mailer"
	"github.com/dalemusser/familyspace/internal/app/system/ratelimit"
	"github.com/dalemusser/familyspace/internal/app/system/timeouts"
	"github.com/dalemusser/familyspace/internal/app/system/txn"
	"github.com/dalemusser/familyspace/internal/app/system/workers"
	"github.com/dalemusser/waffle/config"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"
)

// Startup runs one-time application initialization after DB connections and
// schema setup are complete, but before the HTTP handler is built. It
// builds the recovery service and starts the expiry sweeper.
func Startup(ctx context.Context, coreCfg *config.CoreConfig, appCfg AppConfig, deps DBDeps, logger *zap.Logger) error {
	if deps.Runtime == nil {
		return errors.New("startup: DBDeps has no runtime; ConnectDB must run first")
	}
	timeouts.Configure(appCfg.Timeouts)

	rt, err := buildRuntime(appCfg, deps, logger)
	if err != nil {
		return err
	}
	*deps.Runtime = *rt

	if appCfg.ChallengeRateLimit > 0 {
		deps.Runtime.Limiter = ratelimit.NewChallengeLimiter(appCfg.ChallengeRateLimit, appCfg.ChallengeRateWindow, logger)
	}
	if appCfg.SweepInterval > 0 {
		deps.Runtime.Sweeper = workers.NewClaimSweeper(deps.Runtime.Recovery, logger, appCfg.SweepInterval)
		deps.Runtime.Sweeper.Start()
	} else {
		logger.Info("claim sweeper disabled; claims expire on access only")
	}
	return nil
}

// buildRuntime wires the stores, collaborators and metrics into a recovery
// service. It starts nothing.
func buildRuntime(appCfg AppConfig, deps DBDeps, logger *zap.Logger) (*Runtime, error) {
	db := deps.MongoDatabase
	policy := appCfg.Policy.WithDefaults()

	reg := prometheus.NewRegistry()
	if err := reg.Register(collectors.NewGoCollector()); err != nil {
		return nil, err
	}
	if err := reg.Register(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{})); err != nil {
		return nil, err
	}

	mail := mailer.New(mailer.Config{
		Host:     appCfg.MailSMTPHost,
		Port:     appCfg.MailSMTPPort,
		User:     appCfg.MailSMTPUser,
		Pass:     appCfg.MailSMTPPass,
		From:     appCfg.MailFrom,
		FromName: appCfg.MailFromName,
	}, logger)
	if !mail.Configured() {
		logger.Warn("SMTP host not set; email challenges cannot be delivered")
	}

	auditStore := audit.New(db)
	runner := txn.New(deps.MongoClient, logger)

	svc := recovery.New(recovery.Deps{
		Claims:       claimstore.New(db),
		Endorsements: endorsementstore.New(db),
		Families:     familystore.New(db),
		AuditStore:   auditStore,
		Audit:        auditlog.New(auditStore, logger, auditlog.Config{Recovery: appCfg.AuditLogRecovery}),
		Members:      membershipstore.New(db),
		Challenges:   challenges.New(db, policy.ChallengeTTL, policy.MaxResends),
		Notifier: &mailer.ChallengeNotifier{
			Mailer:   mail,
			SiteName: appCfg.MailFromName,
			BaseURL:  appCfg.BaseURL,
		},
		Txn:     runner,
		Metrics: recovery.NewMetrics(reg),
		Policy:  policy,
		Logger:  logger,
	})

	logger.Info("recovery service ready",
		zap.Int("quorum", policy.EndorsementsRequired),
		zap.Int("opposition_threshold", policy.OppositionThreshold),
		zap.Duration("claim_ttl", policy.ClaimTTL),
		zap.Duration("cooling_off", policy.CoolingOff),
		zap.Duration("grace_period", policy.GracePeriod))

	return &Runtime{
		Recovery: svc,
		Txn:      runner,
		Registry: reg,
	}, nil
}
