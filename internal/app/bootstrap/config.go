// internal/app/bootstrap/config.go
package bootstrap

import (
	"fmt"
	"time"

	"github.com/dalemusser/familyspace/internal/app/policy/recoverypolicy"
	"github.com/dalemusser/familyspace/internal/app/system/timeouts"
	"github.com/dalemusser/waffle/config"
	wafflemongo "github.com/dalemusser/waffle/pantry/mongo"
	"go.uber.org/zap"
)

// appConfigKeys defines the configuration keys for FamilySpace recovery.
// These are loaded via WAFFLE's config system with support for:
//   - Config files: mongo_uri, recovery_quorum, etc.
//   - Environment variables: FAMILYSPACE_MONGO_URI, FAMILYSPACE_RECOVERY_QUORUM, etc.
//   - Command-line flags: --mongo_uri, --recovery_quorum, etc.
var appConfigKeys = []config.AppKey{
	{Name: "mongo_uri", Default: "mongodb://localhost:27017", Desc: "MongoDB connection URI"},
	{Name: "mongo_database", Default: "familyspace", Desc: "MongoDB database name"},
	{Name: "mongo_max_pool_size", Default: 100, Desc: "MongoDB max connection pool size (default: 100)"},
	{Name: "mongo_min_pool_size", Default: 10, Desc: "MongoDB min connection pool size (default: 10)"},
	{Name: "session_key", Default: "dev-only-change-me-please-0123456789ABCDEF", Desc: "Session signing key shared with the main app"},
	{Name: "session_name", Default: "familyspace-session", Desc: "Session cookie name"},
	{Name: "session_domain", Default: "", Desc: "Session cookie domain (blank means current host)"},

	// Email/SMTP configuration
	{Name: "mail_smtp_host", Default: "localhost", Desc: "SMTP server host"},
	{Name: "mail_smtp_port", Default: 1025, Desc: "SMTP server port"},
	{Name: "mail_smtp_user", Default: "", Desc: "SMTP username"},
	{Name: "mail_smtp_pass", Default: "", Desc: "SMTP password"},
	{Name: "mail_from", Default: "noreply@familyspace.app", Desc: "From email address"},
	{Name: "mail_from_name", Default: "FamilySpace", Desc: "From display name"},

	// Base URL for challenge links
	{Name: "base_url", Default: "http://localhost:3000", Desc: "Base URL of the main app, used in challenge links"},

	// Audit logging
	{Name: "audit_log_recovery", Default: "all", Desc: "Recovery audit mirror: 'all' (db+log) or 'db'; the db trail is always written"},

	// Recovery policy
	{Name: "recovery_quorum", Default: recoverypolicy.DefaultEndorsementsRequired, Desc: "Support endorsements needed to approve a claim"},
	{Name: "recovery_opposition_threshold", Default: recoverypolicy.DefaultOppositionThreshold, Desc: "Oppose votes that deny a claim (at least 1; negative disables)"},
	{Name: "recovery_oppose_outweighs_support", Default: false, Desc: "Deny a claim once oppose votes are at least the support votes"},
	{Name: "recovery_claim_ttl", Default: "168h", Desc: "Absolute deadline of a new claim (e.g., 168h)"},
	{Name: "recovery_cooling_off", Default: "168h", Desc: "Wait between approval and grant"},
	{Name: "recovery_grace_period", Default: "168h", Desc: "Minimum time to grant after cooling-off ends"},
	{Name: "recovery_challenge_ttl", Default: "24h", Desc: "Lifetime of an email challenge token"},
	{Name: "recovery_challenge_max_resends", Default: recoverypolicy.DefaultMaxResends, Desc: "Challenge re-issues allowed per hour (at least 1)"},
	{Name: "recovery_sweep_interval", Default: "15m", Desc: "How often expired claims are swept (0 disables)"},
	{Name: "challenge_rate_limit", Default: 10, Desc: "Verify/resend requests per caller and claim per window (0 disables)"},
	{Name: "challenge_rate_window", Default: "1m", Desc: "Window for challenge_rate_limit"},
	{Name: "recovery_retry_attempts", Default: recoverypolicy.DefaultRetryAttempts, Desc: "Attempts for an operation that hits a transient store error"},

	// Timeouts
	{Name: "timeout_short", Default: "5s", Desc: "Deadline for single-claim reads"},
	{Name: "timeout_medium", Default: "10s", Desc: "Deadline for listings and history"},
	{Name: "timeout_long", Default: "20s", Desc: "Deadline for commands that write a claim"},
	{Name: "timeout_sweep", Default: "60s", Desc: "Deadline for one expiry sweep"},

	{Name: "metrics_enabled", Default: true, Desc: "Serve Prometheus metrics at /metrics"},
}

// LoadConfig loads WAFFLE core config and app-specific config.
//
// WAFFLE's config.LoadWithAppConfig handles:
//   - Loading from .env files
//   - Loading from config.yaml/json/toml files
//   - Reading environment variables (WAFFLE_* for core, FAMILYSPACE_* for app)
//   - Parsing command-line flags
//   - Merging with precedence: flags > env > files > defaults
func LoadConfig(logger *zap.Logger) (*config.CoreConfig, AppConfig, error) {
	coreCfg, appValues, err := config.LoadWithAppConfig(logger, "FAMILYSPACE", appConfigKeys)
	if err != nil {
		return nil, AppConfig{}, err
	}

	appCfg := AppConfig{
		MongoURI:         appValues.String("mongo_uri"),
		MongoDatabase:    appValues.String("mongo_database"),
		MongoMaxPoolSize: uint64(appValues.Int("mongo_max_pool_size")),
		MongoMinPoolSize: uint64(appValues.Int("mongo_min_pool_size")),
		SessionKey:       appValues.String("session_key"),
		SessionName:      appValues.String("session_name"),
		SessionDomain:    appValues.String("session_domain"),

		// Email/SMTP
		MailSMTPHost: appValues.String("mail_smtp_host"),
		MailSMTPPort: appValues.Int("mail_smtp_port"),
		MailSMTPUser: appValues.String("mail_smtp_user"),
		MailSMTPPass: appValues.String("mail_smtp_pass"),
		MailFrom:     appValues.String("mail_from"),
		MailFromName: appValues.String("mail_from_name"),

		BaseURL: appValues.String("base_url"),

		AuditLogRecovery: appValues.String("audit_log_recovery"),

		Policy: recoverypolicy.Policy{
			EndorsementsRequired:   appValues.Int("recovery_quorum"),
			OppositionThreshold:    appValues.Int("recovery_opposition_threshold"),
			OpposeOutweighsSupport: appValues.Bool("recovery_oppose_outweighs_support"),
			ClaimTTL:               appValues.Duration("recovery_claim_ttl", recoverypolicy.DefaultClaimTTL),
			CoolingOff:             appValues.Duration("recovery_cooling_off", recoverypolicy.DefaultCoolingOff),
			GracePeriod:            appValues.Duration("recovery_grace_period", recoverypolicy.DefaultGracePeriod),
			ChallengeTTL:           appValues.Duration("recovery_challenge_ttl", recoverypolicy.DefaultChallengeTTL),
			MaxResends:             appValues.Int("recovery_challenge_max_resends"),
			RetryAttempts:          appValues.Int("recovery_retry_attempts"),
		},
		SweepInterval: appValues.Duration("recovery_sweep_interval", 15*time.Minute),

		ChallengeRateLimit:  appValues.Int("challenge_rate_limit"),
		ChallengeRateWindow: appValues.Duration("challenge_rate_window", time.Minute),

		Timeouts: timeouts.Config{
			Short:  appValues.Duration("timeout_short", timeouts.DefaultShort),
			Medium: appValues.Duration("timeout_medium", timeouts.DefaultMedium),
			Long:   appValues.Duration("timeout_long", timeouts.DefaultLong),
			Sweep:  appValues.Duration("timeout_sweep", timeouts.DefaultSweep),
		},

		MetricsEnabled: appValues.Bool("metrics_enabled"),
	}

	return coreCfg, appCfg, nil
}

// ValidateConfig performs app-specific config validation.
//
// The MongoDB URI is checked before any connection is attempted, and the
// recovery policy is checked with the defaults applied so an unset key
// never fails startup.
func ValidateConfig(coreCfg *config.CoreConfig, appCfg AppConfig, logger *zap.Logger) error {
	if err := wafflemongo.ValidateURI(appCfg.MongoURI); err != nil {
		logger.Error("invalid MongoDB URI", zap.Error(err))
		return fmt.Errorf("invalid MongoDB URI: %w", err)
	}
	if appCfg.MongoDatabase == "" {
		return fmt.Errorf("mongo_database is required")
	}
	if err := validatePolicy(appCfg.Policy); err != nil {
		logger.Error("invalid recovery policy", zap.Error(err))
		return err
	}
	if appCfg.ChallengeRateLimit < 0 {
		return fmt.Errorf("challenge_rate_limit cannot be negative")
	}
	if appCfg.ChallengeRateLimit > 0 && appCfg.ChallengeRateWindow <= 0 {
		return fmt.Errorf("challenge_rate_window must be positive")
	}
	if appCfg.SweepInterval < 0 {
		return fmt.Errorf("recovery_sweep_interval cannot be negative")
	}
	// Claim history is read from the db trail, so it cannot be turned off.
	switch appCfg.AuditLogRecovery {
	case "", "all", "db":
	default:
		return fmt.Errorf("audit_log_recovery must be all or db (got %q)", appCfg.AuditLogRecovery)
	}
	return nil
}

// validatePolicy checks the configured values before defaults are applied,
// so an explicit zero that WithDefaults would quietly replace is reported
// instead.
func validatePolicy(p recoverypolicy.Policy) error {
	switch {
	case p.EndorsementsRequired < 1:
		return fmt.Errorf("recovery_quorum must be at least 1")
	case p.ClaimTTL <= 0:
		return fmt.Errorf("recovery_claim_ttl must be positive")
	case p.CoolingOff <= 0:
		return fmt.Errorf("recovery_cooling_off must be positive")
	case p.GracePeriod <= 0:
		return fmt.Errorf("recovery_grace_period must be positive")
	case p.ChallengeTTL <= 0:
		return fmt.Errorf("recovery_challenge_ttl must be positive")
	case p.OppositionThreshold == 0:
		return fmt.Errorf("recovery_opposition_threshold cannot be 0 (use a negative value to disable)")
	case p.MaxResends < 1:
		return fmt.Errorf("recovery_challenge_max_resends must be at least 1")
	case p.RetryAttempts < 1:
		return fmt.Errorf("recovery_retry_attempts must be at least 1")
	}
	if err := p.WithDefaults().Validate(); err != nil {
		return fmt.Errorf("recovery policy: %w", err)
	}
	return nil
}
