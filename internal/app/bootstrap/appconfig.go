// internal/app/bootstrap/appconfig.go
package bootstrap

import (
	"time"

	"github.com/dalemusser/familyspace/internal/app/policy/recoverypolicy"
	"github.com/dalemusser/familyspace/internal/app/system/timeouts"
)

// AppConfig holds service-specific configuration for this WAFFLE app.
//
// These values come from environment variables, configuration files, or
// command-line flags (loaded in LoadConfig). They represent *app-level*
// configuration, not WAFFLE core configuration.
//
// WAFFLE's CoreConfig handles framework-level settings like:
//   - HTTP/HTTPS ports and TLS configuration
//   - Logging level and format
//   - CORS settings
//   - Request body size limits
//
// AppConfig carries what is specific to the recovery service: the Mongo
// connection, the shared session cookie, SMTP for challenge mail, and the
// recovery policy.
type AppConfig struct {
	// MongoDB connection configuration
	MongoURI         string // MongoDB connection string (e.g., mongodb://localhost:27017)
	MongoDatabase    string // Database name within MongoDB
	MongoMaxPoolSize uint64
	MongoMinPoolSize uint64

	// Session cookie shared with the main family-space app
	SessionKey    string // Secret key for verifying session cookies
	SessionName   string // Cookie name (default: familyspace-session)
	SessionDomain string // Cookie domain (blank means current host)

	// Email/SMTP configuration for ownership challenges
	MailSMTPHost string
	MailSMTPPort int
	MailSMTPUser string
	MailSMTPPass string
	MailFrom     string
	MailFromName string

	// Base URL for challenge confirmation links
	BaseURL string

	// Audit mirror: "all" (db + zap) or "db"
	AuditLogRecovery string

	// Recovery policy
	Policy recoverypolicy.Policy

	// SweepInterval is how often expired claims are swept. Zero disables
	// the background sweep; expiry still happens lazily on access.
	SweepInterval time.Duration

	// Challenge verify/resend rate limit per caller and claim; the
	// per-IP limit is three times this. Zero disables limiting.
	ChallengeRateLimit  int
	ChallengeRateWindow time.Duration

	Timeouts timeouts.Config

	MetricsEnabled bool
}
