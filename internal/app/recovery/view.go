package recovery

import (
	"strings"
	"time"

	"github.com/dalemusser/familyspace/internal/domain/models"
)

// MetaChallengeEmail is the claim metadata key holding the address a
// challenge is sent to.
const MetaChallengeEmail = "challenge_email"

// ClaimView is a claim plus the values derived from it at read time.
type ClaimView struct {
	models.AdminClaim

	Grantable                  bool          `json:"grantable"`
	PastDeadline               bool          `json:"past_deadline"`
	CoolingOffRemaining        time.Duration `json:"-"`
	CoolingOffRemainingSeconds int64         `json:"cooling_off_remaining_seconds"`
	EndorsementsNeeded         int           `json:"endorsements_needed"`
}

// NewView derives a ClaimView at now. The challenge address is masked.
func NewView(c models.AdminClaim, now time.Time) ClaimView {
	if email, ok := c.Metadata[MetaChallengeEmail]; ok {
		meta := make(map[string]string, len(c.Metadata))
		for k, v := range c.Metadata {
			meta[k] = v
		}
		meta[MetaChallengeEmail] = maskEmail(email)
		c.Metadata = meta
	}

	v := ClaimView{
		AdminClaim:          c,
		Grantable:           c.Grantable(now),
		PastDeadline:        c.Status.Active() && c.PastDeadline(now),
		CoolingOffRemaining: c.CoolingOffRemaining(now),
	}
	v.CoolingOffRemainingSeconds = int64(v.CoolingOffRemaining / time.Second)
	if c.Status == models.ClaimPending && c.ClaimType == models.ClaimTypeEndorsement {
		if n := c.EndorsementsRequired - c.EndorsementsReceived; n > 0 {
			v.EndorsementsNeeded = n
		}
	}
	return v
}

func (s *Service) view(c models.AdminClaim) ClaimView {
	return NewView(c, s.clock())
}

// maskEmail keeps the first character of the local part and the domain.
func maskEmail(email string) string {
	at := strings.LastIndex(email, "@")
	if at <= 0 {
		return "***"
	}
	return email[:1] + strings.Repeat("*", at-1) + email[at:]
}
