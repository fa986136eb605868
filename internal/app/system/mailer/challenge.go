package mailer

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// ChallengeNotifier delivers ownership challenge tokens by email.
type ChallengeNotifier struct {
	Mailer   *Mailer
	SiteName string
	BaseURL  string
}

// SendChallenge emails token to the claimed owner address. ttl is how long
// the token stays valid. The link opens the confirmation page of the main
// family-space app, which posts the token back to this service.
func (n *ChallengeNotifier) SendChallenge(ctx context.Context, to, familyName, claimID, token string, ttl time.Duration) error {
	siteName := n.SiteName
	if siteName == "" {
		siteName = "FamilySpace"
	}
	msg := BuildChallengeEmail(ChallengeEmailData{
		SiteName:   siteName,
		FamilyName: familyName,
		Token:      token,
		VerifyLink: n.verifyLink(claimID, token),
		ExpiresIn:  FormatExpiry(ttl),
	})
	msg.To = to
	return n.Mailer.SendContext(ctx, msg)
}

func (n *ChallengeNotifier) verifyLink(claimID, token string) string {
	if n.BaseURL == "" {
		return ""
	}
	return fmt.Sprintf("%s/recovery/confirm?claim=%s&token=%s",
		strings.TrimRight(n.BaseURL, "/"), url.QueryEscape(claimID), url.QueryEscape(token))
}
