// internal/app/system/mailer/templates.go
package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"
)

// ChallengeEmailData holds data for the ownership challenge email.
type ChallengeEmailData struct {
	SiteName   string
	FamilyName string
	Token      string
	VerifyLink string
	ExpiresIn  string // e.g., "24 hours"
}

// BuildChallengeEmail creates the ownership challenge email with both HTML
// and text bodies.
func BuildChallengeEmail(data ChallengeEmailData) Email {
	return Email{
		To:       "", // Set by caller
		Subject:  fmt.Sprintf("Confirm admin recovery for %s", familyLabel(data)),
		TextBody: buildChallengeText(data),
		HTMLBody: buildChallengeHTML(data),
	}
}

func familyLabel(data ChallengeEmailData) string {
	if data.FamilyName != "" {
		return data.FamilyName
	}
	return "your " + data.SiteName + " family space"
}

func buildChallengeText(data ChallengeEmailData) string {
	var buf bytes.Buffer
	buf.WriteString(fmt.Sprintf("Someone asked to restore admin rights for %s using this email address.\n\n", familyLabel(data)))
	buf.WriteString(fmt.Sprintf("Your confirmation code is: %s\n\n", data.Token))
	if data.VerifyLink != "" {
		buf.WriteString("Or open this link to confirm:\n")
		buf.WriteString(data.VerifyLink + "\n\n")
	}
	buf.WriteString(fmt.Sprintf("This code expires in %s. It can be used once.\n\n", data.ExpiresIn))
	buf.WriteString("If you did not ask for this, ignore this email. No one gets admin rights without this code.\n")
	return buf.String()
}

var challengeHTML = template.Must(template.New("challenge").Parse(challengeHTMLTemplate))

func buildChallengeHTML(data ChallengeEmailData) string {
	var buf bytes.Buffer
	_ = challengeHTML.Execute(&buf, struct {
		ChallengeEmailData
		Label string
	}{data, familyLabel(data)})
	return buf.String()
}

// FormatExpiry renders a token lifetime for humans ("45 minutes", "3 days").
func FormatExpiry(d time.Duration) string {
	switch {
	case d >= 48*time.Hour:
		return fmt.Sprintf("%d days", int(d.Hours()/24))
	case d >= 2*time.Hour:
		return fmt.Sprintf("%d hours", int(d.Hours()))
	case d >= time.Hour:
		return "1 hour"
	case d >= 2*time.Minute:
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	default:
		return "1 minute"
	}
}

const challengeHTMLTemplate = `<!DOCTYPE html>
<html>
<head>
  <meta charset="UTF-8">
  <meta name="viewport" content="width=device-width, initial-scale=1.0">
  <title>Confirm admin recovery</title>
</head>
<body style="margin: 0; padding: 0; font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; background-color: #f3f4f6;">
  <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background-color: #f3f4f6;">
    <tr>
      <td align="center" style="padding: 40px 20px;">
        <table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width: 480px; background-color: #ffffff; border-radius: 8px;">
          <tr>
            <td style="padding: 32px 32px 24px; text-align: center; border-bottom: 1px solid #e5e7eb;">
              <h1 style="margin: 0; font-size: 22px; font-weight: 600; color: #0f766e;">{{.SiteName}}</h1>
            </td>
          </tr>
          <tr>
            <td style="padding: 32px;">
              <p style="margin: 0 0 24px; font-size: 16px; color: #374151; line-height: 1.5;">
                Someone asked to restore admin rights for {{.Label}} using this email address. Your confirmation code is:
              </p>
              <div style="background-color: #f3f4f6; border-radius: 8px; padding: 20px; text-align: center; margin-bottom: 24px;">
                <span style="font-size: 16px; font-weight: 700; color: #1f2937; font-family: 'Courier New', monospace; word-break: break-all;">{{.Token}}</span>
              </div>
              {{if .VerifyLink}}
              <table role="presentation" width="100%" cellspacing="0" cellpadding="0">
                <tr>
                  <td align="center">
                    <a href="{{.VerifyLink}}" style="display: inline-block; padding: 14px 32px; background-color: #0f766e; color: #ffffff; text-decoration: none; font-size: 16px; border-radius: 6px;">Confirm</a>
                  </td>
                </tr>
              </table>
              {{end}}
              <p style="margin: 24px 0 0; font-size: 13px; color: #9ca3af; text-align: center;">
                This code expires in {{.ExpiresIn}} and can be used once.
              </p>
            </td>
          </tr>
          <tr>
            <td style="padding: 24px 32px; background-color: #f9fafb; border-top: 1px solid #e5e7eb; border-radius: 0 0 8px 8px;">
              <p style="margin: 0; font-size: 12px; color: #9ca3af; text-align: center;">
                If you did not ask for this, ignore this email. No one gets admin rights without this code.
              </p>
            </td>
          </tr>
        </table>
      </td>
    </tr>
  </table>
</body>
</html>`
