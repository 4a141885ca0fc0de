package mailer

import (
	"fmt"
	htmltemplate "html/template"
	"strings"
	texttemplate "text/template"
	"time"

	"github.com/datan8/sitepilot/pkg/models"
)

// approvalTextTemplate is the plain-text approval request body.
var approvalTextTemplate = texttemplate.Must(texttemplate.New("approval_text").Parse(`Confirm Your Website Change Request

Dear Client,

We've analyzed your email and interpreted it as the following:
Summary: {{.Summary}}

To proceed with this change, please click one of the links below:

[APPROVE] {{.ApproveLink}}

[REJECT] {{.RejectLink}}

Approval Token: {{.Token}}

If you have any questions or need to provide additional details, please reply to this email.

Best regards,
Your Website Automation Team

---
This email was automatically generated by the email automation system.
Generated on: {{.GeneratedAt}}
`))

// approvalHTMLTemplate is the HTML approval request body. html/template
// escapes the summary, which is model output and not trusted markup.
var approvalHTMLTemplate = htmltemplate.Must(htmltemplate.New("approval_html").Parse(`<!DOCTYPE html>
<html>
<head>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; }
    .container { max-width: 600px; margin: 0 auto; padding: 20px; }
    .header { background-color: #007bff; color: white; padding: 20px; border-radius: 5px; margin-bottom: 20px; }
    .content { background-color: #f8f9fa; padding: 20px; border-radius: 5px; margin-bottom: 20px; }
    .buttons { margin: 20px 0; text-align: center; }
    .button { display: inline-block; padding: 15px 30px; color: white; text-decoration: none; border-radius: 5px; margin: 0 10px; font-weight: bold; }
    .approve { background-color: #28a745; }
    .reject { background-color: #dc3545; }
    .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #ddd; font-size: 12px; color: #666; }
  </style>
</head>
<body>
  <div class="container">
    <div class="header">
      <h2>Confirm Your Website Change Request</h2>
    </div>
    <div class="content">
      <p>Dear Client,</p>
      <p>We've analyzed your email and interpreted it as the following:</p>
      <p><strong>Summary:</strong> {{.Summary}}</p>
      <p>To proceed with this change, please click one of the links below:</p>
      <div class="buttons">
        <a href="{{.ApproveLink}}" class="button approve">APPROVE</a>
        <a href="{{.RejectLink}}" class="button reject">REJECT</a>
      </div>
      <p><strong>Approval Token:</strong> {{.Token}}</p>
      <p>If you have any questions or need to provide additional details, please reply to this email.</p>
      <p>Best regards,<br>Your Website Automation Team</p>
    </div>
    <div class="footer">
      <p>This email was automatically generated by the email automation system.</p>
      <p>Generated on: {{.GeneratedAt}}</p>
    </div>
  </div>
</body>
</html>`))

// approvalData feeds both approval templates.
type approvalData struct {
	Summary     string
	ApproveLink string
	RejectLink  string
	Token       string
	GeneratedAt string
}

// ApprovalRequest renders the email asking the client to confirm a change
// request. The token appears in the subject and body so the client can
// quote it when replying.
func ApprovalRequest(to, summary, approveLink, rejectLink, token string, now time.Time) (Message, error) {
	data := approvalData{
		Summary:     summary,
		ApproveLink: approveLink,
		RejectLink:  rejectLink,
		Token:       token,
		GeneratedAt: now.UTC().Format("2006-01-02 15:04:05 UTC"),
	}

	var text, html strings.Builder
	if err := approvalTextTemplate.Execute(&text, data); err != nil {
		return Message{}, fmt.Errorf("failed to render approval email text: %w", err)
	}
	if err := approvalHTMLTemplate.Execute(&html, data); err != nil {
		return Message{}, fmt.Errorf("failed to render approval email html: %w", err)
	}

	return Message{
		To:       to,
		Subject:  fmt.Sprintf("Confirm Your Website Change Request - Token: %s", token),
		TextBody: text.String(),
		HTMLBody: html.String(),
	}, nil
}

// summaryTextTemplate is the provisioning summary body sent to the operator
// and the client once all resources exist.
var summaryTextTemplate = texttemplate.Must(texttemplate.New("summary_text").Parse(`Your website infrastructure is ready

Client: {{.ClientKey}}

Repository:      {{.RepositoryURL}}
Test site:       {{.TestSiteURL}}
Production site: {{.ProdSiteURL}}
CDN route:       {{.RouteURL}}

Storage accounts: {{.TestStorageAccount}} (test), {{.ProdStorageAccount}} (production)
Deploy identities: {{.TestAppID}} (test), {{.ProdAppID}} (production)
{{if .Warnings}}
Steps that need manual follow-up:
{{range .Warnings}}  - {{.}}
{{end}}{{end}}
---
This email was automatically generated by the provisioning system.
`))

// ProvisioningSummary renders the final summary notification aggregating
// every resource identifier a provisioning run produced.
func ProvisioningSummary(to string, res models.ProvisionedResources) (Message, error) {
	var text strings.Builder
	if err := summaryTextTemplate.Execute(&text, res); err != nil {
		return Message{}, fmt.Errorf("failed to render provisioning summary: %w", err)
	}

	// The summary has no links to protect, a preformatted HTML body keeps
	// the two parts consistent.
	html := "<pre>" + htmltemplate.HTMLEscapeString(text.String()) + "</pre>"

	return Message{
		To:       to,
		Subject:  fmt.Sprintf("Website infrastructure ready: %s", res.ClientKey),
		TextBody: text.String(),
		HTMLBody: html,
	}, nil
}
