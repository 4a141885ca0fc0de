package intake

import (
	"fmt"
	"strings"
	"text/template"

	"github.com/datan8/sitepilot/pkg/models"
)

// ticketBodyTemplate is the issue body. The approval token line must stay
// verbatim: resolution finds the ticket by full-text search for the token.
var ticketBodyTemplate = template.Must(template.New("ticket_body").Parse(`## Client Change Request

**Summary:** {{.Summary}}

**Requested by:** {{.Requester}}
**Client account:** {{.AccountID}}
{{if .Website}}**Client website:** {{.Website}}
{{end}}
**Approval Token:** {{.Token}}

### Original request

> {{.Quoted}}

### Instructions for the automation agent

{{.Instructions}}

---
*This issue was created automatically from a client email. It will be
picked up by the automation agent once the client approves the change.*
`))

// bugInstructions and featureInstructions brief the coding agent per
// category once the ticket is approved.
const bugInstructions = `This is a bug report. Reproduce the problem described above on the client's site, identify the cause, and fix it. Keep the change minimal and do not alter unrelated pages. Open a pull request with the fix and a short description of the cause.`

const featureInstructions = `This is a feature request. Implement the change described above on the client's site, following the existing structure and styling of the repository. Open a pull request with the implementation and note any content you had to invent so the client can review it.`

// bodyData feeds ticketBodyTemplate.
type bodyData struct {
	Summary      string
	Requester    string
	AccountID    string
	Website      string
	Token        string
	Quoted       string
	Instructions string
}

// renderTicketBody renders the issue body for one classified request.
func renderTicketBody(request models.RequestCase, verdict models.Verdict, token string) (string, error) {
	instructions := featureInstructions
	if verdict.Category == models.CategoryBug {
		instructions = bugInstructions
	}

	var b strings.Builder
	err := ticketBodyTemplate.Execute(&b, bodyData{
		Summary:      verdict.Summary,
		Requester:    request.RequesterEmail,
		AccountID:    request.AccountID,
		Website:      request.WebsiteURL,
		Token:        token,
		Quoted:       quoteContent(request.Content),
		Instructions: instructions,
	})
	if err != nil {
		return "", fmt.Errorf("failed to render ticket body: %w", err)
	}
	return b.String(), nil
}

// quoteContent turns the raw email into a markdown blockquote.
func quoteContent(content string) string {
	lines := strings.Split(strings.TrimSpace(content), "\n")
	return strings.Join(lines, "\n> ")
}
