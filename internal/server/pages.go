package server

import (
	htmltemplate "html/template"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/datan8/sitepilot/pkg/models"
)

// genericFailure is the only message a backend problem shows the client.
const genericFailure = "Something went wrong while recording your response. Please try again later or reply to the original email."

var pageTemplate = htmltemplate.Must(htmltemplate.New("page").Parse(`<!DOCTYPE html>
<html>
<head>
  <title>{{.Title}}</title>
  <style>
    body { font-family: Arial, sans-serif; line-height: 1.6; color: #333; background-color: #f8f9fa; }
    .card { max-width: 520px; margin: 60px auto; padding: 30px; background: white; border-radius: 8px; box-shadow: 0 1px 4px rgba(0,0,0,0.1); }
    h1 { font-size: 22px; margin-top: 0; }
    .approved h1 { color: #28a745; }
    .rejected h1 { color: #dc3545; }
    .error h1 { color: #6c757d; }
  </style>
</head>
<body>
  <div class="card {{.Class}}">
    <h1>{{.Title}}</h1>
    <p>{{.Message}}</p>
    {{if .Detail}}<p>{{.Detail}}</p>{{end}}
  </div>
</body>
</html>`))

// pageData feeds pageTemplate.
type pageData struct {
	Title   string
	Class   string
	Message string
	Detail  string
}

// renderConfirmation renders the post-decision page. Repeated clicks on the
// same link land here too, so the wording never implies this click caused
// the change.
func renderConfirmation(c *fiber.Ctx, decision models.Decision, ticket models.Ticket) error {
	var data pageData
	switch decision {
	case models.DecisionApproved:
		data = pageData{
			Title:   "Change Request Approved",
			Class:   "approved",
			Message: "Thank you! Your change request has been approved and our automation will start working on it.",
			Detail:  "Reference: " + ticket.Title,
		}
	default:
		data = pageData{
			Title:   "Change Request Rejected",
			Class:   "rejected",
			Message: "Thank you. The change request has been closed and will not be actioned. If this was a mistake, just reply to the original email.",
			Detail:  "Reference: " + ticket.Title,
		}
	}
	return renderPage(c, fiber.StatusOK, data)
}

// renderError renders a non-confirmation page with the given status.
func renderError(c *fiber.Ctx, status int, message string) error {
	title := "Unable to Process This Link"
	if status == fiber.StatusInternalServerError {
		title = "Something Went Wrong"
	}
	return renderPage(c, status, pageData{
		Title:   title,
		Class:   "error",
		Message: message,
	})
}

func renderPage(c *fiber.Ctx, status int, data pageData) error {
	var b strings.Builder
	if err := pageTemplate.Execute(&b, data); err != nil {
		return fiber.NewError(fiber.StatusInternalServerError, "page rendering failed")
	}
	c.Set(fiber.HeaderContentType, fiber.MIMETextHTMLCharsetUTF8)
	return c.Status(status).SendString(b.String())
}
