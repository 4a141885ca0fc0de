// Package intake turns one inbound client email into an approval-gated
// change ticket: classify, resolve the client in the CRM, open the ticket
// with an embedded approval token and mail the decision links.
package intake

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/datan8/sitepilot/internal/approval"
	"github.com/datan8/sitepilot/internal/classify"
	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/crm"
	"github.com/datan8/sitepilot/internal/logging"
	"github.com/datan8/sitepilot/internal/mailer"
	"github.com/datan8/sitepilot/internal/tickets"
	"github.com/datan8/sitepilot/pkg/models"
)

// classifier labels free-text content.
type classifier interface {
	Classify(ctx context.Context, content string) (models.Verdict, error)
}

// contactDirectory resolves a requester to a CRM contact.
type contactDirectory interface {
	LookupContact(ctx context.Context, email string) (*crm.Contact, error)
}

// ticketCreator opens change tickets.
type ticketCreator interface {
	Create(ctx context.Context, repository, title, body string, labels []string) (models.Ticket, error)
}

// mailSender delivers the approval request.
type mailSender interface {
	Send(msg mailer.Message) error
}

// Pipeline processes inbound emails end to end.
type Pipeline struct {
	cfg      *config.Config
	classify classifier
	contacts contactDirectory
	tickets  ticketCreator
	mail     mailSender
	now      func() time.Time
}

// NewPipeline wires the pipeline with live service clients.
func NewPipeline(cfg *config.Config) (*Pipeline, error) {
	store, err := tickets.NewClient(cfg.GitHub)
	if err != nil {
		return nil, err
	}
	return &Pipeline{
		cfg:      cfg,
		classify: classify.NewClassifier(cfg.OpenAI),
		contacts: crm.NewClient(cfg.CRM),
		tickets:  store,
		mail:     mailer.NewMailer(cfg.SendGrid),
		now:      time.Now,
	}, nil
}

// Result reports what one intake run produced. Ticket and Token are zero
// when the verdict was not actionable.
type Result struct {
	Verdict    models.Verdict
	Repository string
	Token      string
	Ticket     models.Ticket
}

// Process runs the pipeline for one inbound email. A verdict of neither
// short-circuits with zero side effects. A requester without a CRM contact
// fails the intake: tickets must target a known client repository.
func (p *Pipeline) Process(ctx context.Context, from, subject, body string) (Result, error) {
	verdict, err := p.classify.Classify(ctx, body)
	if err != nil {
		return Result{}, err
	}
	if !verdict.Actionable() {
		logging.Info("email is not a change request, stopping", "from", from)
		return Result{Verdict: verdict}, nil
	}

	contact, err := p.contacts.LookupContact(ctx, from)
	if err != nil {
		return Result{Verdict: verdict}, fmt.Errorf("failed to resolve requester %s: %w", from, err)
	}
	if contact == nil {
		return Result{Verdict: verdict}, fmt.Errorf("no CRM contact for requester %s", from)
	}

	request := models.RequestCase{
		RequesterEmail: from,
		Subject:        subject,
		Content:        body,
		AccountID:      contact.ID,
		WebsiteURL:     contact.WebsiteURL(),
	}
	request.Repository = DeriveRepository(request.WebsiteURL, request.AccountID)

	token := approval.IssueToken(p.now())

	ticketBody, err := renderTicketBody(request, verdict, token)
	if err != nil {
		return Result{Verdict: verdict}, err
	}

	ticket, err := p.tickets.Create(ctx, request.Repository,
		ticketTitle(verdict), ticketBody, tickets.CreationLabels(verdict.Category))
	if err != nil {
		return Result{Verdict: verdict}, err
	}

	approveLink := p.decisionLink(token, request.Repository, "approve")
	rejectLink := p.decisionLink(token, request.Repository, "reject")
	msg, err := mailer.ApprovalRequest(from, verdict.Summary, approveLink, rejectLink, token, p.now())
	if err != nil {
		return Result{Verdict: verdict}, err
	}
	if err := p.mail.Send(msg); err != nil {
		// The ticket exists; the caller gets its coordinates along with
		// the delivery failure so the link can be resent by hand.
		return Result{Verdict: verdict, Repository: request.Repository, Token: token, Ticket: ticket},
			fmt.Errorf("ticket %s#%d created but approval email failed: %w",
				request.Repository, ticket.Number, err)
	}

	logging.Info("intake complete",
		"repository", request.Repository,
		"ticket", ticket.Number,
		"category", verdict.Category)
	return Result{
		Verdict:    verdict,
		Repository: request.Repository,
		Token:      token,
		Ticket:     ticket,
	}, nil
}

// decisionLink builds one approve/reject URL for the approval endpoint.
func (p *Pipeline) decisionLink(token, repository, response string) string {
	q := url.Values{}
	q.Set("token", token)
	q.Set("repo", repository)
	q.Set("response", response)
	return strings.TrimSuffix(p.cfg.Approval.BaseURL, "/") + "/approval?" + q.Encode()
}

// DeriveRepository maps a client website to its repository name: the host
// without the www prefix, dots replaced with dashes. A client without a
// website falls back to client-<account id>.
func DeriveRepository(websiteURL, accountID string) string {
	host := websiteHost(websiteURL)
	if host == "" {
		return "client-" + accountID
	}
	return strings.ReplaceAll(host, ".", "-")
}

// websiteHost extracts the bare hostname, tolerating scheme-less values.
func websiteHost(raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	if !strings.Contains(raw, "://") {
		raw = "https://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil || u.Hostname() == "" {
		return ""
	}
	return strings.TrimPrefix(strings.ToLower(u.Hostname()), "www.")
}

// ticketTitle renders the issue title from the verdict.
func ticketTitle(verdict models.Verdict) string {
	switch verdict.Category {
	case models.CategoryBug:
		return "Bug: " + verdict.Summary
	default:
		return "Feature: " + verdict.Summary
	}
}
