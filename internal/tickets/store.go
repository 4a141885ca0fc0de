// Package tickets provides the system-of-record adapter: issues in the
// GitHub tracker carry the workflow state for every client change request.
package tickets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v41/github"

	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/ghapi"
	"github.com/datan8/sitepilot/internal/logging"
	"github.com/datan8/sitepilot/pkg/models"
)

// Labels applied at creation; the category label (bug/enhancement) is added
// per verdict.
const (
	LabelAutomation    = "automation"
	LabelClientRequest = "client-request"
	LabelAutoGenerated = "auto-generated"

	// LabelApproved and LabelAutomationReady move a ticket into the state
	// the downstream coding agent's filter picks up.
	LabelApproved        = "approved"
	LabelAutomationReady = "automation-ready"

	// LabelRejected and LabelNeedsClarification mark a declined request.
	LabelRejected           = "rejected"
	LabelNeedsClarification = "needs-clarification"
)

// agentMention is the account the trigger comment addresses; the coding
// agent's GitHub app reacts to being mentioned on a labelled issue.
const agentMention = "@amazon-q"

// ErrAlreadyDecided reports that the requested decision was applied
// before. The caller treats it as a no-op, not a failure: a client clicking
// the approve link twice must not produce a second trigger comment.
var ErrAlreadyDecided = errors.New("decision already applied to ticket")

// PartialUpdateError reports that a decision was half-applied: the first
// backing call succeeded and the second failed. The ticket is recoverable
// but needs an operator retry, so this is surfaced loudly rather than
// swallowed.
type PartialUpdateError struct {
	Repository string
	Number     int
	Applied    string
	Err        error
}

func (e *PartialUpdateError) Error() string {
	return fmt.Sprintf("ticket %s#%d partially updated (%s applied): %v",
		e.Repository, e.Number, e.Applied, e.Err)
}

func (e *PartialUpdateError) Unwrap() error { return e.Err }

// Client encapsulates the GitHub issue operations for one organization.
type Client struct {
	client *github.Client
	org    string
}

// NewClient creates a ticket store client from the given configuration.
// It constructs the API base URL from the configured domain and verifies
// the token with a short authenticated call.
func NewClient(cfg config.GitHubConfig) (*Client, error) {
	if cfg.Org == "" {
		return nil, fmt.Errorf("github organization not found in configuration")
	}

	client, err := ghapi.New(cfg)
	if err != nil {
		return nil, err
	}

	// Test the token
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	user, _, err := client.Users.Get(ctx, "")
	if err != nil {
		logging.Error("failed to test github token", "error", err)
		return nil, fmt.Errorf("error testing github token: %w", err)
	}

	logging.Info("github authentication successful",
		"username", user.GetLogin(),
		"org", cfg.Org)

	return &Client{client: client, org: cfg.Org}, nil
}

// Org returns the organization this client operates in.
func (c *Client) Org() string { return c.org }

// Create opens a new ticket with its labels set atomically at creation.
// Callers must not retry a failed create blindly: the GitHub API gives no
// idempotency key for issues, so a retry after an ambiguous failure can
// produce duplicates. Search first instead.
func (c *Client) Create(ctx context.Context, repository, title, body string, labels []string) (models.Ticket, error) {
	issue, _, err := c.client.Issues.Create(ctx, c.org, repository, &github.IssueRequest{
		Title:  github.String(title),
		Body:   github.String(body),
		Labels: &labels,
	})
	if err != nil {
		logging.Error("failed to create ticket",
			"repository", repository,
			"title", title,
			"error", err)
		return models.Ticket{}, fmt.Errorf("failed to create ticket in %s/%s: %w", c.org, repository, err)
	}

	ticket := toTicket(issue)
	logging.Info("ticket created",
		"repository", repository,
		"number", ticket.Number,
		"url", ticket.URL,
		"labels", labels)
	return ticket, nil
}

// FindOpenByToken runs a full-text search for the approval token, scoped to
// open issues in the given repository. It returns every hit; interpreting
// zero or multiple hits is the resolver's job.
func (c *Client) FindOpenByToken(ctx context.Context, repository, token string) ([]models.Ticket, error) {
	query := fmt.Sprintf("%q in:body is:issue state:open repo:%s/%s", token, c.org, repository)

	result, _, err := c.client.Search.Issues(ctx, query, &github.SearchOptions{
		ListOptions: github.ListOptions{PerPage: 10},
	})
	if err != nil {
		logging.Error("token search failed",
			"repository", repository,
			"error", err)
		return nil, fmt.Errorf("failed to search for approval token: %w", err)
	}

	var hits []models.Ticket
	for _, issue := range result.Issues {
		// The search index can match the token in a PR body too.
		if issue.PullRequestLinks != nil {
			continue
		}
		hits = append(hits, toTicket(issue))
	}

	logging.Debug("token search completed",
		"repository", repository,
		"hits", len(hits))
	return hits, nil
}

// Get retrieves a single ticket.
func (c *Client) Get(ctx context.Context, repository string, number int) (models.Ticket, error) {
	issue, _, err := c.client.Issues.Get(ctx, c.org, repository, number)
	if err != nil {
		return models.Ticket{}, fmt.Errorf("failed to get ticket %s#%d: %w", repository, number, err)
	}
	return toTicket(issue), nil
}

// ApplyDecision applies a client's approve/reject decision to a ticket.
//
// Approve posts the automation trigger comment, then adds the approved
// labels. Reject adds the rejection labels, then closes the ticket. Each
// decision needs two sequential calls; when the second fails after the
// first succeeded the ticket is left recoverable and a PartialUpdateError
// is returned for an operator to follow up on.
//
// Applying the same decision twice returns ErrAlreadyDecided with no
// mutation, keeping the approval endpoint idempotent.
func (c *Client) ApplyDecision(ctx context.Context, repository string, number int, decision models.Decision) error {
	ticket, err := c.Get(ctx, repository, number)
	if err != nil {
		return err
	}

	switch decision {
	case models.DecisionApproved:
		return c.approve(ctx, repository, ticket)
	case models.DecisionRejected:
		return c.reject(ctx, repository, ticket)
	default:
		return fmt.Errorf("unknown decision: %q", decision)
	}
}

func (c *Client) approve(ctx context.Context, repository string, ticket models.Ticket) error {
	if ticket.HasLabel(LabelApproved) {
		logging.Info("ticket already approved, skipping",
			"repository", repository,
			"number", ticket.Number)
		return fmt.Errorf("%w: %s#%d already approved", ErrAlreadyDecided, repository, ticket.Number)
	}
	if ticket.State == "closed" {
		return fmt.Errorf("%w: %s#%d is closed", ErrAlreadyDecided, repository, ticket.Number)
	}

	comment := approvalComment(repository)
	_, _, err := c.client.Issues.CreateComment(ctx, c.org, repository, ticket.Number, &github.IssueComment{
		Body: github.String(comment),
	})
	if err != nil {
		return fmt.Errorf("failed to post trigger comment on %s#%d: %w", repository, ticket.Number, err)
	}

	_, _, err = c.client.Issues.AddLabelsToIssue(ctx, c.org, repository, ticket.Number,
		[]string{LabelApproved, LabelAutomationReady})
	if err != nil {
		logging.Error("approval labels failed after trigger comment was posted",
			"repository", repository,
			"number", ticket.Number,
			"error", err)
		return &PartialUpdateError{
			Repository: repository,
			Number:     ticket.Number,
			Applied:    "trigger comment",
			Err:        err,
		}
	}

	logging.Info("ticket approved",
		"repository", repository,
		"number", ticket.Number)
	return nil
}

func (c *Client) reject(ctx context.Context, repository string, ticket models.Ticket) error {
	if ticket.State == "closed" || ticket.HasLabel(LabelRejected) {
		logging.Info("ticket already rejected, skipping",
			"repository", repository,
			"number", ticket.Number)
		return fmt.Errorf("%w: %s#%d already rejected", ErrAlreadyDecided, repository, ticket.Number)
	}

	_, _, err := c.client.Issues.AddLabelsToIssue(ctx, c.org, repository, ticket.Number,
		[]string{LabelRejected, LabelNeedsClarification})
	if err != nil {
		return fmt.Errorf("failed to add rejection labels to %s#%d: %w", repository, ticket.Number, err)
	}

	_, _, err = c.client.Issues.Edit(ctx, c.org, repository, ticket.Number, &github.IssueRequest{
		State: github.String("closed"),
	})
	if err != nil {
		logging.Error("close failed after rejection labels were added",
			"repository", repository,
			"number", ticket.Number,
			"error", err)
		return &PartialUpdateError{
			Repository: repository,
			Number:     ticket.Number,
			Applied:    "rejection labels",
			Err:        err,
		}
	}

	logging.Info("ticket rejected and closed",
		"repository", repository,
		"number", ticket.Number)
	return nil
}

// ListComments returns the comments on a ticket in creation order.
func (c *Client) ListComments(ctx context.Context, repository string, number int) ([]Comment, error) {
	var all []Comment
	opts := &github.IssueListCommentsOptions{
		ListOptions: github.ListOptions{PerPage: 100},
	}
	for {
		comments, resp, err := c.client.Issues.ListComments(ctx, c.org, repository, number, opts)
		if err != nil {
			return nil, fmt.Errorf("failed to list comments on %s#%d: %w", repository, number, err)
		}
		for _, comment := range comments {
			all = append(all, Comment{
				Author:    comment.GetUser().GetLogin(),
				Body:      comment.GetBody(),
				CreatedAt: comment.GetCreatedAt(),
			})
		}
		if resp.NextPage == 0 {
			break
		}
		opts.Page = resp.NextPage
	}
	return all, nil
}

// Comment is one issue comment, reduced to the fields the status report uses.
type Comment struct {
	Author    string
	Body      string
	CreatedAt time.Time
}

// CategoryLabel maps a verdict category onto the tracker's label
// vocabulary: bugs keep the "bug" label, features use GitHub's conventional
// "enhancement".
func CategoryLabel(category models.Category) string {
	if category == models.CategoryFeature {
		return "enhancement"
	}
	return string(category)
}

// CreationLabels is the label set every new ticket starts with.
func CreationLabels(category models.Category) []string {
	return []string{LabelAutomation, LabelClientRequest, LabelAutoGenerated, CategoryLabel(category)}
}

// approvalComment renders the automation trigger comment. The agent
// mention must be in the comment body, not just a label: the agent's app
// subscribes to mentions.
func approvalComment(repository string) string {
	var b strings.Builder
	b.WriteString("✅ **Client Approval Received**\n\n")
	b.WriteString(agentMention)
	b.WriteString(" please help with this issue.\n\n")
	b.WriteString("## Problem Summary\n")
	b.WriteString("This issue has been approved by the client and is ready for AI implementation.\n\n")
	b.WriteString("## Expected Solution\n")
	b.WriteString("Please analyze the issue description and implement the appropriate solution, then open a pull request.\n\n")
	b.WriteString(fmt.Sprintf("Repository: %s\n\n", repository))
	b.WriteString("Next steps:\n")
	b.WriteString("- [x] Client approval received\n")
	b.WriteString("- [ ] Code analysis completed\n")
	b.WriteString("- [ ] Solution implemented\n")
	b.WriteString("- [ ] Testing completed\n")
	b.WriteString("- [ ] Deployed to production\n")
	return b.String()
}

// toTicket converts a GitHub issue to the internal model.
func toTicket(issue *github.Issue) models.Ticket {
	labelNames := make([]string, 0, len(issue.Labels))
	for _, label := range issue.Labels {
		labelNames = append(labelNames, label.GetName())
	}

	return models.Ticket{
		Number:    issue.GetNumber(),
		Title:     issue.GetTitle(),
		URL:       issue.GetHTMLURL(),
		State:     issue.GetState(),
		Labels:    labelNames,
		CreatedAt: issue.GetCreatedAt(),
		Comments:  issue.GetComments(),
	}
}
