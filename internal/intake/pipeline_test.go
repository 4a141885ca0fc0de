package intake

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datan8/sitepilot/internal/approval"
	"github.com/datan8/sitepilot/internal/classify"
	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/crm"
	"github.com/datan8/sitepilot/internal/mailer"
	"github.com/datan8/sitepilot/pkg/models"
)

type fakeClassifier struct {
	verdict models.Verdict
	err     error
}

func (f *fakeClassifier) Classify(ctx context.Context, content string) (models.Verdict, error) {
	return f.verdict, f.err
}

type fakeContacts struct {
	contact *crm.Contact
	err     error
	calls   int
}

func (f *fakeContacts) LookupContact(ctx context.Context, email string) (*crm.Contact, error) {
	f.calls++
	return f.contact, f.err
}

type fakeTickets struct {
	created []createdTicket
	err     error
}

type createdTicket struct {
	repository string
	title      string
	body       string
	labels     []string
}

func (f *fakeTickets) Create(ctx context.Context, repository, title, body string, labels []string) (models.Ticket, error) {
	if f.err != nil {
		return models.Ticket{}, f.err
	}
	f.created = append(f.created, createdTicket{repository, title, body, labels})
	return models.Ticket{Number: 7, Title: title, State: "open", Labels: labels}, nil
}

type fakeMail struct {
	sent []mailer.Message
	err  error
}

func (f *fakeMail) Send(msg mailer.Message) error {
	if f.err != nil {
		return f.err
	}
	f.sent = append(f.sent, msg)
	return nil
}

func testPipeline(verdict models.Verdict, contact *crm.Contact) (*Pipeline, *fakeContacts, *fakeTickets, *fakeMail) {
	contacts := &fakeContacts{contact: contact}
	store := &fakeTickets{}
	mail := &fakeMail{}
	p := &Pipeline{
		cfg: &config.Config{
			Approval: config.ApprovalConfig{BaseURL: "https://approvals.datan8.example"},
		},
		classify: &fakeClassifier{verdict: verdict},
		contacts: contacts,
		tickets:  store,
		mail:     mail,
		now:      func() time.Time { return time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC) },
	}
	return p, contacts, store, mail
}

func TestProcessBugReport(t *testing.T) {
	contact := &crm.Contact{
		ID:    "acct-42",
		Email: "owner@acmeplumbing.co.nz",
		CustomFields: []crm.CustomField{
			{Name: "Website URL", Value: "https://www.acmeplumbing.co.nz"},
		},
	}
	verdict := models.Verdict{
		Category: models.CategoryBug,
		Summary:  "Contact page returns 404 error when refreshed",
	}
	p, _, store, mail := testPipeline(verdict, contact)

	result, err := p.Process(context.Background(),
		"owner@acmeplumbing.co.nz",
		"Website problem",
		"Hi, when I refresh the contact page on our site it shows a 404 error. Can you fix it?")
	require.NoError(t, err)

	assert.Equal(t, "acmeplumbing-co-nz", result.Repository)
	assert.True(t, approval.ValidToken(result.Token))
	assert.Equal(t, 7, result.Ticket.Number)

	require.Len(t, store.created, 1)
	created := store.created[0]
	assert.Equal(t, "acmeplumbing-co-nz", created.repository)
	assert.Equal(t, "Bug: Contact page returns 404 error when refreshed", created.title)
	assert.Contains(t, created.body, result.Token)
	assert.Contains(t, created.body, "acct-42")
	assert.Contains(t, created.body, "https://www.acmeplumbing.co.nz")
	assert.Contains(t, created.body, "bug report")
	assert.Contains(t, created.labels, "bug")
	assert.Contains(t, created.labels, "automation")

	require.Len(t, mail.sent, 1)
	msg := mail.sent[0]
	assert.Equal(t, "owner@acmeplumbing.co.nz", msg.To)
	assert.Contains(t, msg.Subject, result.Token)
	assert.Contains(t, msg.TextBody, "response=approve")
	assert.Contains(t, msg.TextBody, "response=reject")
	assert.Contains(t, msg.TextBody, "repo=acmeplumbing-co-nz")
}

func TestProcessFeatureWithoutWebsiteFallsBackToAccountRepo(t *testing.T) {
	contact := &crm.Contact{ID: "acct-9", Email: "info@newclient.example"}
	verdict := models.Verdict{
		Category: models.CategoryFeature,
		Summary:  "Add dark mode toggle to navigation menu",
	}
	p, _, store, _ := testPipeline(verdict, contact)

	result, err := p.Process(context.Background(),
		"info@newclient.example",
		"Idea for the site",
		"Could we get a dark mode option in the menu?")
	require.NoError(t, err)

	assert.Equal(t, "client-acct-9", result.Repository)
	require.Len(t, store.created, 1)
	assert.Equal(t, "Feature: Add dark mode toggle to navigation menu", store.created[0].title)
	assert.Contains(t, store.created[0].labels, "enhancement")
	assert.Contains(t, store.created[0].body, "feature request")
}

func TestProcessNeitherHasZeroSideEffects(t *testing.T) {
	p, contacts, store, mail := testPipeline(
		models.Verdict{Category: models.CategoryNeither}, nil)

	result, err := p.Process(context.Background(),
		"someone@example.com", "Thanks!", "Just wanted to say the new site looks great.")
	require.NoError(t, err)

	assert.Equal(t, models.CategoryNeither, result.Verdict.Category)
	assert.Empty(t, result.Token)
	assert.Zero(t, contacts.calls, "CRM must not be consulted")
	assert.Empty(t, store.created)
	assert.Empty(t, mail.sent)
}

func TestProcessStopsWhenClassifierUnavailable(t *testing.T) {
	p, contacts, store, _ := testPipeline(models.Verdict{}, nil)
	p.classify = &fakeClassifier{err: classify.ErrUnavailable}

	_, err := p.Process(context.Background(), "a@b.c", "subject", "body")
	require.ErrorIs(t, err, classify.ErrUnavailable)
	assert.Zero(t, contacts.calls)
	assert.Empty(t, store.created)
}

func TestProcessFailsWithoutContact(t *testing.T) {
	p, _, store, mail := testPipeline(
		models.Verdict{Category: models.CategoryBug, Summary: "broken"}, nil)

	_, err := p.Process(context.Background(), "stranger@example.com", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no CRM contact")
	assert.Empty(t, store.created)
	assert.Empty(t, mail.sent)
}

func TestProcessReportsTicketWhenMailFails(t *testing.T) {
	contact := &crm.Contact{ID: "acct-1", Website: "shop.example"}
	p, _, store, mail := testPipeline(
		models.Verdict{Category: models.CategoryBug, Summary: "broken"}, contact)
	mail.err = errors.New("sendgrid down")

	result, err := p.Process(context.Background(), "o@shop.example", "s", "b")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "approval email failed")

	// The ticket exists; its coordinates must survive the error.
	require.Len(t, store.created, 1)
	assert.Equal(t, 7, result.Ticket.Number)
	assert.NotEmpty(t, result.Token)
}

func TestDeriveRepository(t *testing.T) {
	tests := []struct {
		name     string
		website  string
		account  string
		expected string
	}{
		{
			name:     "full url with www",
			website:  "https://www.acmeplumbing.co.nz",
			account:  "a1",
			expected: "acmeplumbing-co-nz",
		},
		{
			name:     "bare domain",
			website:  "shop.example.com",
			account:  "a1",
			expected: "shop-example-com",
		},
		{
			name:     "trailing path ignored",
			website:  "https://widgets.example/about",
			account:  "a1",
			expected: "widgets-example",
		},
		{
			name:     "no website falls back to account",
			website:  "",
			account:  "acct-9",
			expected: "client-acct-9",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DeriveRepository(tt.website, tt.account))
		})
	}
}
