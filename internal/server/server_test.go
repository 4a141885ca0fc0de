package server

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datan8/sitepilot/internal/tickets"
	"github.com/datan8/sitepilot/pkg/models"
)

const testToken = "APPR-20250314093000-1a2b3c4d"

type fakeStore struct {
	hits      []models.Ticket
	findErr   error
	applyErr  error
	decisions []appliedDecision
}

type appliedDecision struct {
	repository string
	number     int
	decision   models.Decision
}

func (f *fakeStore) FindOpenByToken(ctx context.Context, repository, token string) ([]models.Ticket, error) {
	return f.hits, f.findErr
}

func (f *fakeStore) ApplyDecision(ctx context.Context, repository string, number int, decision models.Decision) error {
	if f.applyErr != nil {
		return f.applyErr
	}
	f.decisions = append(f.decisions, appliedDecision{repository, number, decision})
	return nil
}

func request(t *testing.T, store *fakeStore, token, repo, response string) (*http.Response, string) {
	t.Helper()
	s := newServer(store, 0)

	q := url.Values{}
	if token != "" {
		q.Set("token", token)
	}
	if repo != "" {
		q.Set("repo", repo)
	}
	if response != "" {
		q.Set("response", response)
	}

	req := httptest.NewRequest(http.MethodGet, "/approval?"+q.Encode(), nil)
	resp, err := s.app.Test(req)
	require.NoError(t, err)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func openTicket() models.Ticket {
	return models.Ticket{
		Number: 12,
		Title:  "Bug: Contact page returns 404",
		State:  "open",
		Labels: []string{"automation", "bug"},
	}
}

func TestApproveAppliesDecision(t *testing.T) {
	store := &fakeStore{hits: []models.Ticket{openTicket()}}

	resp, body := request(t, store, testToken, "acmeplumbing-co-nz", "approve")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Approved")
	assert.Contains(t, body, "Contact page returns 404")

	require.Len(t, store.decisions, 1)
	assert.Equal(t, appliedDecision{"acmeplumbing-co-nz", 12, models.DecisionApproved}, store.decisions[0])
}

func TestRejectAppliesDecision(t *testing.T) {
	store := &fakeStore{hits: []models.Ticket{openTicket()}}

	resp, body := request(t, store, testToken, "acmeplumbing-co-nz", "reject")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Rejected")

	require.Len(t, store.decisions, 1)
	assert.Equal(t, models.DecisionRejected, store.decisions[0].decision)
}

func TestSecondApproveRendersSameConfirmation(t *testing.T) {
	store := &fakeStore{
		hits:     []models.Ticket{openTicket()},
		applyErr: tickets.ErrAlreadyDecided,
	}

	resp, body := request(t, store, testToken, "acmeplumbing-co-nz", "approve")
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, body, "Approved")
	assert.Empty(t, store.decisions)
}

func TestBadParametersAnswer400WithoutLookup(t *testing.T) {
	tests := []struct {
		name     string
		token    string
		repo     string
		response string
	}{
		{name: "missing token", repo: "r", response: "approve"},
		{name: "missing repo", token: testToken, response: "approve"},
		{name: "missing response", token: testToken, repo: "r"},
		{name: "malformed token", token: "APPR-nope", repo: "r", response: "approve"},
		{name: "unknown response", token: testToken, repo: "r", response: "maybe"},
		{name: "repo with query syntax", token: testToken, repo: "r state:closed", response: "approve"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &fakeStore{hits: []models.Ticket{openTicket()}}
			resp, _ := request(t, store, tt.token, tt.repo, tt.response)
			assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
			assert.Empty(t, store.decisions, "no mutation on a bad request")
		})
	}
}

func TestUnknownTokenAnswers404(t *testing.T) {
	store := &fakeStore{}

	resp, body := request(t, store, testToken, "acmeplumbing-co-nz", "approve")
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	assert.Contains(t, body, "No open change request")
	assert.Empty(t, store.decisions)
}

func TestAmbiguousTokenFailsClosed(t *testing.T) {
	store := &fakeStore{hits: []models.Ticket{openTicket(), {Number: 13, State: "open"}}}

	resp, body := request(t, store, testToken, "acmeplumbing-co-nz", "approve")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, "Something went wrong")
	assert.NotContains(t, body, "matched", "internal detail must stay in the log")
	assert.Empty(t, store.decisions, "ambiguity must not mutate anything")
}

func TestBackendFailureRendersGenericPage(t *testing.T) {
	store := &fakeStore{findErr: errors.New("github 502: upstream sad")}

	resp, body := request(t, store, testToken, "acmeplumbing-co-nz", "approve")
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Contains(t, body, "Something went wrong")
	assert.NotContains(t, body, "502", "internal detail must stay in the log")
}
