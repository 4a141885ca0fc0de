package crm

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-resty/resty/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	http := resty.New().
		SetBaseURL(server.URL).
		SetAuthToken("test-key").
		SetHeader("Content-Type", "application/json")
	return &Client{http: http}
}

func TestLookupContactFindsWebsiteCustomField(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/contacts/lookup", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "john@datan8.com", r.URL.Query().Get("email"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"contacts": [{
			"id": "contact-001",
			"email": "john@datan8.com",
			"website": "https://fallback.example.com",
			"customFields": [
				{"name": "Industry", "value": "plumbing"},
				{"name": "Website URL", "value": "https://acmeplumbing.com.au"}
			]
		}]}`)
	})

	client := newTestClient(t, mux)
	contact, err := client.LookupContact(context.Background(), "john@datan8.com")

	require.NoError(t, err)
	require.NotNil(t, contact)
	assert.Equal(t, "contact-001", contact.ID)
	assert.Equal(t, "https://acmeplumbing.com.au", contact.WebsiteURL())
}

func TestLookupContactAbsentIsNilNotError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
	}{
		{"empty result", http.StatusOK, `{"contacts": []}`},
		{"unknown email", http.StatusUnprocessableEntity, `{"msg": "not found"}`},
		{"not found", http.StatusNotFound, `{}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			mux := http.NewServeMux()
			mux.HandleFunc("/contacts/lookup", func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				fmt.Fprint(w, tt.body)
			})

			client := newTestClient(t, mux)
			contact, err := client.LookupContact(context.Background(), "nobody@example.com")
			require.NoError(t, err)
			assert.Nil(t, contact)
		})
	}
}

func TestWebsiteURLFallsBackToBuiltinField(t *testing.T) {
	contact := &Contact{
		Website: "https://builtin.example.com",
		CustomFields: []CustomField{
			{Name: "Industry", Value: "retail"},
		},
	}
	assert.Equal(t, "https://builtin.example.com", contact.WebsiteURL())
}

func TestCreateOpportunityCarriesPayload(t *testing.T) {
	payload := `{"name":"Acme Plumbing","email":"john@acmeplumbing.com.au","message":"need a website"}`

	mux := http.NewServeMux()
	mux.HandleFunc("/pipelines/pipe-1/opportunities/", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "stage-1", body["stageId"])
		assert.Equal(t, "contact-001", body["contactId"])
		assert.Equal(t, payload, body["description"], "opportunity must carry the original payload for audit")
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id": "opp-001", "name": "Website: Acme Plumbing"}`)
	})

	client := newTestClient(t, mux)
	opp, err := client.CreateOpportunity(context.Background(),
		"pipe-1", "stage-1", "contact-001", "Website: Acme Plumbing", payload)

	require.NoError(t, err)
	assert.Equal(t, "opp-001", opp.ID)
}

func TestFindPipelineMatchesByName(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/pipelines/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"pipelines": [
			{"id": "other", "name": "Sales"},
			{"id": "pipe-1", "name": "Website Onboarding", "stages": [{"id": "stage-1", "name": "New Lead"}]}
		]}`)
	})

	client := newTestClient(t, mux)

	pipeline, err := client.FindPipeline(context.Background(), "Website Onboarding")
	require.NoError(t, err)
	require.NotNil(t, pipeline)
	assert.Equal(t, "pipe-1", pipeline.ID)
	require.Len(t, pipeline.Stages, 1)

	missing, err := client.FindPipeline(context.Background(), "Nonexistent")
	require.NoError(t, err)
	assert.Nil(t, missing)
}
