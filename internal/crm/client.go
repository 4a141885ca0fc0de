// Package crm provides the GoHighLevel adapter. CRM records are advisory
// bookkeeping: callers treat failures here as warnings, never as reasons to
// abort provisioning.
package crm

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-resty/resty/v2"

	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/logging"
)

// Contact is a CRM contact record reduced to the fields the pipeline uses.
type Contact struct {
	ID      string `json:"id"`
	Email   string `json:"email"`
	Name    string `json:"name"`
	Website string `json:"website"`

	CustomFields []CustomField `json:"customFields"`
}

// CustomField is one custom field on a contact.
type CustomField struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// WebsiteURL returns the contact's website, preferring a custom field whose
// name mentions website or url over the built-in field.
func (c *Contact) WebsiteURL() string {
	for _, field := range c.CustomFields {
		name := strings.ToLower(field.Name)
		if strings.Contains(name, "website") || strings.Contains(name, "url") {
			if field.Value != "" {
				return field.Value
			}
		}
	}
	return c.Website
}

// Pipeline is a CRM sales pipeline with its stages.
type Pipeline struct {
	ID     string  `json:"id"`
	Name   string  `json:"name"`
	Stages []Stage `json:"stages"`
}

// Stage is one stage of a pipeline.
type Stage struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Opportunity is a CRM opportunity record.
type Opportunity struct {
	ID    string `json:"id"`
	Title string `json:"name"`
}

// Client wraps the GoHighLevel REST API.
type Client struct {
	http *resty.Client
}

// NewClient creates a CRM client from the given configuration.
func NewClient(cfg config.CRMConfig) *Client {
	http := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json")
	return &Client{http: http}
}

// LookupContact finds a contact by email. A missing contact is (nil, nil),
// not an error: absence is an expected answer the caller branches on.
func (c *Client) LookupContact(ctx context.Context, email string) (*Contact, error) {
	var result struct {
		Contacts []Contact `json:"contacts"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("email", email).
		SetResult(&result).
		Get("/contacts/lookup")
	if err != nil {
		return nil, fmt.Errorf("contact lookup failed: %w", err)
	}
	// GoHighLevel answers 422 for an unknown email on this endpoint.
	if resp.StatusCode() == 404 || resp.StatusCode() == 422 {
		return nil, nil
	}
	if resp.IsError() {
		return nil, fmt.Errorf("contact lookup returned status %d", resp.StatusCode())
	}
	if len(result.Contacts) == 0 {
		return nil, nil
	}

	contact := result.Contacts[0]
	logging.Debug("crm contact found", "email", email, "contact_id", contact.ID)
	return &contact, nil
}

// CreateContact creates a new contact.
func (c *Client) CreateContact(ctx context.Context, name, email, website string) (*Contact, error) {
	var result struct {
		Contact Contact `json:"contact"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"name":    name,
			"email":   email,
			"website": website,
		}).
		SetResult(&result).
		Post("/contacts/")
	if err != nil {
		return nil, fmt.Errorf("contact creation failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("contact creation returned status %d: %s", resp.StatusCode(), resp.String())
	}

	logging.Info("crm contact created", "email", email, "contact_id", result.Contact.ID)
	return &result.Contact, nil
}

// FindPipeline returns the pipeline with the given name, or nil when absent.
func (c *Client) FindPipeline(ctx context.Context, name string) (*Pipeline, error) {
	var result struct {
		Pipelines []Pipeline `json:"pipelines"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&result).
		Get("/pipelines/")
	if err != nil {
		return nil, fmt.Errorf("pipeline listing failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("pipeline listing returned status %d", resp.StatusCode())
	}

	for i := range result.Pipelines {
		if result.Pipelines[i].Name == name {
			return &result.Pipelines[i], nil
		}
	}
	return nil, nil
}

// FindOpportunity searches a pipeline for an opportunity with the given
// title, or nil when absent.
func (c *Client) FindOpportunity(ctx context.Context, pipelineID, title string) (*Opportunity, error) {
	var result struct {
		Opportunities []Opportunity `json:"opportunities"`
	}

	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("query", title).
		SetResult(&result).
		Get(fmt.Sprintf("/pipelines/%s/opportunities", pipelineID))
	if err != nil {
		return nil, fmt.Errorf("opportunity search failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("opportunity search returned status %d", resp.StatusCode())
	}

	for i := range result.Opportunities {
		if result.Opportunities[i].Title == title {
			return &result.Opportunities[i], nil
		}
	}
	return nil, nil
}

// CreateOpportunity creates an opportunity under the given pipeline stage
// and contact. The description carries the original form payload verbatim
// so the CRM keeps a full audit copy of what the client asked for.
func (c *Client) CreateOpportunity(ctx context.Context, pipelineID, stageID, contactID, title, description string) (*Opportunity, error) {
	var result Opportunity

	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]string{
			"title":       title,
			"stageId":     stageID,
			"contactId":   contactID,
			"status":      "open",
			"description": description,
		}).
		SetResult(&result).
		Post(fmt.Sprintf("/pipelines/%s/opportunities/", pipelineID))
	if err != nil {
		return nil, fmt.Errorf("opportunity creation failed: %w", err)
	}
	if resp.IsError() {
		return nil, fmt.Errorf("opportunity creation returned status %d: %s", resp.StatusCode(), resp.String())
	}

	logging.Info("crm opportunity created",
		"pipeline_id", pipelineID,
		"opportunity_id", result.ID,
		"title", title)
	return &result, nil
}
