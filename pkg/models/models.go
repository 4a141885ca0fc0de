// Package models defines data structures shared across the application.
package models

import (
	"time"
)

// Category is the classification verdict for an inbound request.
type Category string

const (
	// CategoryBug marks content describing something broken or erroring.
	CategoryBug Category = "bug"

	// CategoryFeature marks content requesting new functionality or changes.
	CategoryFeature Category = "feature"

	// CategoryNeither marks content that is not a website change request.
	// It short-circuits the pipeline: no ticket, token or notification.
	CategoryNeither Category = "neither"
)

// Verdict is the output of classifying one inbound email.
type Verdict struct {
	// Category is one of bug, feature or neither
	Category Category

	// Summary is a one-line description of the requested change,
	// empty when Category is neither
	Summary string
}

// Actionable reports whether the verdict should produce a ticket.
func (v Verdict) Actionable() bool {
	return v.Category == CategoryBug || v.Category == CategoryFeature
}

// RequestCase represents one inbound client request. It is assembled when
// the email arrives and read-only afterwards.
type RequestCase struct {
	// RequesterEmail is the address the request came from
	RequesterEmail string

	// Subject is the email subject line
	Subject string

	// Content is the raw free-text body of the email
	Content string

	// AccountID is the CRM account the requester resolved to
	AccountID string

	// WebsiteURL is the client's website, taken from the CRM contact
	WebsiteURL string

	// Repository is the target repository name (without the org prefix)
	Repository string
}

// Ticket represents an issue in the tracker with its essential fields.
type Ticket struct {
	// Number is the issue number assigned by the tracker (e.g. 42)
	Number int

	// Title is the issue's title or summary
	Title string

	// URL is the human-facing link to the issue
	URL string

	// State is the current state of the issue ("open" or "closed")
	State string

	// Labels is a slice of label names attached to the issue
	Labels []string

	// CreatedAt is the timestamp when the issue was created
	CreatedAt time.Time

	// Comments is the number of comments on the issue
	Comments int
}

// HasLabel checks whether the ticket carries a label with the given name.
func (t Ticket) HasLabel(name string) bool {
	for _, l := range t.Labels {
		if l == name {
			return true
		}
	}
	return false
}

// Decision is a client's answer to an approval request.
type Decision string

const (
	// DecisionApproved moves the ticket into the automation-ready state.
	DecisionApproved Decision = "approved"

	// DecisionRejected closes the ticket as needing clarification.
	DecisionRejected Decision = "rejected"
)

// Lead is one submitted new-client form, the input to provisioning.
type Lead struct {
	// Name is the client's business name as entered on the form
	Name string

	// Email is the client's contact address
	Email string

	// Website is the client's existing website, if any
	Website string

	// Payload is the full original form submission, kept verbatim for
	// the CRM opportunity's audit trail
	Payload string
}

// ProvisionedResources aggregates every identifier produced by one
// provisioning run. Fields stay empty when their step was skipped or failed
// best-effort.
type ProvisionedResources struct {
	// ClientKey is the sanitized client identifier all resource names derive from
	ClientKey string

	// ContactID is the CRM contact record
	ContactID string

	// OpportunityID is the CRM opportunity record
	OpportunityID string

	// Repository is the full "org/name" of the client repository
	Repository string

	// RepositoryURL is the human-facing repository link
	RepositoryURL string

	// TestStorageAccount and ProdStorageAccount are the storage account names
	TestStorageAccount string
	ProdStorageAccount string

	// TestSiteURL and ProdSiteURL are the static website endpoints
	TestSiteURL string
	ProdSiteURL string

	// RouteURL is the client's path on the shared CDN endpoint
	RouteURL string

	// TestAppID and ProdAppID are the federated identity application ids
	TestAppID string
	ProdAppID string

	// Warnings lists non-fatal step failures recorded during the run
	Warnings []string
}
