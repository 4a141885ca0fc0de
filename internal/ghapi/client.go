// Package ghapi constructs the authenticated GitHub API client shared by
// the ticket store and the repository provisioner.
package ghapi

import (
	"context"
	"errors"
	"fmt"
	"net/url"

	"github.com/google/go-github/v41/github"
	"golang.org/x/oauth2"

	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/logging"
)

// New builds a go-github client with oauth2 transport. For GitHub
// Enterprise domains the /api/v3/ base URL is derived from the domain.
func New(cfg config.GitHubConfig) (*github.Client, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("github token not found in configuration")
	}

	domain := cfg.Domain
	if domain == "" {
		domain = "github.com"
	}

	var apiURL string
	if domain == "github.com" {
		apiURL = "https://api.github.com/"
	} else {
		apiURL = fmt.Sprintf("https://%s/api/v3/", domain)
	}

	logging.Debug("github configuration",
		"domain", domain,
		"api_url", apiURL,
		"token", logging.MaskSensitive(cfg.Token))

	ts := oauth2.StaticTokenSource(
		&oauth2.Token{AccessToken: cfg.Token},
	)
	tc := oauth2.NewClient(context.Background(), ts)

	client := github.NewClient(tc)

	if domain != "github.com" {
		parsedURL, err := url.Parse(apiURL)
		if err != nil {
			return nil, fmt.Errorf("invalid github api url: %w", err)
		}
		client.BaseURL = parsedURL
		client.UploadURL = parsedURL
	}

	return client, nil
}

// IsNotFound reports whether err is a GitHub 404.
func IsNotFound(err error) bool {
	return hasStatus(err, 404)
}

// IsConflict reports whether err is a GitHub 409 or a 422 validation
// answer; both signal that the write raced with an existing resource.
func IsConflict(err error) bool {
	return hasStatus(err, 409) || hasStatus(err, 422)
}

func hasStatus(err error, code int) bool {
	var ghErr *github.ErrorResponse
	if errors.As(err, &ghErr) && ghErr.Response != nil {
		return ghErr.Response.StatusCode == code
	}
	return false
}
