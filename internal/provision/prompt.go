package provision

import (
	"context"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/logging"
	"github.com/datan8/sitepilot/pkg/models"
)

// promptRequest asks the model to turn the client's form submission into
// working instructions for the coding agent that will build the site.
const promptRequest = `You are preparing instructions for an AI coding agent that will build a small business website from a static site template.

Client business name: %s
Client website (existing, may be empty): %s

Client's own description of what they want, submitted on our intake form:
%q

Write a concise, actionable brief for the agent: what the site is for, what pages and content it needs, and what from the client's description must be reflected. Plain markdown, no preamble.
`

// fallbackPromptTemplate is used verbatim whenever prompt generation fails.
// Provisioning never aborts over the brief; a generic one is always usable.
const fallbackPromptTemplate = `# Website brief: %s

Build a small business website for %s using the existing template structure.

- Replace all placeholder text and images with content appropriate for the business.
- Keep the template's page layout and navigation.
- Add a contact page with the business name and a contact form.

Original client submission:

%s
`

// completionClient is the slice of the OpenAI client the generator uses.
type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// PromptGenerator produces the deployment-content brief for a client.
type PromptGenerator struct {
	client  completionClient
	model   string
	timeout time.Duration
}

// NewPromptGenerator creates a generator backed by the OpenAI chat
// completions API.
func NewPromptGenerator(cfg config.OpenAIConfig) *PromptGenerator {
	return &PromptGenerator{
		client:  openai.NewClient(cfg.APIKey),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

// DeploymentPrompt returns the content brief for the lead. Any failure
// falls back to the hardcoded template; this method never returns an error
// because a missing brief must not sink a provisioning run.
func (g *PromptGenerator) DeploymentPrompt(ctx context.Context, lead models.Lead) string {
	ctx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()

	resp, err := g.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: g.model,
		Messages: []openai.ChatCompletionMessage{
			{
				Role:    openai.ChatMessageRoleUser,
				Content: fmt.Sprintf(promptRequest, lead.Name, lead.Website, lead.Payload),
			},
		},
		MaxTokens:   800,
		Temperature: 0.3,
	})
	if err != nil || len(resp.Choices) == 0 {
		logging.Warn("prompt generation failed, using fallback brief",
			"client", lead.Name,
			"error", err)
		return fallbackPrompt(lead)
	}

	brief := strings.TrimSpace(resp.Choices[0].Message.Content)
	if brief == "" {
		logging.Warn("prompt generation returned empty brief, using fallback",
			"client", lead.Name)
		return fallbackPrompt(lead)
	}
	return brief
}

// fallbackPrompt renders the hardcoded brief.
func fallbackPrompt(lead models.Lead) string {
	return fmt.Sprintf(fallbackPromptTemplate, lead.Name, lead.Name, lead.Payload)
}
