// Package classify sends inbound email content to the classification
// service and parses the constrained verdict.
package classify

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/logging"
	"github.com/datan8/sitepilot/pkg/models"
)

// ErrUnavailable reports that the classification service could not be
// reached or did not answer in time. Callers must stop the pipeline rather
// than proceed with an unclassified request.
var ErrUnavailable = errors.New("classification service unavailable")

// prompt instructs the model to answer with exactly one of the three
// category tags. Anything outside the vocabulary degrades to neither.
const prompt = `Analyze this email content and determine if it's a bug report or feature request for a website change.

Rules:
- If it describes something broken, not working, or an error: respond with "bug"
- If it requests new functionality or changes: respond with "feature"
- If it's neither: respond with "neither"

For bug or feature, provide a clear, concise summary in this format:
[TYPE]: [SUMMARY]

Examples:
- bug: Contact page returns 404 error when refreshed
- feature: Add dark mode toggle to navigation menu
- neither

Email content: %q
`

// completionClient is the slice of the OpenAI client the classifier uses.
type completionClient interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Classifier labels free-text content as bug, feature or neither.
type Classifier struct {
	client  completionClient
	model   string
	timeout time.Duration
}

// NewClassifier creates a classifier backed by the OpenAI chat completions API.
func NewClassifier(cfg config.OpenAIConfig) *Classifier {
	return &Classifier{
		client:  openai.NewClient(cfg.APIKey),
		model:   cfg.Model,
		timeout: cfg.Timeout,
	}
}

// Classify produces a verdict for the given content. The external call is
// bounded by the configured timeout; transport or API failure returns
// ErrUnavailable. A verdict outside the allowed vocabulary is logged and
// treated as neither, failing safe instead of opening a ticket for content
// the model could not place.
func (c *Classifier) Classify(ctx context.Context, content string) (models.Verdict, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf(prompt, content)},
		},
		MaxTokens:   200,
		Temperature: 0.1,
	})
	if err != nil {
		logging.Error("classification request failed", "error", err)
		return models.Verdict{}, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		logging.Error("classification response had no choices")
		return models.Verdict{}, fmt.Errorf("%w: empty response", ErrUnavailable)
	}

	verdict := ParseVerdict(resp.Choices[0].Message.Content)
	logging.Info("content classified",
		"category", verdict.Category,
		"summary", verdict.Summary)
	return verdict, nil
}

// ParseVerdict maps the model's raw answer onto the constrained vocabulary.
// Accepted forms are "neither" and "<bug|feature>: <one line summary>".
// Anything else is a contract violation and degrades to neither with a
// warning.
func ParseVerdict(raw string) models.Verdict {
	answer := strings.TrimSpace(raw)

	if strings.EqualFold(answer, "neither") {
		return models.Verdict{Category: models.CategoryNeither}
	}

	parts := strings.SplitN(answer, ":", 2)
	if len(parts) != 2 {
		logging.Warn("unexpected classification output, treating as neither", "output", answer)
		return models.Verdict{Category: models.CategoryNeither}
	}

	category := strings.ToLower(strings.TrimSpace(parts[0]))
	summary := strings.TrimSpace(parts[1])

	switch category {
	case string(models.CategoryBug):
		return models.Verdict{Category: models.CategoryBug, Summary: firstLine(summary)}
	case string(models.CategoryFeature):
		return models.Verdict{Category: models.CategoryFeature, Summary: firstLine(summary)}
	default:
		logging.Warn("unknown classification category, treating as neither", "category", category)
		return models.Verdict{Category: models.CategoryNeither}
	}
}

// firstLine trims the summary to a single line; the ticket title and the
// approval email both embed it inline.
func firstLine(s string) string {
	if idx := strings.IndexByte(s, '\n'); idx >= 0 {
		s = s[:idx]
	}
	return strings.TrimSpace(s)
}
