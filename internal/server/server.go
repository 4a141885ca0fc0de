// Package server serves the approval endpoint the emailed decision links
// point at.
package server

import (
	"context"
	"errors"
	"fmt"
	"regexp"

	"github.com/gofiber/fiber/v2"

	"github.com/datan8/sitepilot/internal/approval"
	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/logging"
	"github.com/datan8/sitepilot/internal/tickets"
	"github.com/datan8/sitepilot/pkg/models"
)

// ticketStore is the slice of the ticket client the endpoint uses.
type ticketStore interface {
	FindOpenByToken(ctx context.Context, repository, token string) ([]models.Ticket, error)
	ApplyDecision(ctx context.Context, repository string, number int, decision models.Decision) error
}

// repoPattern bounds what the repo query parameter may look like before it
// is interpolated into a search query.
var repoPattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// Server is the approval HTTP endpoint.
type Server struct {
	app   *fiber.App
	store ticketStore
	port  int
}

// New builds the endpoint from the given configuration.
func New(cfg *config.Config) (*Server, error) {
	store, err := tickets.NewClient(cfg.GitHub)
	if err != nil {
		return nil, err
	}
	return newServer(store, cfg.Approval.Port), nil
}

func newServer(store ticketStore, port int) *Server {
	s := &Server{
		app: fiber.New(fiber.Config{
			DisableStartupMessage: true,
		}),
		store: store,
		port:  port,
	}
	s.app.Get("/approval", s.handleApproval)
	return s
}

// Listen serves until the listener fails or Shutdown is called.
func (s *Server) Listen() error {
	logging.Info("approval endpoint listening", "port", s.port)
	return s.app.Listen(fmt.Sprintf(":%d", s.port))
}

// Shutdown stops the server gracefully.
func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

// handleApproval applies one emailed decision. Parameter problems answer
// 400 before anything is looked up; backend problems answer a generic 500
// with the detail only in the log. A decision that was already applied
// renders the same confirmation page as the first click.
func (s *Server) handleApproval(c *fiber.Ctx) error {
	token := c.Query("token")
	repository := c.Query("repo")
	response := c.Query("response")

	if token == "" || repository == "" || response == "" {
		return renderError(c, fiber.StatusBadRequest,
			"The link is missing required parameters. Please use the link from your email unchanged.")
	}
	if !approval.ValidToken(token) {
		return renderError(c, fiber.StatusBadRequest,
			"The approval token in this link is not valid. Please use the link from your email unchanged.")
	}
	if !repoPattern.MatchString(repository) {
		return renderError(c, fiber.StatusBadRequest,
			"The repository in this link is not valid. Please use the link from your email unchanged.")
	}

	var decision models.Decision
	switch response {
	case "approve":
		decision = models.DecisionApproved
	case "reject":
		decision = models.DecisionRejected
	default:
		return renderError(c, fiber.StatusBadRequest,
			"The response in this link is not recognized. Please use the link from your email unchanged.")
	}

	ctx := c.UserContext()

	hits, err := s.store.FindOpenByToken(ctx, repository, token)
	if err != nil {
		logging.Error("token lookup failed",
			"repository", repository,
			"error", err)
		return renderError(c, fiber.StatusInternalServerError, genericFailure)
	}

	ticket, err := approval.Resolve(token, hits)
	if err != nil {
		switch {
		case errors.Is(err, approval.ErrNotFound):
			logging.Warn("approval token matched nothing",
				"repository", repository,
				"token", token)
			return renderError(c, fiber.StatusNotFound,
				"No open change request matches this link. It may already be resolved, or the link may be stale.")
		default:
			// Ambiguity means the token can no longer be trusted; nothing
			// is mutated and the operator investigates from the log.
			logging.Error("approval token resolution failed",
				"repository", repository,
				"token", token,
				"error", err)
			return renderError(c, fiber.StatusInternalServerError, genericFailure)
		}
	}

	err = s.store.ApplyDecision(ctx, repository, ticket.Number, decision)
	if err != nil && !errors.Is(err, tickets.ErrAlreadyDecided) {
		logging.Error("failed to apply decision",
			"repository", repository,
			"ticket", ticket.Number,
			"decision", decision,
			"error", err)
		return renderError(c, fiber.StatusInternalServerError, genericFailure)
	}
	if errors.Is(err, tickets.ErrAlreadyDecided) {
		logging.Info("decision already applied, confirming again",
			"repository", repository,
			"ticket", ticket.Number)
	}

	return renderConfirmation(c, decision, ticket)
}
