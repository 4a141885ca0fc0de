package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/githubops"
	"github.com/datan8/sitepilot/internal/tickets"
)

// botAuthorMarkers identify comments left by automation accounts rather
// than humans.
var botAuthorMarkers = []string{"[bot]", "amazon-q", "github-actions"}

// statusCmd reports agent activity on one change ticket.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Report automation activity on a change ticket",
	Long: `Report what the automation agent has done with a change ticket: the
ticket's current labels and state, comments left by bot accounts, open
pull requests on the repository, and the most recent workflow runs.

Example:
  sitepilot status --repo acmeplumbing-co-nz --issue 12`,
	RunE: func(cmd *cobra.Command, args []string) error {
		repository, err := cmd.Flags().GetString("repo")
		if err != nil {
			return err
		}
		number, err := cmd.Flags().GetInt("issue")
		if err != nil {
			return err
		}

		if repository == "" {
			return fmt.Errorf("repo flag is required")
		}
		if number == 0 {
			return fmt.Errorf("issue flag is required")
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := config.ValidateServe(cfg); err != nil {
			return err
		}

		store, err := tickets.NewClient(cfg.GitHub)
		if err != nil {
			return err
		}
		repos, err := githubops.NewProvisioner(cfg.GitHub)
		if err != nil {
			return err
		}

		ctx := cmd.Context()

		ticket, err := store.Get(ctx, repository, number)
		if err != nil {
			return err
		}
		fmt.Printf("Ticket %s#%d: %s\n", repository, ticket.Number, ticket.Title)
		fmt.Printf("  State:  %s\n", ticket.State)
		fmt.Printf("  Labels: %s\n", strings.Join(ticket.Labels, ", "))

		comments, err := store.ListComments(ctx, repository, number)
		if err != nil {
			return err
		}
		botComments := 0
		for _, comment := range comments {
			if !isBotAuthor(comment.Author) {
				continue
			}
			botComments++
			fmt.Printf("\nBot comment by %s at %s:\n", comment.Author,
				comment.CreatedAt.Format("2006-01-02 15:04"))
			fmt.Printf("  %s\n", firstCommentLine(comment.Body))
		}
		if botComments == 0 {
			fmt.Println("\nNo bot activity on the ticket yet.")
		}

		prs, err := repos.ListPullRequests(ctx, repository)
		if err != nil {
			return err
		}
		if len(prs) > 0 {
			fmt.Printf("\nOpen pull requests:\n")
			for _, pr := range prs {
				fmt.Printf("  #%d %s (by %s) %s\n", pr.Number, pr.Title, pr.Author, pr.HTMLURL)
			}
		} else {
			fmt.Println("\nNo open pull requests.")
		}

		runs, err := repos.ListWorkflowRuns(ctx, repository)
		if err != nil {
			return err
		}
		if len(runs) > 0 {
			fmt.Printf("\nRecent workflow runs:\n")
			for _, run := range runs {
				conclusion := run.Conclusion
				if conclusion == "" {
					conclusion = run.Status
				}
				fmt.Printf("  %s: %s\n", run.Name, conclusion)
			}
		}
		return nil
	},
}

// isBotAuthor reports whether the comment author looks like an automation
// account.
func isBotAuthor(author string) bool {
	lower := strings.ToLower(author)
	for _, marker := range botAuthorMarkers {
		if strings.Contains(lower, marker) {
			return true
		}
	}
	return false
}

// firstCommentLine trims a comment body to its first non-empty line.
func firstCommentLine(body string) string {
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			return line
		}
	}
	return ""
}
