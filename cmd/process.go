package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/intake"
	"github.com/datan8/sitepilot/pkg/models"
)

// processCmd runs the intake pipeline for one inbound email.
var processCmd = &cobra.Command{
	Use:   "process",
	Short: "Process one inbound client email",
	Long: `Process one inbound client email through the intake pipeline.

The email content is classified as a bug report, a feature request or
neither. Actionable emails open a change ticket in the client's
repository with an embedded approval token, and the client receives an
email with approve/reject links. Non-actionable emails produce no side
effects.

Example:
  sitepilot process --from owner@client.example --subject "Website problem" --body-file email.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		from, err := cmd.Flags().GetString("from")
		if err != nil {
			return err
		}
		subject, err := cmd.Flags().GetString("subject")
		if err != nil {
			return err
		}
		body, err := cmd.Flags().GetString("body")
		if err != nil {
			return err
		}
		bodyFile, err := cmd.Flags().GetString("body-file")
		if err != nil {
			return err
		}

		if from == "" {
			return fmt.Errorf("from flag is required")
		}
		if body == "" && bodyFile == "" {
			return fmt.Errorf("one of body or body-file is required")
		}
		if body != "" && bodyFile != "" {
			return fmt.Errorf("body and body-file are mutually exclusive")
		}
		if bodyFile != "" {
			content, err := os.ReadFile(bodyFile)
			if err != nil {
				return fmt.Errorf("failed to read body file: %w", err)
			}
			body = string(content)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := config.ValidateIntake(cfg); err != nil {
			return err
		}

		pipeline, err := intake.NewPipeline(cfg)
		if err != nil {
			return err
		}

		result, err := pipeline.Process(cmd.Context(), from, subject, body)
		if err != nil {
			return err
		}

		if !result.Verdict.Actionable() {
			fmt.Println("Email is not a website change request; nothing to do.")
			return nil
		}

		category := "feature request"
		if result.Verdict.Category == models.CategoryBug {
			category = "bug report"
		}
		fmt.Printf("Classified as %s: %s\n", category, result.Verdict.Summary)
		fmt.Printf("Created ticket #%d in %s\n", result.Ticket.Number, result.Repository)
		fmt.Printf("Approval token: %s\n", result.Token)
		fmt.Printf("Approval request emailed to %s\n", from)
		return nil
	},
}

func init() {
	processCmd.Flags().String("from", "", "Sender address of the inbound email")
	processCmd.Flags().String("subject", "", "Subject line of the inbound email")
	processCmd.Flags().String("body", "", "Raw body of the inbound email")
	processCmd.Flags().String("body-file", "", "Read the email body from a file instead")
}
