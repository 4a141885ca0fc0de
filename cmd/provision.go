package cmd

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/provision"
	"github.com/datan8/sitepilot/pkg/models"
)

// provisionCmd provisions all infrastructure for one new client.
var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Provision infrastructure for a new client",
	Long: `Provision everything a new client website needs: CRM records, a
repository generated from the website template, test and production
storage accounts with static hosting, a route on the shared Front Door,
OIDC deploy identities and CI workflows.

Every step is idempotent. If a run fails partway, fix the cause and run
the same command again; existing resources are detected and skipped.

Example:
  sitepilot provision --name "Acme Plumbing" --email owner@acme.example --payload-file form.txt`,
	RunE: func(cmd *cobra.Command, args []string) error {
		name, err := cmd.Flags().GetString("name")
		if err != nil {
			return err
		}
		email, err := cmd.Flags().GetString("email")
		if err != nil {
			return err
		}
		website, err := cmd.Flags().GetString("website")
		if err != nil {
			return err
		}
		payloadFile, err := cmd.Flags().GetString("payload-file")
		if err != nil {
			return err
		}

		if name == "" {
			return fmt.Errorf("name flag is required")
		}
		if email == "" {
			return fmt.Errorf("email flag is required")
		}

		payload := fmt.Sprintf("name=%s&email=%s&website=%s", name, email, website)
		if payloadFile != "" {
			content, err := os.ReadFile(payloadFile)
			if err != nil {
				return fmt.Errorf("failed to read payload file: %w", err)
			}
			payload = string(content)
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := config.ValidateProvision(cfg); err != nil {
			return err
		}

		orchestrator, err := provision.NewOrchestrator(cfg)
		if err != nil {
			return err
		}

		res, err := orchestrator.Run(cmd.Context(), models.Lead{
			Name:    name,
			Email:   email,
			Website: website,
			Payload: payload,
		})
		if err != nil {
			var stepErr *provision.StepError
			if errors.As(err, &stepErr) {
				return fmt.Errorf("step %s: %v (fix the cause and re-run; completed resources are kept)",
					stepErr.Step, stepErr.Err)
			}
			return err
		}

		fmt.Printf("Provisioned client %s\n", res.ClientKey)
		fmt.Printf("  Repository:  %s (%s)\n", res.Repository, res.RepositoryURL)
		fmt.Printf("  Test site:   %s\n", res.TestSiteURL)
		fmt.Printf("  Prod site:   %s\n", res.ProdSiteURL)
		fmt.Printf("  CDN route:   %s\n", res.RouteURL)
		if len(res.Warnings) > 0 {
			fmt.Printf("Completed with %d warning(s):\n", len(res.Warnings))
			for _, w := range res.Warnings {
				fmt.Printf("  - %s\n", w)
			}
		}
		return nil
	},
}

func init() {
	provisionCmd.Flags().String("name", "", "Client business name")
	provisionCmd.Flags().String("email", "", "Client contact address")
	provisionCmd.Flags().String("website", "", "Client's existing website, if any")
	provisionCmd.Flags().String("payload-file", "", "Read the raw form submission from a file")
}
