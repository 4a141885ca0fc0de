package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/ghapi"
	"github.com/datan8/sitepilot/internal/logging"
)

// diagnoseCmd reports the effective configuration and probes GitHub access.
var diagnoseCmd = &cobra.Command{
	Use:   "diagnose",
	Short: "Check configuration and connectivity",
	Long: `Report which configuration values are set (secrets masked) and probe
GitHub access: token authentication, organization visibility and the
website template repository.

Run this first when any other command fails with an authentication or
configuration error.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load()
		if err != nil {
			return err
		}

		fmt.Println("Configuration:")
		fmt.Printf("  GITHUB_TOKEN:          %s\n", logging.MaskSensitive(cfg.GitHub.Token))
		fmt.Printf("  GITHUB_DOMAIN:         %s\n", cfg.GitHub.Domain)
		fmt.Printf("  GITHUB_ORG:            %s\n", valueOrUnset(cfg.GitHub.Org))
		fmt.Printf("  GITHUB_TEMPLATE_REPO:  %s\n", valueOrUnset(cfg.GitHub.TemplateRepo))
		fmt.Printf("  OPENAI_API_KEY:        %s\n", logging.MaskSensitive(cfg.OpenAI.APIKey))
		fmt.Printf("  OPENAI_MODEL:          %s\n", cfg.OpenAI.Model)
		fmt.Printf("  SENDGRID_API_KEY:      %s\n", logging.MaskSensitive(cfg.SendGrid.APIKey))
		fmt.Printf("  EMAIL_FROM:            %s\n", valueOrUnset(cfg.SendGrid.From))
		fmt.Printf("  GHL_API_KEY:           %s\n", logging.MaskSensitive(cfg.CRM.APIKey))
		fmt.Printf("  AZURE_SUBSCRIPTION_ID: %s\n", logging.MaskSensitive(cfg.Azure.SubscriptionID))
		fmt.Printf("  AZURE_TENANT_ID:       %s\n", logging.MaskSensitive(cfg.Azure.TenantID))
		fmt.Printf("  AZURE_LOCATION:        %s\n", cfg.Azure.Location)
		fmt.Printf("  STORAGE_PREFIX:        %s\n", valueOrUnset(cfg.Azure.StoragePrefix))
		fmt.Printf("  SHARED_RESOURCE_GROUP: %s\n", valueOrUnset(cfg.Azure.SharedResourceGroup))
		fmt.Printf("  FRONTDOOR_PROFILE:     %s\n", valueOrUnset(cfg.Azure.FrontDoorProfile))
		fmt.Printf("  FRONTDOOR_ENDPOINT:    %s\n", valueOrUnset(cfg.Azure.FrontDoorEndpoint))
		fmt.Printf("  APPROVAL_BASE_URL:     %s\n", valueOrUnset(cfg.Approval.BaseURL))
		fmt.Printf("  APPROVAL_PORT:         %d\n", cfg.Approval.Port)

		fmt.Println("\nGitHub probes:")
		if cfg.GitHub.Token == "" {
			fmt.Println("  skipped: GITHUB_TOKEN is not set")
			return nil
		}

		client, err := ghapi.New(cfg.GitHub)
		if err != nil {
			return err
		}
		ctx := cmd.Context()

		user, _, err := client.Users.Get(ctx, "")
		if err != nil {
			fmt.Printf("  authentication: FAILED (%v)\n", err)
			return fmt.Errorf("github token is not usable")
		}
		fmt.Printf("  authentication: ok (as %s)\n", user.GetLogin())

		if cfg.GitHub.Org == "" {
			fmt.Println("  organization: skipped, GITHUB_ORG is not set")
			return nil
		}
		if _, _, err := client.Organizations.Get(ctx, cfg.GitHub.Org); err != nil {
			fmt.Printf("  organization %s: FAILED (%v)\n", cfg.GitHub.Org, err)
			return fmt.Errorf("organization %s is not visible to this token", cfg.GitHub.Org)
		}
		fmt.Printf("  organization %s: ok\n", cfg.GitHub.Org)

		if cfg.GitHub.TemplateRepo == "" {
			fmt.Println("  template repository: skipped, GITHUB_TEMPLATE_REPO is not set")
			return nil
		}
		repo, _, err := client.Repositories.Get(ctx, cfg.GitHub.Org, cfg.GitHub.TemplateRepo)
		if err != nil {
			fmt.Printf("  template %s: FAILED (%v)\n", cfg.GitHub.TemplateRepo, err)
			return fmt.Errorf("template repository %s/%s is not visible to this token",
				cfg.GitHub.Org, cfg.GitHub.TemplateRepo)
		}
		status := "ok"
		if !repo.GetIsTemplate() {
			status = "exists but is NOT marked as a template"
		}
		fmt.Printf("  template %s: %s\n", cfg.GitHub.TemplateRepo, status)
		return nil
	},
}

// valueOrUnset renders optional non-secret values.
func valueOrUnset(value string) string {
	if value == "" {
		return "<not set>"
	}
	return value
}
