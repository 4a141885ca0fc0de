// Package config provides centralized configuration management for the application.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration parameters for the application. It is
// constructed once at startup and passed by reference into every component;
// nothing reads the environment after Load returns.
type Config struct {
	GitHub   GitHubConfig
	OpenAI   OpenAIConfig
	SendGrid SendGridConfig
	CRM      CRMConfig
	Azure    AzureConfig
	Approval ApprovalConfig
}

// GitHubConfig holds GitHub specific configuration.
type GitHubConfig struct {
	Token        string
	Domain       string
	Org          string
	TemplateRepo string
}

// OpenAIConfig holds the classification service configuration.
type OpenAIConfig struct {
	APIKey  string
	Model   string
	Timeout time.Duration
}

// SendGridConfig holds the notification service configuration.
type SendGridConfig struct {
	APIKey string
	From   string
}

// CRMConfig holds the GoHighLevel configuration.
type CRMConfig struct {
	APIKey  string
	BaseURL string
}

// AzureConfig holds the cloud provisioning configuration.
type AzureConfig struct {
	SubscriptionID      string
	TenantID            string
	Location            string
	StoragePrefix       string
	SharedResourceGroup string
	FrontDoorProfile    string
	FrontDoorEndpoint   string
}

// ApprovalConfig holds the approval endpoint configuration.
type ApprovalConfig struct {
	// BaseURL is the public URL the approve/reject links point at
	BaseURL string
	Port    int
}

// Load initializes and loads configuration from environment variables.
// It does not validate: each command validates the sections it needs via
// the Validate* functions so a serve-only deployment does not have to carry
// Azure credentials.
func Load() (*Config, error) {
	v := viper.New()
	v.SetEnvPrefix("")
	v.AutomaticEnv()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	// Map specific environment variables
	v.BindEnv("github.token", "GITHUB_TOKEN")
	v.BindEnv("github.domain", "GITHUB_DOMAIN")
	v.BindEnv("github.org", "GITHUB_ORG")
	v.BindEnv("github.template_repo", "GITHUB_TEMPLATE_REPO")
	v.BindEnv("openai.api_key", "OPENAI_API_KEY")
	v.BindEnv("openai.model", "OPENAI_MODEL")
	v.BindEnv("openai.timeout", "OPENAI_TIMEOUT")
	v.BindEnv("sendgrid.api_key", "SENDGRID_API_KEY")
	v.BindEnv("sendgrid.from", "EMAIL_FROM")
	v.BindEnv("crm.api_key", "GHL_API_KEY")
	v.BindEnv("crm.base_url", "GHL_BASE_URL")
	v.BindEnv("azure.subscription_id", "AZURE_SUBSCRIPTION_ID")
	v.BindEnv("azure.tenant_id", "AZURE_TENANT_ID")
	v.BindEnv("azure.location", "AZURE_LOCATION")
	v.BindEnv("azure.storage_prefix", "STORAGE_PREFIX")
	v.BindEnv("azure.shared_resource_group", "SHARED_RESOURCE_GROUP")
	v.BindEnv("azure.frontdoor_profile", "FRONTDOOR_PROFILE")
	v.BindEnv("azure.frontdoor_endpoint", "FRONTDOOR_ENDPOINT")
	v.BindEnv("approval.base_url", "APPROVAL_BASE_URL")
	v.BindEnv("approval.port", "APPROVAL_PORT")

	// Defaults for optional values
	v.SetDefault("github.domain", "github.com")
	v.SetDefault("openai.model", "gpt-4o-mini")
	v.SetDefault("openai.timeout", "30s")
	v.SetDefault("crm.base_url", "https://rest.gohighlevel.com/v1")
	v.SetDefault("azure.location", "australiaeast")
	v.SetDefault("approval.port", 8080)

	config := &Config{
		GitHub: GitHubConfig{
			Token:        v.GetString("github.token"),
			Domain:       v.GetString("github.domain"),
			Org:          v.GetString("github.org"),
			TemplateRepo: v.GetString("github.template_repo"),
		},
		OpenAI: OpenAIConfig{
			APIKey:  v.GetString("openai.api_key"),
			Model:   v.GetString("openai.model"),
			Timeout: v.GetDuration("openai.timeout"),
		},
		SendGrid: SendGridConfig{
			APIKey: v.GetString("sendgrid.api_key"),
			From:   v.GetString("sendgrid.from"),
		},
		CRM: CRMConfig{
			APIKey:  v.GetString("crm.api_key"),
			BaseURL: v.GetString("crm.base_url"),
		},
		Azure: AzureConfig{
			SubscriptionID:      v.GetString("azure.subscription_id"),
			TenantID:            v.GetString("azure.tenant_id"),
			Location:            v.GetString("azure.location"),
			StoragePrefix:       v.GetString("azure.storage_prefix"),
			SharedResourceGroup: v.GetString("azure.shared_resource_group"),
			FrontDoorProfile:    v.GetString("azure.frontdoor_profile"),
			FrontDoorEndpoint:   v.GetString("azure.frontdoor_endpoint"),
		},
		Approval: ApprovalConfig{
			BaseURL: v.GetString("approval.base_url"),
			Port:    v.GetInt("approval.port"),
		},
	}

	return config, nil
}

// ValidateIntake ensures everything the intake pipeline needs is present.
func ValidateIntake(config *Config) error {
	var missing []string
	missing = append(missing, githubMissing(config)...)
	if config.OpenAI.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if config.SendGrid.APIKey == "" {
		missing = append(missing, "SENDGRID_API_KEY")
	}
	if config.SendGrid.From == "" {
		missing = append(missing, "EMAIL_FROM")
	}
	if config.CRM.APIKey == "" {
		missing = append(missing, "GHL_API_KEY")
	}
	if config.Approval.BaseURL == "" {
		missing = append(missing, "APPROVAL_BASE_URL")
	}
	return missingError(missing)
}

// ValidateServe ensures everything the approval endpoint needs is present.
func ValidateServe(config *Config) error {
	return missingError(githubMissing(config))
}

// ValidateProvision ensures everything the provisioning orchestrator needs
// is present.
func ValidateProvision(config *Config) error {
	var missing []string
	missing = append(missing, githubMissing(config)...)
	if config.GitHub.TemplateRepo == "" {
		missing = append(missing, "GITHUB_TEMPLATE_REPO")
	}
	if config.OpenAI.APIKey == "" {
		missing = append(missing, "OPENAI_API_KEY")
	}
	if config.SendGrid.APIKey == "" {
		missing = append(missing, "SENDGRID_API_KEY")
	}
	if config.SendGrid.From == "" {
		missing = append(missing, "EMAIL_FROM")
	}
	if config.CRM.APIKey == "" {
		missing = append(missing, "GHL_API_KEY")
	}
	if config.Azure.SubscriptionID == "" {
		missing = append(missing, "AZURE_SUBSCRIPTION_ID")
	}
	if config.Azure.TenantID == "" {
		missing = append(missing, "AZURE_TENANT_ID")
	}
	if config.Azure.StoragePrefix == "" {
		missing = append(missing, "STORAGE_PREFIX")
	}
	if config.Azure.SharedResourceGroup == "" {
		missing = append(missing, "SHARED_RESOURCE_GROUP")
	}
	if config.Azure.FrontDoorProfile == "" {
		missing = append(missing, "FRONTDOOR_PROFILE")
	}
	if config.Azure.FrontDoorEndpoint == "" {
		missing = append(missing, "FRONTDOOR_ENDPOINT")
	}
	return missingError(missing)
}

// githubMissing collects the GitHub variables every command needs.
func githubMissing(config *Config) []string {
	var missing []string
	if config.GitHub.Token == "" {
		missing = append(missing, "GITHUB_TOKEN")
	}
	if config.GitHub.Org == "" {
		missing = append(missing, "GITHUB_ORG")
	}
	return missing
}

// missingError turns the collected names into one error enumerating every
// missing variable, so a misconfigured deployment fails once with the full
// list instead of one variable per restart.
func missingError(missing []string) error {
	if len(missing) == 0 {
		return nil
	}
	return fmt.Errorf("missing required environment variables: %v", missing)
}
