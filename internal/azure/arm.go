// Package azure provides the cloud adapters for provisioning: resource
// groups, storage accounts, Front Door routing, AD identities and role
// assignments. Every operation is lookup-before-create so re-running a
// provisioning run reuses what already exists.
package azure

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/cdn/armcdn"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/resources/armresources"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/storage/armstorage"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"
	msgraphsdk "github.com/microsoftgraph/msgraph-sdk-go"

	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/logging"
)

// Clients bundles the ARM and Graph clients one provisioning run uses.
type Clients struct {
	cfg  config.AzureConfig
	cred azcore.TokenCredential

	groups       *armresources.ResourceGroupsClient
	accounts     *armstorage.AccountsClient
	profiles     *armcdn.ProfilesClient
	endpoints    *armcdn.AFDEndpointsClient
	originGroups *armcdn.AFDOriginGroupsClient
	origins      *armcdn.AFDOriginsClient
	ruleSets     *armcdn.RuleSetsClient
	rules        *armcdn.RulesClient
	routes       *armcdn.RoutesClient
	assignments  *armauthorization.RoleAssignmentsClient
	graph        *msgraphsdk.GraphServiceClient
}

// NewClients authenticates with the default credential chain and builds
// every client the orchestrator needs up front, so a credential problem
// fails the run before any resource is touched.
func NewClients(cfg config.AzureConfig) (*Clients, error) {
	cred, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to obtain azure credential: %w", err)
	}

	groups, err := armresources.NewResourceGroupsClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource groups client: %w", err)
	}
	accounts, err := armstorage.NewAccountsClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create storage accounts client: %w", err)
	}
	profiles, err := armcdn.NewProfilesClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cdn profiles client: %w", err)
	}
	endpoints, err := armcdn.NewAFDEndpointsClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create front door endpoints client: %w", err)
	}
	originGroups, err := armcdn.NewAFDOriginGroupsClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create origin groups client: %w", err)
	}
	origins, err := armcdn.NewAFDOriginsClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create origins client: %w", err)
	}
	ruleSets, err := armcdn.NewRuleSetsClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create rule sets client: %w", err)
	}
	rules, err := armcdn.NewRulesClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create rules client: %w", err)
	}
	routes, err := armcdn.NewRoutesClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create routes client: %w", err)
	}
	assignments, err := armauthorization.NewRoleAssignmentsClient(cfg.SubscriptionID, cred, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create role assignments client: %w", err)
	}
	graph, err := msgraphsdk.NewGraphServiceClientWithCredentials(cred,
		[]string{"https://graph.microsoft.com/.default"})
	if err != nil {
		return nil, fmt.Errorf("failed to create graph client: %w", err)
	}

	return &Clients{
		cfg:          cfg,
		cred:         cred,
		groups:       groups,
		accounts:     accounts,
		profiles:     profiles,
		endpoints:    endpoints,
		originGroups: originGroups,
		origins:      origins,
		ruleSets:     ruleSets,
		rules:        rules,
		routes:       routes,
		assignments:  assignments,
		graph:        graph,
	}, nil
}

// EnsureResourceGroup returns the resource group's id, creating it in the
// configured location when absent.
func (c *Clients) EnsureResourceGroup(ctx context.Context, name string) (string, error) {
	existing, err := c.groups.Get(ctx, name, nil)
	if err == nil {
		return *existing.ID, nil
	}
	if !isNotFound(err) {
		return "", fmt.Errorf("failed to check resource group %s: %w", name, err)
	}

	created, err := c.groups.CreateOrUpdate(ctx, name, armresources.ResourceGroup{
		Location: to.Ptr(c.cfg.Location),
	}, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create resource group %s: %w", name, err)
	}

	logging.Info("resource group created", "name", name, "location", c.cfg.Location)
	return *created.ID, nil
}

// StorageAccount is the subset of storage account data provisioning uses.
type StorageAccount struct {
	Name        string
	ID          string
	WebEndpoint string
}

// EnsureStorageAccount returns the storage account, creating a StorageV2
// account with HTTPS-only access when absent. The created flag tells the
// caller whether static hosting still needs enabling; it is configured on
// first creation only so a re-run never resets a customized error page.
func (c *Clients) EnsureStorageAccount(ctx context.Context, resourceGroup, name string) (StorageAccount, bool, error) {
	existing, err := c.accounts.GetProperties(ctx, resourceGroup, name, nil)
	if err == nil {
		return toStorageAccount(existing.Account), false, nil
	}
	if !isNotFound(err) {
		return StorageAccount{}, false, fmt.Errorf("failed to check storage account %s: %w", name, err)
	}

	poller, err := c.accounts.BeginCreate(ctx, resourceGroup, name, armstorage.AccountCreateParameters{
		Location: to.Ptr(c.cfg.Location),
		Kind:     to.Ptr(armstorage.KindStorageV2),
		SKU:      &armstorage.SKU{Name: to.Ptr(armstorage.SKUNameStandardLRS)},
		Properties: &armstorage.AccountPropertiesCreateParameters{
			EnableHTTPSTrafficOnly: to.Ptr(true),
			MinimumTLSVersion:      to.Ptr(armstorage.MinimumTLSVersionTLS12),
			AllowBlobPublicAccess:  to.Ptr(true),
		},
	}, nil)
	if err != nil {
		return StorageAccount{}, false, fmt.Errorf("failed to start creating storage account %s: %w", name, err)
	}

	result, err := poller.PollUntilDone(ctx, nil)
	if err != nil {
		return StorageAccount{}, false, fmt.Errorf("failed to create storage account %s: %w", name, err)
	}

	logging.Info("storage account created", "name", name, "resource_group", resourceGroup)
	return toStorageAccount(result.Account), true, nil
}

// EnableStaticWebsite turns on static hosting on the account's blob
// service with the conventional index and error documents.
func (c *Clients) EnableStaticWebsite(ctx context.Context, accountName string) error {
	serviceURL := fmt.Sprintf("https://%s.blob.core.windows.net/", accountName)
	client, err := service.NewClient(serviceURL, c.cred, nil)
	if err != nil {
		return fmt.Errorf("failed to create blob service client for %s: %w", accountName, err)
	}

	_, err = client.SetProperties(ctx, &service.SetPropertiesOptions{
		StaticWebsite: &service.StaticWebsite{
			Enabled:              to.Ptr(true),
			IndexDocument:        to.Ptr("index.html"),
			ErrorDocument404Path: to.Ptr("404.html"),
		},
	})
	if err != nil {
		return fmt.Errorf("failed to enable static hosting on %s: %w", accountName, err)
	}

	logging.Info("static website hosting enabled", "account", accountName)
	return nil
}

func toStorageAccount(account armstorage.Account) StorageAccount {
	result := StorageAccount{}
	if account.Name != nil {
		result.Name = *account.Name
	}
	if account.ID != nil {
		result.ID = *account.ID
	}
	if account.Properties != nil &&
		account.Properties.PrimaryEndpoints != nil &&
		account.Properties.PrimaryEndpoints.Web != nil {
		result.WebEndpoint = *account.Properties.PrimaryEndpoints.Web
	}
	return result
}

// isNotFound reports whether err is an ARM 404.
func isNotFound(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusNotFound
}

// isConflict reports whether err is an ARM 409.
func isConflict(err error) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == http.StatusConflict
}

// hasErrorCode reports whether err carries the given ARM error code.
func hasErrorCode(err error, code string) bool {
	var respErr *azcore.ResponseError
	return errors.As(err, &respErr) && respErr.ErrorCode == code
}
