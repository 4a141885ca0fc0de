package azure

import (
	"context"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/resourcemanager/authorization/armauthorization/v2"
	"github.com/google/uuid"
	graphapplications "github.com/microsoftgraph/msgraph-sdk-go/applications"
	graphmodels "github.com/microsoftgraph/msgraph-sdk-go/models"
	graphserviceprincipals "github.com/microsoftgraph/msgraph-sdk-go/serviceprincipals"

	"github.com/datan8/sitepilot/internal/logging"
	"github.com/datan8/sitepilot/internal/retry"
)

// githubIssuer is the OIDC issuer GitHub Actions presents to Azure.
const githubIssuer = "https://token.actions.githubusercontent.com"

// storageBlobDataContributor is the built-in role the deploy identity
// needs on its storage account.
const storageBlobDataContributor = "ba92f5b4-2d11-453d-a403-e96b0029c9fe"

// Application is an AD application with the two ids that matter: AppID is
// what the workflow authenticates as, ObjectID addresses Graph resources.
type Application struct {
	AppID    string
	ObjectID string
}

// EnsureApplication returns the AD application with the given display
// name, creating it when absent. Display names are not unique in AD, so
// the lookup takes the first match; the deterministic naming scheme keeps
// one application per client/branch pair.
func (c *Clients) EnsureApplication(ctx context.Context, displayName string) (Application, error) {
	filter := fmt.Sprintf("displayName eq '%s'", displayName)
	existing, err := c.graph.Applications().Get(ctx, &graphapplications.ApplicationsRequestBuilderGetRequestConfiguration{
		QueryParameters: &graphapplications.ApplicationsRequestBuilderGetQueryParameters{
			Filter: to.Ptr(filter),
		},
	})
	if err != nil {
		return Application{}, fmt.Errorf("failed to search applications for %s: %w", displayName, err)
	}
	if apps := existing.GetValue(); len(apps) > 0 {
		return Application{
			AppID:    deref(apps[0].GetAppId()),
			ObjectID: deref(apps[0].GetId()),
		}, nil
	}

	app := graphmodels.NewApplication()
	app.SetDisplayName(to.Ptr(displayName))
	created, err := c.graph.Applications().Post(ctx, app, nil)
	if err != nil {
		return Application{}, fmt.Errorf("failed to create application %s: %w", displayName, err)
	}

	logging.Info("ad application created",
		"display_name", displayName,
		"app_id", deref(created.GetAppId()))
	return Application{
		AppID:    deref(created.GetAppId()),
		ObjectID: deref(created.GetId()),
	}, nil
}

// EnsureFederatedCredential makes sure the application trusts exactly the
// given GitHub branch. The subject string encodes org/repo and ref; an
// existing credential with the same name but a different subject is a
// stale trust relationship and is recreated, not left in place.
func (c *Clients) EnsureFederatedCredential(ctx context.Context, app Application, name, subject string) error {
	credentials := c.graph.Applications().ByApplicationId(app.ObjectID).FederatedIdentityCredentials()

	existing, err := credentials.Get(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to list federated credentials of %s: %w", app.ObjectID, err)
	}

	for _, cred := range existing.GetValue() {
		if deref(cred.GetName()) != name {
			continue
		}
		if deref(cred.GetSubject()) == subject {
			return nil
		}

		logging.Warn("federated credential subject mismatch, recreating",
			"name", name,
			"have", deref(cred.GetSubject()),
			"want", subject)
		if err := credentials.ByFederatedIdentityCredentialId(deref(cred.GetId())).Delete(ctx, nil); err != nil {
			return fmt.Errorf("failed to delete stale federated credential %s: %w", name, err)
		}
		break
	}

	cred := graphmodels.NewFederatedIdentityCredential()
	cred.SetName(to.Ptr(name))
	cred.SetIssuer(to.Ptr(githubIssuer))
	cred.SetSubject(to.Ptr(subject))
	cred.SetAudiences([]string{"api://AzureADTokenExchange"})

	if _, err := credentials.Post(ctx, cred, nil); err != nil {
		return fmt.Errorf("failed to create federated credential %s: %w", name, err)
	}

	logging.Info("federated credential created", "name", name, "subject", subject)
	return nil
}

// EnsureServicePrincipal makes sure the application has a service
// principal in the directory and waits for it to propagate: a principal
// can take from seconds to low minutes to become visible to ARM, and a
// role assignment against an unpropagated principal fails.
func (c *Clients) EnsureServicePrincipal(ctx context.Context, app Application) (string, error) {
	filter := fmt.Sprintf("appId eq '%s'", app.AppID)
	existing, err := c.graph.ServicePrincipals().Get(ctx, &graphserviceprincipals.ServicePrincipalsRequestBuilderGetRequestConfiguration{
		QueryParameters: &graphserviceprincipals.ServicePrincipalsRequestBuilderGetQueryParameters{
			Filter: to.Ptr(filter),
		},
	})
	if err != nil {
		return "", fmt.Errorf("failed to search service principals for %s: %w", app.AppID, err)
	}
	if sps := existing.GetValue(); len(sps) > 0 {
		return deref(sps[0].GetId()), nil
	}

	sp := graphmodels.NewServicePrincipal()
	sp.SetAppId(to.Ptr(app.AppID))
	created, err := c.graph.ServicePrincipals().Post(ctx, sp, nil)
	if err != nil {
		return "", fmt.Errorf("failed to create service principal for %s: %w", app.AppID, err)
	}
	principalID := deref(created.GetId())

	logging.Info("service principal created", "app_id", app.AppID, "principal_id", principalID)

	// Directory propagation wait: poll until the principal is readable
	// again before anything downstream references it.
	err = retry.PollUntil(ctx, fmt.Sprintf("service principal %s propagation", principalID),
		2*time.Minute, 5*time.Second,
		func(ctx context.Context) (bool, error) {
			found, err := c.graph.ServicePrincipals().Get(ctx, &graphserviceprincipals.ServicePrincipalsRequestBuilderGetRequestConfiguration{
				QueryParameters: &graphserviceprincipals.ServicePrincipalsRequestBuilderGetQueryParameters{
					Filter: to.Ptr(filter),
				},
			})
			if err != nil {
				// Graph itself flaking during propagation is part of
				// what the poll absorbs.
				return false, nil
			}
			return len(found.GetValue()) > 0, nil
		})
	if err != nil {
		return "", err
	}

	return principalID, nil
}

// EnsureRoleAssignment grants the service principal Storage Blob Data
// Contributor on the given scope. ARM can still answer PrincipalNotFound
// shortly after propagation, so the assignment is retried on a fixed
// policy; an assignment that already exists counts as success.
func (c *Clients) EnsureRoleAssignment(ctx context.Context, scope, principalID string) error {
	roleDefinitionID := fmt.Sprintf(
		"/subscriptions/%s/providers/Microsoft.Authorization/roleDefinitions/%s",
		c.cfg.SubscriptionID, storageBlobDataContributor)

	policy := retry.Policy{
		MaxAttempts: 3,
		Delay:       60 * time.Second,
		Retryable: func(err error) bool {
			return hasErrorCode(err, "PrincipalNotFound")
		},
	}

	return policy.Do(ctx, func(ctx context.Context) error {
		_, err := c.assignments.Create(ctx, scope, uuid.NewString(),
			armauthorization.RoleAssignmentCreateParameters{
				Properties: &armauthorization.RoleAssignmentProperties{
					PrincipalID:      to.Ptr(principalID),
					PrincipalType:    to.Ptr(armauthorization.PrincipalTypeServicePrincipal),
					RoleDefinitionID: to.Ptr(roleDefinitionID),
				},
			}, nil)
		if err != nil {
			if isConflict(err) || hasErrorCode(err, "RoleAssignmentExists") {
				logging.Debug("role assignment already exists",
					"scope", scope,
					"principal_id", principalID)
				return nil
			}
			return fmt.Errorf("failed to assign role on %s: %w", scope, err)
		}

		logging.Info("role assignment created", "scope", scope, "principal_id", principalID)
		return nil
	})
}

// FederationSubject builds the OIDC subject string for a branch:
// repo:<org>/<repo>:ref:refs/heads/<branch>.
func FederationSubject(org, repo, branch string) string {
	return fmt.Sprintf("repo:%s/%s:ref:refs/heads/%s", org, repo, branch)
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
