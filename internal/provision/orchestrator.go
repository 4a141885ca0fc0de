// Package provision runs the per-client provisioning orchestrator: CRM
// records, the website repository, Azure storage and routing, deploy
// identities and CI wiring, driven as an idempotent sequence of steps.
package provision

import (
	"context"
	"fmt"
	"net/url"
	"time"

	"github.com/datan8/sitepilot/internal/azure"
	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/crm"
	"github.com/datan8/sitepilot/internal/githubops"
	"github.com/datan8/sitepilot/internal/logging"
	"github.com/datan8/sitepilot/internal/mailer"
	"github.com/datan8/sitepilot/pkg/models"
)

const (
	// pipelineName is the CRM pipeline new client opportunities land in.
	pipelineName = "Website Projects"

	// templateMarkerDir is the directory the repository template ships; it
	// is renamed to the repository name once the generated tree is visible.
	templateMarkerDir = "template-site"

	// markerPollBound and markerPollInterval bound the wait for template
	// generation to materialize the marker directory.
	markerPollBound    = 60 * time.Second
	markerPollInterval = 3 * time.Second

	testBranch = "master"
	prodBranch = "main"
)

// Step is one unit of the provisioning sequence. A failing critical step
// aborts the run; a failing non-critical step is recorded as a warning and
// the run continues.
type Step struct {
	Name     string
	Critical bool
	Run      func(ctx context.Context) error
}

// StepError reports which step failed and whether it aborted the run.
type StepError struct {
	Step     string
	Critical bool
	Err      error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("provisioning step %s failed: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }

// repoService is the slice of the repository provisioner the orchestrator
// drives.
type repoService interface {
	EnsureRepository(ctx context.Context, name string) (githubops.Repo, bool, error)
	DeleteWorkflows(ctx context.Context, repository, branch string) error
	WaitForDirectory(ctx context.Context, repository, branch, dir string, bound, interval time.Duration) error
	DirectoryExists(ctx context.Context, repository, branch, dir string) (bool, error)
	RenameDirectory(ctx context.Context, repository, branch, oldDir, newDir string) error
	EnsureBranch(ctx context.Context, repository, newBranch, fromBranch string) error
	ProtectBranch(ctx context.Context, repository, branch string) error
	PutFile(ctx context.Context, repository, branch, path, message string, content []byte) error
}

// cloudService is the slice of the Azure clients the orchestrator drives.
type cloudService interface {
	EnsureResourceGroup(ctx context.Context, name string) (string, error)
	EnsureStorageAccount(ctx context.Context, resourceGroup, name string) (azure.StorageAccount, bool, error)
	EnableStaticWebsite(ctx context.Context, accountName string) error
	EnsureFrontDoor(ctx context.Context, originHosts []string) (azure.FrontDoor, error)
	EnsureClientRoute(ctx context.Context, fd azure.FrontDoor, clientKey string) (string, error)
	EnsureApplication(ctx context.Context, displayName string) (azure.Application, error)
	EnsureFederatedCredential(ctx context.Context, app azure.Application, name, subject string) error
	EnsureServicePrincipal(ctx context.Context, app azure.Application) (string, error)
	EnsureRoleAssignment(ctx context.Context, scope, principalID string) error
}

// crmService is the slice of the CRM client the orchestrator drives.
type crmService interface {
	FindPipeline(ctx context.Context, name string) (*crm.Pipeline, error)
	LookupContact(ctx context.Context, email string) (*crm.Contact, error)
	CreateContact(ctx context.Context, name, email, website string) (*crm.Contact, error)
	FindOpportunity(ctx context.Context, pipelineID, title string) (*crm.Opportunity, error)
	CreateOpportunity(ctx context.Context, pipelineID, stageID, contactID, title, description string) (*crm.Opportunity, error)
}

// mailSender delivers the summary notification.
type mailSender interface {
	Send(msg mailer.Message) error
}

// briefGenerator produces the deployment-content brief.
type briefGenerator interface {
	DeploymentPrompt(ctx context.Context, lead models.Lead) string
}

// Orchestrator provisions everything one client needs.
type Orchestrator struct {
	cfg    *config.Config
	repos  repoService
	cloud  cloudService
	crm    crmService
	mail   mailSender
	briefs briefGenerator
}

// NewOrchestrator wires the orchestrator with live service clients.
func NewOrchestrator(cfg *config.Config) (*Orchestrator, error) {
	repos, err := githubops.NewProvisioner(cfg.GitHub)
	if err != nil {
		return nil, err
	}
	cloud, err := azure.NewClients(cfg.Azure)
	if err != nil {
		return nil, err
	}

	return &Orchestrator{
		cfg:    cfg,
		repos:  repos,
		cloud:  cloud,
		crm:    crm.NewClient(cfg.CRM),
		mail:   mailer.NewMailer(cfg.SendGrid),
		briefs: NewPromptGenerator(cfg.OpenAI),
	}, nil
}

// runState carries intermediate results between steps of one run.
type runState struct {
	lead models.Lead
	res  *models.ProvisionedResources

	pipeline *crm.Pipeline
	contact  *crm.Contact

	repo githubops.Repo

	testGroup   string
	prodGroup   string
	testStorage azure.StorageAccount
	prodStorage azure.StorageAccount

	testAppID string
	prodAppID string
}

// Run provisions all resources for the lead. Every step is idempotent;
// re-running after a failure picks up where the previous run stopped and
// never duplicates what already exists. The returned resources are valid
// (partial) even when err is non-nil.
func (o *Orchestrator) Run(ctx context.Context, lead models.Lead) (models.ProvisionedResources, error) {
	clientKey := SanitizeClientKey(lead.Name)
	if clientKey == "" {
		return models.ProvisionedResources{}, fmt.Errorf("client name %q yields no usable identifier", lead.Name)
	}

	res := models.ProvisionedResources{ClientKey: clientKey}
	state := &runState{lead: lead, res: &res}

	logging.Info("provisioning run starting", "client", clientKey)

	for _, step := range o.steps(clientKey, state) {
		logging.Info("provisioning step", "step", step.Name)
		err := step.Run(ctx)
		if err == nil {
			continue
		}
		if !step.Critical {
			logging.Warn("non-critical step failed, continuing",
				"step", step.Name,
				"error", err)
			res.Warnings = append(res.Warnings, fmt.Sprintf("%s: %v", step.Name, err))
			continue
		}
		return res, &StepError{Step: step.Name, Critical: true, Err: err}
	}

	logging.Info("provisioning run complete",
		"client", clientKey,
		"warnings", len(res.Warnings))
	return res, nil
}

// steps builds the run's step table in dependency order.
func (o *Orchestrator) steps(clientKey string, s *runState) []Step {
	return []Step{
		{Name: "crm-pipeline", Critical: false, Run: s.findPipeline(o.crm)},
		{Name: "crm-contact", Critical: false, Run: s.ensureContact(o.crm)},
		{Name: "crm-opportunity", Critical: false, Run: s.ensureOpportunity(o.crm)},
		{Name: "repository", Critical: true, Run: s.ensureRepository(o.repos, o.cfg.GitHub.Org, clientKey)},
		{Name: "branch-protection", Critical: false, Run: s.protectDefaultBranch(o.repos)},
		{Name: "resource-groups", Critical: true, Run: s.ensureResourceGroups(o.cloud, o.cfg.Azure.StoragePrefix)},
		{Name: "storage-accounts", Critical: true, Run: s.ensureStorageAccounts(o.cloud, o.cfg.Azure.StoragePrefix, clientKey)},
		{Name: "front-door", Critical: true, Run: s.ensureRouting(o.cloud, clientKey)},
		{Name: "test-branch", Critical: true, Run: s.ensureTestBranch(o.repos)},
		{Name: "deploy-identities", Critical: true, Run: s.ensureIdentities(o.cloud, o.cfg.GitHub.Org, clientKey)},
		{Name: "ci-workflows", Critical: true, Run: s.writeWorkflows(o.repos, o.cfg.Azure)},
		{Name: "deployment-brief", Critical: false, Run: s.writeBrief(o.repos, o.briefs)},
		{Name: "summary-email", Critical: false, Run: s.sendSummary(o.mail)},
	}
}

func (s *runState) findPipeline(crmClient crmService) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		pipeline, err := crmClient.FindPipeline(ctx, pipelineName)
		if err != nil {
			return err
		}
		if pipeline == nil {
			return fmt.Errorf("pipeline %q not found in CRM", pipelineName)
		}
		if len(pipeline.Stages) == 0 {
			return fmt.Errorf("pipeline %q has no stages", pipelineName)
		}
		s.pipeline = pipeline
		return nil
	}
}

func (s *runState) ensureContact(crmClient crmService) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		contact, _, err := Reconcile(ctx, fmt.Sprintf("crm contact %s", s.lead.Email),
			func(ctx context.Context) (*crm.Contact, error) {
				return crmClient.LookupContact(ctx, s.lead.Email)
			},
			func(ctx context.Context) (*crm.Contact, error) {
				return crmClient.CreateContact(ctx, s.lead.Name, s.lead.Email, s.lead.Website)
			})
		if err != nil {
			return err
		}
		s.contact = contact
		s.res.ContactID = contact.ID
		return nil
	}
}

func (s *runState) ensureOpportunity(crmClient crmService) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		// Depends on the two previous CRM steps; either may have failed
		// non-critically.
		if s.pipeline == nil || s.contact == nil {
			return fmt.Errorf("pipeline or contact unavailable, skipping opportunity")
		}

		title := fmt.Sprintf("Website: %s", s.lead.Name)
		opportunity, _, err := Reconcile(ctx, fmt.Sprintf("crm opportunity %q", title),
			func(ctx context.Context) (*crm.Opportunity, error) {
				return crmClient.FindOpportunity(ctx, s.pipeline.ID, title)
			},
			func(ctx context.Context) (*crm.Opportunity, error) {
				return crmClient.CreateOpportunity(ctx, s.pipeline.ID, s.pipeline.Stages[0].ID,
					s.contact.ID, title, s.lead.Payload)
			})
		if err != nil {
			return err
		}
		s.res.OpportunityID = opportunity.ID
		return nil
	}
}

func (s *runState) ensureRepository(repos repoService, org, clientKey string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		name := RepoName(clientKey)
		repo, created, err := repos.EnsureRepository(ctx, name)
		if err != nil {
			return err
		}

		if created {
			if err := repos.DeleteWorkflows(ctx, name, repo.DefaultBranch); err != nil {
				return err
			}
			// Template generation is asynchronous; the tree is not
			// guaranteed to exist the moment the repository answers. If the
			// marker never appears the rename must not run against a
			// half-generated tree.
			if err := repos.WaitForDirectory(ctx, name, repo.DefaultBranch,
				templateMarkerDir, markerPollBound, markerPollInterval); err != nil {
				return err
			}
			if err := repos.RenameDirectory(ctx, name, repo.DefaultBranch,
				templateMarkerDir, name); err != nil {
				return err
			}
		} else {
			// A previous run may have created the repository and then failed
			// before the rename. When the marker directory is still present,
			// finish its pending cleanup so a re-run converges.
			pending, err := repos.DirectoryExists(ctx, name, repo.DefaultBranch, templateMarkerDir)
			if err != nil {
				return err
			}
			if pending {
				if err := repos.DeleteWorkflows(ctx, name, repo.DefaultBranch); err != nil {
					return err
				}
				if err := repos.RenameDirectory(ctx, name, repo.DefaultBranch,
					templateMarkerDir, name); err != nil {
					return err
				}
			}
		}

		s.repo = repo
		s.res.Repository = org + "/" + repo.Name
		s.res.RepositoryURL = repo.HTMLURL
		return nil
	}
}

func (s *runState) protectDefaultBranch(repos repoService) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return repos.ProtectBranch(ctx, s.repo.Name, s.repo.DefaultBranch)
	}
}

func (s *runState) ensureResourceGroups(cloud cloudService, prefix string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		testGroup, err := cloud.EnsureResourceGroup(ctx, ResourceGroupName(prefix, "test"))
		if err != nil {
			return err
		}
		prodGroup, err := cloud.EnsureResourceGroup(ctx, ResourceGroupName(prefix, "prod"))
		if err != nil {
			return err
		}
		s.testGroup = testGroup
		s.prodGroup = prodGroup
		return nil
	}
}

func (s *runState) ensureStorageAccounts(cloud cloudService, prefix, clientKey string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		test, err := ensureSiteStorage(ctx, cloud, s.testGroup, StorageAccountName(prefix, "test", clientKey))
		if err != nil {
			return err
		}
		prod, err := ensureSiteStorage(ctx, cloud, s.prodGroup, StorageAccountName(prefix, "prod", clientKey))
		if err != nil {
			return err
		}

		s.testStorage = test
		s.prodStorage = prod
		s.res.TestStorageAccount = test.Name
		s.res.ProdStorageAccount = prod.Name
		s.res.TestSiteURL = test.WebEndpoint
		s.res.ProdSiteURL = prod.WebEndpoint
		return nil
	}
}

// ensureSiteStorage creates the account when absent and enables static
// hosting on first creation only, so a re-run never resets a customized
// error document.
func ensureSiteStorage(ctx context.Context, cloud cloudService, resourceGroup, name string) (azure.StorageAccount, error) {
	account, created, err := cloud.EnsureStorageAccount(ctx, resourceGroup, name)
	if err != nil {
		return azure.StorageAccount{}, err
	}
	if created {
		if err := cloud.EnableStaticWebsite(ctx, name); err != nil {
			return azure.StorageAccount{}, err
		}
	}
	return account, nil
}

func (s *runState) ensureRouting(cloud cloudService, clientKey string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		hosts := make([]string, 0, 2)
		for _, endpoint := range []string{s.testStorage.WebEndpoint, s.prodStorage.WebEndpoint} {
			host, err := endpointHostname(endpoint)
			if err != nil {
				return err
			}
			hosts = append(hosts, host)
		}

		fd, err := cloud.EnsureFrontDoor(ctx, hosts)
		if err != nil {
			return err
		}
		routeURL, err := cloud.EnsureClientRoute(ctx, fd, clientKey)
		if err != nil {
			return err
		}
		s.res.RouteURL = routeURL
		return nil
	}
}

func (s *runState) ensureTestBranch(repos repoService) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		return repos.EnsureBranch(ctx, s.repo.Name, testBranch, s.repo.DefaultBranch)
	}
}

func (s *runState) ensureIdentities(cloud cloudService, org, clientKey string) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		testAppID, err := ensureDeployIdentity(ctx, cloud, org, s.repo.Name,
			AppDisplayName(clientKey, testBranch), testBranch, s.testStorage.ID)
		if err != nil {
			return err
		}
		prodAppID, err := ensureDeployIdentity(ctx, cloud, org, s.repo.Name,
			AppDisplayName(clientKey, prodBranch), prodBranch, s.prodStorage.ID)
		if err != nil {
			return err
		}

		s.testAppID = testAppID
		s.prodAppID = prodAppID
		s.res.TestAppID = testAppID
		s.res.ProdAppID = prodAppID
		return nil
	}
}

// ensureDeployIdentity builds the full OIDC chain for one branch: AD
// application, federated credential trusting the branch, service principal,
// and blob-writer role on the environment's storage account.
func ensureDeployIdentity(ctx context.Context, cloud cloudService, org, repo, displayName, branch, storageID string) (string, error) {
	app, err := cloud.EnsureApplication(ctx, displayName)
	if err != nil {
		return "", err
	}

	subject := azure.FederationSubject(org, repo, branch)
	if err := cloud.EnsureFederatedCredential(ctx, app, "github-"+branch, subject); err != nil {
		return "", err
	}

	principalID, err := cloud.EnsureServicePrincipal(ctx, app)
	if err != nil {
		return "", err
	}
	if err := cloud.EnsureRoleAssignment(ctx, storageID, principalID); err != nil {
		return "", err
	}
	return app.AppID, nil
}

func (s *runState) writeWorkflows(repos repoService, cfg config.AzureConfig) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		workflows, err := RenderDeployWorkflows(cfg.TenantID, cfg.SubscriptionID,
			workflowTarget{Branch: testBranch, AppID: s.testAppID, StorageAccount: s.testStorage.Name},
			workflowTarget{Branch: prodBranch, AppID: s.prodAppID, StorageAccount: s.prodStorage.Name})
		if err != nil {
			return err
		}

		for _, wf := range workflows {
			err := repos.PutFile(ctx, s.repo.Name, wf.Branch, wf.Path,
				fmt.Sprintf("Add %s deploy workflow", wf.Branch), wf.Content)
			if err != nil {
				return err
			}
		}
		return nil
	}
}

func (s *runState) writeBrief(repos repoService, briefs briefGenerator) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		brief := briefs.DeploymentPrompt(ctx, s.lead)
		return repos.PutFile(ctx, s.repo.Name, s.repo.DefaultBranch, "AI_PROMPT.md",
			"Add website content brief", []byte(brief))
	}
}

func (s *runState) sendSummary(mail mailSender) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		msg, err := mailer.ProvisioningSummary(s.lead.Email, *s.res)
		if err != nil {
			return err
		}
		return mail.Send(msg)
	}
}

// endpointHostname extracts the bare host from a storage web endpoint URL.
func endpointHostname(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("invalid storage web endpoint %q", endpoint)
	}
	return u.Host, nil
}
