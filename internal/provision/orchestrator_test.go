package provision

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datan8/sitepilot/internal/azure"
	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/crm"
	"github.com/datan8/sitepilot/internal/githubops"
	"github.com/datan8/sitepilot/internal/mailer"
	"github.com/datan8/sitepilot/internal/retry"
	"github.com/datan8/sitepilot/pkg/models"
)

const testTimeout = 5 * time.Second

type fakeRepos struct {
	repos            map[string]githubops.Repo
	created          []string
	deletedWorkflows int
	waitErr          error
	markerPresent    bool
	renames          int
	branches         map[string]bool
	protects         int
	protectErr       error
	files            map[string][]byte
}

func newFakeRepos() *fakeRepos {
	return &fakeRepos{
		repos:    make(map[string]githubops.Repo),
		branches: make(map[string]bool),
		files:    make(map[string][]byte),
	}
}

func (f *fakeRepos) EnsureRepository(ctx context.Context, name string) (githubops.Repo, bool, error) {
	if repo, ok := f.repos[name]; ok {
		return repo, false, nil
	}
	repo := githubops.Repo{
		Name:          name,
		FullName:      "datan8/" + name,
		HTMLURL:       "https://github.com/datan8/" + name,
		DefaultBranch: "main",
	}
	f.repos[name] = repo
	f.created = append(f.created, name)
	f.markerPresent = true
	return repo, true, nil
}

func (f *fakeRepos) DeleteWorkflows(ctx context.Context, repository, branch string) error {
	f.deletedWorkflows++
	return nil
}

func (f *fakeRepos) WaitForDirectory(ctx context.Context, repository, branch, dir string, bound, interval time.Duration) error {
	return f.waitErr
}

func (f *fakeRepos) DirectoryExists(ctx context.Context, repository, branch, dir string) (bool, error) {
	return f.markerPresent, nil
}

func (f *fakeRepos) RenameDirectory(ctx context.Context, repository, branch, oldDir, newDir string) error {
	f.renames++
	f.markerPresent = false
	return nil
}

func (f *fakeRepos) EnsureBranch(ctx context.Context, repository, newBranch, fromBranch string) error {
	f.branches[repository+":"+newBranch] = true
	return nil
}

func (f *fakeRepos) ProtectBranch(ctx context.Context, repository, branch string) error {
	if f.protectErr != nil {
		return f.protectErr
	}
	f.protects++
	return nil
}

func (f *fakeRepos) PutFile(ctx context.Context, repository, branch, path, message string, content []byte) error {
	f.files[branch+":"+path] = content
	return nil
}

type fakeCloud struct {
	groups          map[string]bool
	accounts        map[string]azure.StorageAccount
	accountsCreated int
	staticEnabled   []string
	routes          []string
	apps            map[string]azure.Application
	appsCreated     int
	federated       map[string]string
	principals      map[string]string
	assignments     []string
}

func newFakeCloud() *fakeCloud {
	return &fakeCloud{
		groups:     make(map[string]bool),
		accounts:   make(map[string]azure.StorageAccount),
		apps:       make(map[string]azure.Application),
		federated:  make(map[string]string),
		principals: make(map[string]string),
	}
}

func (f *fakeCloud) EnsureResourceGroup(ctx context.Context, name string) (string, error) {
	f.groups[name] = true
	return name, nil
}

func (f *fakeCloud) EnsureStorageAccount(ctx context.Context, resourceGroup, name string) (azure.StorageAccount, bool, error) {
	if account, ok := f.accounts[name]; ok {
		return account, false, nil
	}
	account := azure.StorageAccount{
		Name:        name,
		ID:          "/subscriptions/sub-1/resourceGroups/" + resourceGroup + "/providers/Microsoft.Storage/storageAccounts/" + name,
		WebEndpoint: "https://" + name + ".z8.web.core.windows.net/",
	}
	f.accounts[name] = account
	f.accountsCreated++
	return account, true, nil
}

func (f *fakeCloud) EnableStaticWebsite(ctx context.Context, accountName string) error {
	f.staticEnabled = append(f.staticEnabled, accountName)
	return nil
}

func (f *fakeCloud) EnsureFrontDoor(ctx context.Context, originHosts []string) (azure.FrontDoor, error) {
	return azure.FrontDoor{
		ProfileName:  "shared",
		EndpointName: "sites",
		EndpointHost: "sites.azurefd.net",
	}, nil
}

func (f *fakeCloud) EnsureClientRoute(ctx context.Context, fd azure.FrontDoor, clientKey string) (string, error) {
	f.routes = append(f.routes, clientKey)
	return "https://" + fd.EndpointHost + "/" + clientKey + "/", nil
}

func (f *fakeCloud) EnsureApplication(ctx context.Context, displayName string) (azure.Application, error) {
	if app, ok := f.apps[displayName]; ok {
		return app, nil
	}
	app := azure.Application{
		AppID:    "app-" + displayName,
		ObjectID: "obj-" + displayName,
	}
	f.apps[displayName] = app
	f.appsCreated++
	return app, nil
}

func (f *fakeCloud) EnsureFederatedCredential(ctx context.Context, app azure.Application, name, subject string) error {
	f.federated[app.ObjectID+":"+name] = subject
	return nil
}

func (f *fakeCloud) EnsureServicePrincipal(ctx context.Context, app azure.Application) (string, error) {
	if id, ok := f.principals[app.AppID]; ok {
		return id, nil
	}
	id := "sp-" + app.AppID
	f.principals[app.AppID] = id
	return id, nil
}

func (f *fakeCloud) EnsureRoleAssignment(ctx context.Context, scope, principalID string) error {
	f.assignments = append(f.assignments, scope+":"+principalID)
	return nil
}

type fakeCRM struct {
	pipeline        *crm.Pipeline
	pipelineErr     error
	contacts        map[string]*crm.Contact
	contactsCreated int
	opportunities   map[string]*crm.Opportunity
	oppsCreated     int
}

func newFakeCRM() *fakeCRM {
	return &fakeCRM{
		pipeline: &crm.Pipeline{
			ID:     "pipe-1",
			Name:   pipelineName,
			Stages: []crm.Stage{{ID: "stage-1", Name: "New"}},
		},
		contacts:      make(map[string]*crm.Contact),
		opportunities: make(map[string]*crm.Opportunity),
	}
}

func (f *fakeCRM) FindPipeline(ctx context.Context, name string) (*crm.Pipeline, error) {
	if f.pipelineErr != nil {
		return nil, f.pipelineErr
	}
	return f.pipeline, nil
}

func (f *fakeCRM) LookupContact(ctx context.Context, email string) (*crm.Contact, error) {
	return f.contacts[email], nil
}

func (f *fakeCRM) CreateContact(ctx context.Context, name, email, website string) (*crm.Contact, error) {
	contact := &crm.Contact{ID: "contact-" + email, Name: name, Email: email, Website: website}
	f.contacts[email] = contact
	f.contactsCreated++
	return contact, nil
}

func (f *fakeCRM) FindOpportunity(ctx context.Context, pipelineID, title string) (*crm.Opportunity, error) {
	return f.opportunities[title], nil
}

func (f *fakeCRM) CreateOpportunity(ctx context.Context, pipelineID, stageID, contactID, title, description string) (*crm.Opportunity, error) {
	opp := &crm.Opportunity{ID: "opp-" + title, Title: title}
	f.opportunities[title] = opp
	f.oppsCreated++
	return opp, nil
}

type fakeMail struct {
	sent []mailer.Message
}

func (f *fakeMail) Send(msg mailer.Message) error {
	f.sent = append(f.sent, msg)
	return nil
}

type fakeBriefs struct{}

func (fakeBriefs) DeploymentPrompt(ctx context.Context, lead models.Lead) string {
	return "# Brief for " + lead.Name
}

func testConfig() *config.Config {
	return &config.Config{
		GitHub: config.GitHubConfig{
			Token:        "token",
			Org:          "datan8",
			TemplateRepo: "website-template",
		},
		Azure: config.AzureConfig{
			SubscriptionID:      "sub-1",
			TenantID:            "tenant-1",
			StoragePrefix:       "dn8",
			SharedResourceGroup: "dn8-shared-rg",
			FrontDoorProfile:    "shared",
			FrontDoorEndpoint:   "sites",
		},
	}
}

func testOrchestrator() (*Orchestrator, *fakeRepos, *fakeCloud, *fakeCRM, *fakeMail) {
	repos := newFakeRepos()
	cloud := newFakeCloud()
	crmFake := newFakeCRM()
	mail := &fakeMail{}
	o := &Orchestrator{
		cfg:    testConfig(),
		repos:  repos,
		cloud:  cloud,
		crm:    crmFake,
		mail:   mail,
		briefs: fakeBriefs{},
	}
	return o, repos, cloud, crmFake, mail
}

func testLead() models.Lead {
	return models.Lead{
		Name:    "Acme Plumbing",
		Email:   "owner@acmeplumbing.example",
		Website: "https://acmeplumbing.example",
		Payload: "name=Acme Plumbing&message=we need a website",
	}
}

func TestRunProvisionsEverything(t *testing.T) {
	o, repos, cloud, crmFake, mail := testOrchestrator()

	res, err := o.Run(context.Background(), testLead())
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	assert.Equal(t, "acme-plumbing", res.ClientKey)
	assert.Equal(t, "datan8/site-acme-plumbing", res.Repository)
	assert.Equal(t, "contact-owner@acmeplumbing.example", res.ContactID)
	assert.Equal(t, "opp-Website: Acme Plumbing", res.OpportunityID)
	assert.Equal(t, "dn8testacmeplumbing", res.TestStorageAccount)
	assert.Equal(t, "dn8prodacmeplumbing", res.ProdStorageAccount)
	assert.Equal(t, "https://sites.azurefd.net/acme-plumbing/", res.RouteURL)
	assert.Equal(t, "app-acme-plumbing-deploy-master", res.TestAppID)
	assert.Equal(t, "app-acme-plumbing-deploy-main", res.ProdAppID)

	// Repository went through the full first-creation path.
	assert.Equal(t, []string{"site-acme-plumbing"}, repos.created)
	assert.Equal(t, 1, repos.deletedWorkflows)
	assert.Equal(t, 1, repos.renames)
	assert.True(t, repos.branches["site-acme-plumbing:master"])
	assert.Equal(t, 1, repos.protects)

	// Both environments got storage with static hosting, one role each.
	assert.Equal(t, 2, cloud.accountsCreated)
	assert.Len(t, cloud.staticEnabled, 2)
	assert.Len(t, cloud.assignments, 2)
	assert.Equal(t, []string{"acme-plumbing"}, cloud.routes)

	// Federated credentials trust exactly the two deploy branches.
	assert.Equal(t, "repo:datan8/site-acme-plumbing:ref:refs/heads/master",
		cloud.federated["obj-acme-plumbing-deploy-master:github-master"])
	assert.Equal(t, "repo:datan8/site-acme-plumbing:ref:refs/heads/main",
		cloud.federated["obj-acme-plumbing-deploy-main:github-main"])

	// Workflows land on the branch that triggers them, brief on the default.
	assert.Contains(t, repos.files, "master:.github/workflows/deploy-test.yml")
	assert.Contains(t, repos.files, "main:.github/workflows/deploy-prod.yml")
	assert.Contains(t, repos.files, "main:AI_PROMPT.md")

	assert.Equal(t, 1, crmFake.contactsCreated)
	assert.Equal(t, 1, crmFake.oppsCreated)

	require.Len(t, mail.sent, 1)
	assert.Equal(t, "owner@acmeplumbing.example", mail.sent[0].To)
	assert.Contains(t, mail.sent[0].TextBody, "site-acme-plumbing")
}

func TestRunIsIdempotent(t *testing.T) {
	o, repos, cloud, crmFake, mail := testOrchestrator()

	_, err := o.Run(context.Background(), testLead())
	require.NoError(t, err)

	// Second run against everything the first run created.
	res, err := o.Run(context.Background(), testLead())
	require.NoError(t, err)
	assert.Empty(t, res.Warnings)

	assert.Len(t, repos.created, 1, "repository created once")
	assert.Equal(t, 1, repos.deletedWorkflows, "workflow cleanup only on first creation")
	assert.Equal(t, 1, repos.renames, "rename only on first creation")
	assert.Equal(t, 2, cloud.accountsCreated, "storage accounts created once")
	assert.Len(t, cloud.staticEnabled, 2, "static hosting not reconfigured on re-run")
	assert.Equal(t, 2, cloud.appsCreated, "applications created once")
	assert.Equal(t, 1, crmFake.contactsCreated)
	assert.Equal(t, 1, crmFake.oppsCreated)

	// The summary goes out every run; identifiers are identical.
	assert.Len(t, mail.sent, 2)
	assert.Equal(t, "datan8/site-acme-plumbing", res.Repository)
}

func TestMarkerTimeoutAbortsBeforeRename(t *testing.T) {
	o, repos, cloud, _, mail := testOrchestrator()
	repos.waitErr = &retry.TimeoutError{
		What:    fmt.Sprintf("directory %s in site-acme-plumbing", templateMarkerDir),
		Elapsed: markerPollBound,
	}

	_, err := o.Run(context.Background(), testLead())
	require.Error(t, err)

	var stepErr *StepError
	require.ErrorAs(t, err, &stepErr)
	assert.Equal(t, "repository", stepErr.Step)
	assert.True(t, stepErr.Critical)

	var timeoutErr *retry.TimeoutError
	assert.ErrorAs(t, err, &timeoutErr)

	assert.Zero(t, repos.renames, "rename must not run against a half-generated tree")
	assert.Empty(t, cloud.accounts, "cloud steps must not run after abort")
	assert.Empty(t, mail.sent)
}

func TestRerunFinishesPendingRename(t *testing.T) {
	o, repos, _, _, _ := testOrchestrator()
	repos.waitErr = &retry.TimeoutError{
		What:    fmt.Sprintf("directory %s in site-acme-plumbing", templateMarkerDir),
		Elapsed: markerPollBound,
	}

	// First run creates the repository but the template tree never shows up.
	_, err := o.Run(context.Background(), testLead())
	require.Error(t, err)
	assert.Zero(t, repos.renames)

	// Template generation caught up between runs.
	repos.waitErr = nil

	res, err := o.Run(context.Background(), testLead())
	require.NoError(t, err)

	assert.Len(t, repos.created, 1, "re-run finds the repository instead of recreating it")
	assert.Equal(t, 1, repos.renames, "pending rename completed on re-run")
	assert.Equal(t, 2, repos.deletedWorkflows, "workflow cleanup re-checked during recovery")
	assert.False(t, repos.markerPresent)
	assert.Equal(t, "datan8/site-acme-plumbing", res.Repository)
}

func TestCRMFailureIsWarningNotAbort(t *testing.T) {
	o, _, _, crmFake, mail := testOrchestrator()
	crmFake.pipelineErr = errors.New("crm is down")

	res, err := o.Run(context.Background(), testLead())
	require.NoError(t, err, "CRM steps are advisory")

	// Pipeline failed directly; the opportunity depends on it.
	require.Len(t, res.Warnings, 2)
	assert.Contains(t, res.Warnings[0], "crm-pipeline")
	assert.Contains(t, res.Warnings[1], "crm-opportunity")

	// Infrastructure still fully provisioned and reported.
	assert.Equal(t, "datan8/site-acme-plumbing", res.Repository)
	require.Len(t, mail.sent, 1)
	assert.Contains(t, mail.sent[0].TextBody, "manual follow-up")
}

func TestBranchProtectionFailureIsWarning(t *testing.T) {
	o, repos, _, _, _ := testOrchestrator()
	repos.protectErr = errors.New("403 upgrade required")

	res, err := o.Run(context.Background(), testLead())
	require.NoError(t, err)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "branch-protection")
}

func TestRunRejectsUnusableName(t *testing.T) {
	o, _, _, _, _ := testOrchestrator()

	_, err := o.Run(context.Background(), models.Lead{Name: "!!!"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no usable identifier")
}
