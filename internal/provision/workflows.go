package provision

import (
	"fmt"
	"strings"
	"text/template"
)

// workflowTemplate renders one deploy workflow. Delimiters are [[ ]] so the
// template never collides with GitHub's own ${{ }} expression syntax.
var workflowTemplate = template.Must(template.New("deploy_workflow").Delims("[[", "]]").Parse(`name: [[.Name]]

on:
  push:
    branches:
      - [[.Branch]]
  workflow_dispatch:

permissions:
  id-token: write
  contents: read

jobs:
  build-and-deploy:
    runs-on: ubuntu-latest
    steps:
      - name: Checkout
        uses: actions/checkout@v4

      - name: Set up Node
        uses: actions/setup-node@v4
        with:
          node-version: 20

      - name: Build site
        run: |
          npm ci
          npm run build

      - name: Azure login
        uses: azure/login@v2
        with:
          client-id: [[.ClientID]]
          tenant-id: [[.TenantID]]
          subscription-id: [[.SubscriptionID]]

      - name: Upload to storage
        uses: azure/cli@v2
        with:
          inlineScript: |
            az storage blob upload-batch \
              --auth-mode login \
              --account-name [[.StorageAccount]] \
              --destination '$web' \
              --source dist \
              --overwrite
`))

// workflowData feeds workflowTemplate.
type workflowData struct {
	Name           string
	Branch         string
	ClientID       string
	TenantID       string
	SubscriptionID string
	StorageAccount string
}

// DeployWorkflow describes one rendered CI workflow and where it belongs.
type DeployWorkflow struct {
	Path    string
	Branch  string
	Content []byte
}

// RenderDeployWorkflows produces the two CI workflows: test deploys on
// master, production on main. Each workflow lands on the branch that
// triggers it.
func RenderDeployWorkflows(tenantID, subscriptionID string, test, prod workflowTarget) ([]DeployWorkflow, error) {
	targets := []struct {
		data workflowData
		path string
	}{
		{
			path: ".github/workflows/deploy-test.yml",
			data: workflowData{
				Name:           "Deploy test site",
				Branch:         test.Branch,
				ClientID:       test.AppID,
				TenantID:       tenantID,
				SubscriptionID: subscriptionID,
				StorageAccount: test.StorageAccount,
			},
		},
		{
			path: ".github/workflows/deploy-prod.yml",
			data: workflowData{
				Name:           "Deploy production site",
				Branch:         prod.Branch,
				ClientID:       prod.AppID,
				TenantID:       tenantID,
				SubscriptionID: subscriptionID,
				StorageAccount: prod.StorageAccount,
			},
		},
	}

	workflows := make([]DeployWorkflow, 0, len(targets))
	for _, t := range targets {
		var b strings.Builder
		if err := workflowTemplate.Execute(&b, t.data); err != nil {
			return nil, fmt.Errorf("failed to render workflow %s: %w", t.path, err)
		}
		workflows = append(workflows, DeployWorkflow{
			Path:    t.path,
			Branch:  t.data.Branch,
			Content: []byte(b.String()),
		})
	}
	return workflows, nil
}

// workflowTarget binds one environment's branch, identity and storage.
type workflowTarget struct {
	Branch         string
	AppID          string
	StorageAccount string
}
