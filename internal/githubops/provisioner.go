// Package githubops provides the repository-provisioning operations: create
// from template, workflow cleanup, the directory rename over the git data
// API, branches, protection and CI file injection.
package githubops

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/go-github/v41/github"

	"github.com/datan8/sitepilot/internal/config"
	"github.com/datan8/sitepilot/internal/ghapi"
	"github.com/datan8/sitepilot/internal/logging"
	"github.com/datan8/sitepilot/internal/retry"
)

// Provisioner performs repository setup in one organization.
type Provisioner struct {
	client       *github.Client
	org          string
	templateRepo string
}

// NewProvisioner creates a provisioner from the given configuration.
func NewProvisioner(cfg config.GitHubConfig) (*Provisioner, error) {
	if cfg.Org == "" {
		return nil, fmt.Errorf("github organization not found in configuration")
	}

	client, err := ghapi.New(cfg)
	if err != nil {
		return nil, err
	}

	return &Provisioner{
		client:       client,
		org:          cfg.Org,
		templateRepo: cfg.TemplateRepo,
	}, nil
}

// Repo is the subset of repository metadata provisioning reports on.
type Repo struct {
	Name          string
	FullName      string
	HTMLURL       string
	DefaultBranch string
}

// EnsureRepository returns the named repository, generating it from the
// organization's template when absent. The created flag tells the caller
// whether the post-creation steps (workflow cleanup, directory rename)
// still need to run.
func (p *Provisioner) EnsureRepository(ctx context.Context, name string) (Repo, bool, error) {
	if p.templateRepo == "" {
		return Repo{}, false, fmt.Errorf("github template repository not found in configuration")
	}

	existing, _, err := p.client.Repositories.Get(ctx, p.org, name)
	if err == nil {
		logging.Info("repository already exists", "repository", existing.GetFullName())
		return toRepo(existing), false, nil
	}
	if !ghapi.IsNotFound(err) {
		return Repo{}, false, fmt.Errorf("failed to check repository %s/%s: %w", p.org, name, err)
	}

	created, _, err := p.client.Repositories.CreateFromTemplate(ctx, p.org, p.templateRepo,
		&github.TemplateRepoRequest{
			Name:        github.String(name),
			Owner:       github.String(p.org),
			Private:     github.Bool(true),
			Description: github.String(fmt.Sprintf("Client website generated from %s", p.templateRepo)),
		})
	if err != nil {
		return Repo{}, false, fmt.Errorf("failed to generate %s/%s from template %s: %w",
			p.org, name, p.templateRepo, err)
	}

	logging.Info("repository generated from template",
		"repository", created.GetFullName(),
		"template", p.templateRepo)
	return toRepo(created), true, nil
}

// DeleteWorkflows removes every workflow file the template shipped with.
// The template's CI belongs to the template; the client repository gets its
// own deploy workflows later in the run.
func (p *Provisioner) DeleteWorkflows(ctx context.Context, repository, branch string) error {
	const dir = ".github/workflows"

	_, entries, _, err := p.client.Repositories.GetContents(ctx, p.org, repository, dir,
		&github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if ghapi.IsNotFound(err) {
			return nil
		}
		return fmt.Errorf("failed to list template workflows in %s: %w", repository, err)
	}

	for _, entry := range entries {
		if entry.GetType() != "file" {
			continue
		}
		_, _, err := p.client.Repositories.DeleteFile(ctx, p.org, repository, entry.GetPath(),
			&github.RepositoryContentFileOptions{
				Message: github.String(fmt.Sprintf("Remove template workflow %s", entry.GetName())),
				SHA:     github.String(entry.GetSHA()),
				Branch:  github.String(branch),
			})
		if err != nil {
			return fmt.Errorf("failed to delete template workflow %s: %w", entry.GetPath(), err)
		}
		logging.Debug("template workflow deleted",
			"repository", repository,
			"path", entry.GetPath())
	}
	return nil
}

// WaitForDirectory polls until the given directory exists on the branch.
// Template generation is eventually consistent: the repository answers
// before its tree does. The bound and interval come from the caller so the
// policy stays in one place.
func (p *Provisioner) WaitForDirectory(ctx context.Context, repository, branch, dir string, bound, interval time.Duration) error {
	return retry.PollUntil(ctx, fmt.Sprintf("directory %s in %s", dir, repository), bound, interval,
		func(ctx context.Context) (bool, error) {
			_, _, _, err := p.client.Repositories.GetContents(ctx, p.org, repository, dir,
				&github.RepositoryContentGetOptions{Ref: branch})
			if err != nil {
				if ghapi.IsNotFound(err) {
					return false, nil
				}
				return false, fmt.Errorf("failed to check directory %s: %w", dir, err)
			}
			return true, nil
		})
}

// DirectoryExists reports whether the directory exists on the branch.
func (p *Provisioner) DirectoryExists(ctx context.Context, repository, branch, dir string) (bool, error) {
	_, _, _, err := p.client.Repositories.GetContents(ctx, p.org, repository, dir,
		&github.RepositoryContentGetOptions{Ref: branch})
	if err != nil {
		if ghapi.IsNotFound(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to check directory %s: %w", dir, err)
	}
	return true, nil
}

// RenameDirectory moves every file under oldDir to newDir on the given
// branch with a single commit, written through the git data API: read the
// branch tip, build a tree that adds each blob at its new path and deletes
// the old path, commit it and advance the ref.
func (p *Provisioner) RenameDirectory(ctx context.Context, repository, branch, oldDir, newDir string) error {
	refName := "refs/heads/" + branch

	ref, _, err := p.client.Git.GetRef(ctx, p.org, repository, refName)
	if err != nil {
		return fmt.Errorf("failed to read %s in %s: %w", refName, repository, err)
	}
	tipSHA := ref.GetObject().GetSHA()

	tipCommit, _, err := p.client.Git.GetCommit(ctx, p.org, repository, tipSHA)
	if err != nil {
		return fmt.Errorf("failed to read tip commit of %s: %w", repository, err)
	}

	tree, _, err := p.client.Git.GetTree(ctx, p.org, repository, tipCommit.GetTree().GetSHA(), true)
	if err != nil {
		return fmt.Errorf("failed to read tree of %s: %w", repository, err)
	}
	if tree.GetTruncated() {
		return fmt.Errorf("tree of %s is too large to rewrite via the API", repository)
	}

	prefix := strings.TrimSuffix(oldDir, "/") + "/"
	target := strings.TrimSuffix(newDir, "/") + "/"

	var entries []*github.TreeEntry
	for _, entry := range tree.Entries {
		if entry.GetType() != "blob" || !strings.HasPrefix(entry.GetPath(), prefix) {
			continue
		}
		newPath := target + strings.TrimPrefix(entry.GetPath(), prefix)
		// Add the blob at its new path...
		entries = append(entries, &github.TreeEntry{
			Path: github.String(newPath),
			Mode: github.String(entry.GetMode()),
			Type: github.String("blob"),
			SHA:  github.String(entry.GetSHA()),
		})
		// ...and delete the old path (nil SHA marks deletion).
		entries = append(entries, &github.TreeEntry{
			Path: github.String(entry.GetPath()),
			Mode: github.String(entry.GetMode()),
			Type: github.String("blob"),
		})
	}
	if len(entries) == 0 {
		return fmt.Errorf("directory %s not found in %s", oldDir, repository)
	}

	newTree, _, err := p.client.Git.CreateTree(ctx, p.org, repository, tree.GetSHA(), entries)
	if err != nil {
		return fmt.Errorf("failed to create rewritten tree for %s: %w", repository, err)
	}

	commit, _, err := p.client.Git.CreateCommit(ctx, p.org, repository, &github.Commit{
		Message: github.String(fmt.Sprintf("Rename %s to %s", oldDir, newDir)),
		Tree:    newTree,
		Parents: []*github.Commit{{SHA: github.String(tipSHA)}},
	})
	if err != nil {
		return fmt.Errorf("failed to create rename commit for %s: %w", repository, err)
	}

	ref.Object.SHA = commit.SHA
	if _, _, err := p.client.Git.UpdateRef(ctx, p.org, repository, ref, false); err != nil {
		return fmt.Errorf("failed to advance %s after rename: %w", refName, err)
	}

	logging.Info("directory renamed",
		"repository", repository,
		"from", oldDir,
		"to", newDir,
		"commit", commit.GetSHA())
	return nil
}

// EnsureBranch creates newBranch at fromBranch's tip. A 422 answer means
// the branch raced into existence and is treated as success.
func (p *Provisioner) EnsureBranch(ctx context.Context, repository, newBranch, fromBranch string) error {
	_, _, err := p.client.Git.GetRef(ctx, p.org, repository, "refs/heads/"+newBranch)
	if err == nil {
		logging.Debug("branch already exists", "repository", repository, "branch", newBranch)
		return nil
	}
	if !ghapi.IsNotFound(err) {
		return fmt.Errorf("failed to check branch %s in %s: %w", newBranch, repository, err)
	}

	from, _, err := p.client.Git.GetRef(ctx, p.org, repository, "refs/heads/"+fromBranch)
	if err != nil {
		return fmt.Errorf("failed to read source branch %s in %s: %w", fromBranch, repository, err)
	}

	_, _, err = p.client.Git.CreateRef(ctx, p.org, repository, &github.Reference{
		Ref:    github.String("refs/heads/" + newBranch),
		Object: &github.GitObject{SHA: from.GetObject().SHA},
	})
	if err != nil {
		if ghapi.IsConflict(err) {
			logging.Debug("branch creation raced, already exists",
				"repository", repository,
				"branch", newBranch)
			return nil
		}
		return fmt.Errorf("failed to create branch %s in %s: %w", newBranch, repository, err)
	}

	logging.Info("branch created",
		"repository", repository,
		"branch", newBranch,
		"from", fromBranch)
	return nil
}

// ProtectBranch requires one approving review on the branch. Callers treat
// a failure here as best-effort: free-plan private repositories reject
// protection with a 403 and the run continues.
func (p *Provisioner) ProtectBranch(ctx context.Context, repository, branch string) error {
	_, _, err := p.client.Repositories.UpdateBranchProtection(ctx, p.org, repository, branch,
		&github.ProtectionRequest{
			RequiredPullRequestReviews: &github.PullRequestReviewsEnforcementRequest{
				RequiredApprovingReviewCount: 1,
			},
			EnforceAdmins: false,
		})
	if err != nil {
		return fmt.Errorf("failed to protect branch %s in %s: %w", branch, repository, err)
	}
	return nil
}

// PutFile writes a file on the branch with matched-revision semantics: the
// current blob SHA, when the file exists, rides along so a stale write is
// rejected by GitHub instead of silently clobbering. A conflict answer
// means the content is already current and is not an error.
func (p *Provisioner) PutFile(ctx context.Context, repository, branch, path, message string, content []byte) error {
	opts := &github.RepositoryContentFileOptions{
		Message: github.String(message),
		Content: content,
		Branch:  github.String(branch),
	}

	current, _, _, err := p.client.Repositories.GetContents(ctx, p.org, repository, path,
		&github.RepositoryContentGetOptions{Ref: branch})
	switch {
	case err == nil && current != nil:
		opts.SHA = github.String(current.GetSHA())
	case err != nil && !ghapi.IsNotFound(err):
		return fmt.Errorf("failed to read current revision of %s: %w", path, err)
	}

	_, _, err = p.client.Repositories.CreateFile(ctx, p.org, repository, path, opts)
	if err != nil {
		if ghapi.IsConflict(err) {
			logging.Debug("file write conflicted, already current",
				"repository", repository,
				"path", path)
			return nil
		}
		return fmt.Errorf("failed to write %s in %s: %w", path, repository, err)
	}

	logging.Info("file written",
		"repository", repository,
		"branch", branch,
		"path", path)
	return nil
}

// PullRequest is the subset of PR metadata the status report uses.
type PullRequest struct {
	Number    int
	Title     string
	Author    string
	State     string
	HTMLURL   string
	CreatedAt time.Time
}

// ListPullRequests returns the open pull requests on a repository.
func (p *Provisioner) ListPullRequests(ctx context.Context, repository string) ([]PullRequest, error) {
	prs, _, err := p.client.PullRequests.List(ctx, p.org, repository, &github.PullRequestListOptions{
		State:       "open",
		ListOptions: github.ListOptions{PerPage: 50},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list pull requests in %s: %w", repository, err)
	}

	result := make([]PullRequest, 0, len(prs))
	for _, pr := range prs {
		result = append(result, PullRequest{
			Number:    pr.GetNumber(),
			Title:     pr.GetTitle(),
			Author:    pr.GetUser().GetLogin(),
			State:     pr.GetState(),
			HTMLURL:   pr.GetHTMLURL(),
			CreatedAt: pr.GetCreatedAt(),
		})
	}
	return result, nil
}

// WorkflowRun is the subset of actions-run metadata the status report uses.
type WorkflowRun struct {
	Name       string
	Status     string
	Conclusion string
	HTMLURL    string
}

// ListWorkflowRuns returns the most recent workflow runs on a repository.
func (p *Provisioner) ListWorkflowRuns(ctx context.Context, repository string) ([]WorkflowRun, error) {
	runs, _, err := p.client.Actions.ListRepositoryWorkflowRuns(ctx, p.org, repository,
		&github.ListWorkflowRunsOptions{ListOptions: github.ListOptions{PerPage: 10}})
	if err != nil {
		return nil, fmt.Errorf("failed to list workflow runs in %s: %w", repository, err)
	}

	result := make([]WorkflowRun, 0, len(runs.WorkflowRuns))
	for _, run := range runs.WorkflowRuns {
		result = append(result, WorkflowRun{
			Name:       run.GetName(),
			Status:     run.GetStatus(),
			Conclusion: run.GetConclusion(),
			HTMLURL:    run.GetHTMLURL(),
		})
	}
	return result, nil
}

// toRepo converts a GitHub repository to the reduced form.
func toRepo(r *github.Repository) Repo {
	branch := r.GetDefaultBranch()
	if branch == "" {
		branch = "main"
	}
	return Repo{
		Name:          r.GetName(),
		FullName:      r.GetFullName(),
		HTMLURL:       r.GetHTMLURL(),
		DefaultBranch: branch,
	}
}
