// Package release verifies candidate image tags against published GitHub
// releases before a deployment is allowed to mutate anything.
package release

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/go-github/v57/github"
	"golang.org/x/oauth2"
)

// Verifier checks that an image tag corresponds to a published release.
type Verifier interface {
	VerifyTag(ctx context.Context, imageTag string) error
}

// GitHubVerifier resolves tags against a GitHub repository's releases.
type GitHubVerifier struct {
	client *github.Client
	owner  string
	repo   string
	logger *slog.Logger
}

// NewGitHubVerifier creates a verifier for an "owner/repo" repository.
// An empty token produces an unauthenticated client, which is fine for
// public repositories.
func NewGitHubVerifier(ownerRepo, token string, logger *slog.Logger) (*GitHubVerifier, error) {
	parts := strings.Split(ownerRepo, "/")
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return nil, fmt.Errorf("invalid owner/repo format: %s", ownerRepo)
	}

	var httpClient *http.Client
	if token != "" {
		ts := oauth2.StaticTokenSource(&oauth2.Token{AccessToken: token})
		httpClient = oauth2.NewClient(context.Background(), ts)
	}

	return &GitHubVerifier{
		client: github.NewClient(httpClient),
		owner:  parts[0],
		repo:   parts[1],
		logger: logger,
	}, nil
}

// SetBaseURL points the verifier at a different API endpoint. Used in tests.
func (v *GitHubVerifier) SetBaseURL(baseURL string) error {
	client, err := v.client.WithEnterpriseURLs(baseURL, baseURL)
	if err != nil {
		return err
	}
	v.client = client
	return nil
}

// VerifyTag confirms the tag exists as a published release. Draft releases
// do not count. A missing release or an API failure blocks the deployment.
func (v *GitHubVerifier) VerifyTag(ctx context.Context, imageTag string) error {
	rel, resp, err := v.client.Repositories.GetReleaseByTag(ctx, v.owner, v.repo, imageTag)
	if err != nil {
		if resp != nil && resp.StatusCode == http.StatusNotFound {
			return fmt.Errorf("no published release for tag %q in %s/%s", imageTag, v.owner, v.repo)
		}
		return fmt.Errorf("querying release for tag %q: %w", imageTag, err)
	}

	if rel.GetDraft() {
		return fmt.Errorf("release for tag %q in %s/%s is a draft", imageTag, v.owner, v.repo)
	}

	v.logger.Info("Release tag verified",
		"tag", imageTag,
		"repo", v.owner+"/"+v.repo,
		"release", rel.GetName())
	return nil
}
