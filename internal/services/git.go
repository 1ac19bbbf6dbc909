package services

import (
	"context"
	"fmt"
	"strings"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"go.uber.org/zap"
)

// GitService materializes working copies of repositories at exact revisions.
type GitService struct {
	logger *zap.Logger
}

// NewGitService creates a new Git service.
func NewGitService(logger *zap.Logger) *GitService {
	return &GitService{logger: logger}
}

// CloneResult describes a completed clone.
type CloneResult struct {
	Path     string // working copy location
	Revision string // SHA of the checked out commit
	SourceID string // exact-source identifier: url + "#" + revision
}

// SplitRef splits a "url#ref" repository reference into its URL and optional
// ref parts.
func SplitRef(raw string) (url, ref string) {
	if idx := strings.LastIndex(raw, "#"); idx >= 0 {
		return raw[:idx], raw[idx+1:]
	}
	return raw, ""
}

// Clone clones rawURL (optionally suffixed "#ref" for a branch or tag) into
// dest and resolves the exact-source identifier from the checked out HEAD.
// dest must not exist; callers clear stale directories first.
func (s *GitService) Clone(ctx context.Context, rawURL, dest string) (*CloneResult, error) {
	url, ref := SplitRef(rawURL)

	opts := &git.CloneOptions{
		URL:   url,
		Depth: 1,
	}
	if ref != "" {
		opts.ReferenceName = plumbing.NewBranchReferenceName(ref)
		opts.SingleBranch = true
	}

	s.logger.Info("Cloning repository",
		zap.String("url", url),
		zap.String("ref", ref),
		zap.String("dest", dest),
	)

	repo, err := git.PlainCloneContext(ctx, dest, false, opts)
	if err != nil && ref != "" {
		// The ref may name a tag rather than a branch.
		opts.ReferenceName = plumbing.NewTagReferenceName(ref)
		repo, err = git.PlainCloneContext(ctx, dest, false, opts)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to clone %s: %w", url, err)
	}

	head, err := repo.Head()
	if err != nil {
		return nil, fmt.Errorf("failed to resolve HEAD of %s: %w", url, err)
	}

	revision := head.Hash().String()
	result := &CloneResult{
		Path:     dest,
		Revision: revision,
		SourceID: url + "#" + revision,
	}

	s.logger.Info("Repository cloned",
		zap.String("url", url),
		zap.String("revision", revision),
	)
	return result, nil
}
