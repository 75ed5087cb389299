// Package gitrepo implements the engine's version-control surface on go-git.
package gitrepo

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"sort"

	"github.com/go-git/go-billy/v5"
	"github.com/go-git/go-billy/v5/memfs"
	"github.com/go-git/go-billy/v5/util"
	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"
	"github.com/go-git/go-git/v5/plumbing/format/index"
	"github.com/go-git/go-git/v5/plumbing/object"
	"github.com/go-git/go-git/v5/storage/memory"

	"snipsync/internal/snip"
)

// Repo is a non-bare git repository whose working tree mirrors snippets.
type Repo struct {
	repo *git.Repository
	wt   *git.Worktree
	fs   billy.Filesystem
	path string // empty for in-memory repositories
}

var _ snip.Repository = (*Repo)(nil)

// Open opens the repository at dir, initializing it when none exists.
func Open(dir string) (*Repo, error) {
	repo, err := git.PlainOpen(dir)
	if errors.Is(err, git.ErrRepositoryNotExists) {
		repo, err = git.PlainInit(dir, false)
		if err != nil {
			return nil, fmt.Errorf("initializing repository at %s: %w", dir, err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("opening repository at %s: %w", dir, err)
	}
	return newRepo(repo, dir)
}

// NewMemory creates an empty repository backed by memory storage and an
// in-memory working tree.
func NewMemory() (*Repo, error) {
	repo, err := git.Init(memory.NewStorage(), memfs.New())
	if err != nil {
		return nil, fmt.Errorf("initializing in-memory repository: %w", err)
	}
	return newRepo(repo, "")
}

func newRepo(repo *git.Repository, dir string) (*Repo, error) {
	wt, err := repo.Worktree()
	if err != nil {
		return nil, fmt.Errorf("getting worktree: %w", err)
	}
	return &Repo{repo: repo, wt: wt, fs: wt.Filesystem, path: dir}, nil
}

// Path returns the working tree directory, or "" for in-memory repositories.
func (r *Repo) Path() string {
	return r.path
}

// Filesystem exposes the working tree.
func (r *Repo) Filesystem() billy.Filesystem {
	return r.fs
}

// WriteFile writes data to p in the working tree and stages it.
func (r *Repo) WriteFile(ctx context.Context, p string, data []byte) error {
	if dir := path.Dir(p); dir != "." {
		if err := r.fs.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating %s: %w", dir, err)
		}
	}
	if err := util.WriteFile(r.fs, p, data, 0644); err != nil {
		return fmt.Errorf("writing %s: %w", p, err)
	}
	if _, err := r.wt.Add(p); err != nil {
		return fmt.Errorf("staging %s: %w", p, err)
	}
	return nil
}

// RemoveFile deletes p from the working tree and the index. A path that
// does not exist is not an error.
func (r *Repo) RemoveFile(ctx context.Context, p string) error {
	_, err := r.wt.Remove(p)
	if err == nil {
		return nil
	}
	if !errors.Is(err, index.ErrEntryNotFound) {
		return fmt.Errorf("removing %s: %w", p, err)
	}
	// Untracked: only the working tree copy, if any, has to go.
	if err := r.fs.Remove(p); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("removing %s: %w", p, err)
	}
	return nil
}

// StageAll stages every change below dir, deletions included.
func (r *Repo) StageAll(ctx context.Context, dir string) error {
	if dir == "" {
		return r.wt.AddWithOptions(&git.AddOptions{All: true})
	}
	if _, err := r.fs.Lstat(dir); os.IsNotExist(err) {
		return nil
	}
	if err := r.wt.AddWithOptions(&git.AddOptions{Path: dir}); err != nil {
		return fmt.Errorf("staging %s: %w", dir, err)
	}
	return nil
}

// Commit records the index as a new commit with the descriptor's author and
// committer. Without AllowEmpty a commit that would not change the tree
// returns snip.ErrEmptyCommit.
func (r *Repo) Commit(ctx context.Context, desc snip.CommitDescriptor) (string, error) {
	if !desc.AllowEmpty {
		staged, err := r.hasStagedChanges()
		if err != nil {
			return "", err
		}
		if !staged {
			return "", snip.ErrEmptyCommit
		}
	}

	hash, err := r.wt.Commit(desc.Message, &git.CommitOptions{
		Author: &object.Signature{
			Name:  desc.Author.Name,
			Email: desc.Author.Email,
			When:  desc.Author.When,
		},
		Committer: &object.Signature{
			Name:  desc.Committer.Name,
			Email: desc.Committer.Email,
			When:  desc.Committer.When,
		},
		AllowEmptyCommits: desc.AllowEmpty,
	})
	if err != nil {
		if errors.Is(err, git.ErrEmptyCommit) {
			return "", snip.ErrEmptyCommit
		}
		return "", fmt.Errorf("creating commit: %w", err)
	}
	return hash.String(), nil
}

func (r *Repo) hasStagedChanges() (bool, error) {
	status, err := r.wt.Status()
	if err != nil {
		return false, fmt.Errorf("reading status: %w", err)
	}
	for _, s := range status {
		if s.Staging != git.Unmodified && s.Staging != git.Untracked {
			return true, nil
		}
	}
	return false, nil
}

// ListFiles returns the files below dir in the working tree, relative to
// dir and sorted. A missing dir yields an empty list.
func (r *Repo) ListFiles(ctx context.Context, dir string) ([]string, error) {
	if dir == "" {
		return nil, fmt.Errorf("listing the repository root is not supported")
	}
	if _, err := r.fs.Lstat(dir); os.IsNotExist(err) {
		return nil, nil
	}

	var files []string
	err := util.Walk(r.fs, dir, func(p string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() {
			return nil
		}
		rel, err := filepath.Rel(dir, p)
		if err != nil {
			return err
		}
		files = append(files, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing %s: %w", dir, err)
	}
	sort.Strings(files)
	return files, nil
}

// Discard drops every uncommitted change: the index and working tree are
// reset to HEAD and untracked files are removed.
func (r *Repo) Discard(ctx context.Context) error {
	head, err := r.repo.Head()
	switch {
	case err == nil:
		if err := r.wt.Reset(&git.ResetOptions{Commit: head.Hash(), Mode: git.HardReset}); err != nil {
			return fmt.Errorf("resetting to %s: %w", head.Hash(), err)
		}
	case errors.Is(err, plumbing.ErrReferenceNotFound):
		// Unborn HEAD: nothing is committed, so the whole index goes.
		if err := r.repo.Storer.SetIndex(&index.Index{Version: 2}); err != nil {
			return fmt.Errorf("clearing index: %w", err)
		}
	default:
		return fmt.Errorf("reading HEAD: %w", err)
	}

	if err := r.wt.Clean(&git.CleanOptions{Dir: true}); err != nil {
		return fmt.Errorf("removing untracked files: %w", err)
	}
	return nil
}

// CommittedRevisions walks history from HEAD and maps each revision ID
// recorded for snippetID to its commit hash. An empty repository yields an
// empty map.
func (r *Repo) CommittedRevisions(ctx context.Context, snippetID string) (map[string]string, error) {
	out := make(map[string]string)
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return out, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading HEAD: %w", err)
	}

	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer iter.Close()

	err = iter.ForEach(func(c *object.Commit) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		sid, rid := snip.ParseTrailers(c.Message)
		if sid == snippetID && rid != "" {
			if _, seen := out[rid]; !seen {
				out[rid] = c.Hash.String()
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	return out, nil
}

// Head returns the hash of HEAD, or "" when nothing is committed yet.
func (r *Repo) Head() (string, error) {
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading HEAD: %w", err)
	}
	return head.Hash().String(), nil
}

// Log returns up to n commits reachable from HEAD, newest first.
func (r *Repo) Log(n int) ([]*object.Commit, error) {
	head, err := r.repo.Head()
	if errors.Is(err, plumbing.ErrReferenceNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading HEAD: %w", err)
	}
	iter, err := r.repo.Log(&git.LogOptions{From: head.Hash()})
	if err != nil {
		return nil, fmt.Errorf("reading history: %w", err)
	}
	defer iter.Close()

	var commits []*object.Commit
	for n <= 0 || len(commits) < n {
		c, err := iter.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading history: %w", err)
		}
		commits = append(commits, c)
	}
	return commits, nil
}

// ReadFile returns the working tree content of p.
func (r *Repo) ReadFile(ctx context.Context, p string) ([]byte, error) {
	return util.ReadFile(r.fs, p)
}
