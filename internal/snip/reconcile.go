package snip

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"path"
	"sort"
	"strings"
)

// Diff computes the change set that turns the file set prevNames into cur.
// Names present in both are reported as modified; git drops writes that do
// not change content.
func Diff(prevNames []string, cur Manifest) FileChangeSet {
	prev := make(map[string]bool, len(prevNames))
	for _, name := range prevNames {
		prev[name] = true
	}

	var cs FileChangeSet
	for _, name := range cur.Names() {
		if prev[name] {
			cs.Modified = append(cs.Modified, name)
		} else {
			cs.Added = append(cs.Added, name)
		}
	}
	for name := range prev {
		if _, ok := cur[name]; !ok {
			cs.Removed = append(cs.Removed, name)
		}
	}
	sort.Strings(cs.Removed)
	return cs
}

// Reconciler brings a snippet directory in the working tree to the state
// of one revision manifest.
type Reconciler struct {
	repo    Repository
	remote  RemoteStore
	retrier *Retrier
	staging StagingArea
	docs    DocGenerator
	logger  Logger
}

// NewReconciler creates a Reconciler.
func NewReconciler(repo Repository, remote RemoteStore, retrier *Retrier, staging StagingArea, logger Logger) *Reconciler {
	return &Reconciler{repo: repo, remote: remote, retrier: retrier, staging: staging, logger: logger}
}

// WithDocs lets the reconciler recognize documents written by g so that
// they survive the stale-file scan. Without it every file is snippet content.
func (r *Reconciler) WithDocs(g DocGenerator) *Reconciler {
	r.docs = g
	return r
}

// Plan computes the change set for dir. With a nil prev the current
// working-tree listing of dir stands in for the previous manifest, so stale
// files left by earlier runs are removed. A generated document is left
// alone unless cur carries a file of the same name.
func (r *Reconciler) Plan(ctx context.Context, dir string, prev, cur Manifest) (FileChangeSet, error) {
	if prev != nil {
		return Diff(prev.Names(), cur), nil
	}
	names, err := r.workingNames(ctx, dir, cur)
	if err != nil {
		return FileChangeSet{}, err
	}
	return Diff(names, cur), nil
}

// Stage fetches the content of every write in cs into the staging area.
// The working tree is not touched, so a fetch failure leaves nothing behind.
func (r *Reconciler) Stage(ctx context.Context, cs FileChangeSet, cur Manifest) error {
	if err := r.staging.Reset(); err != nil {
		return fmt.Errorf("resetting staging area: %w", err)
	}
	for _, name := range cs.Writes() {
		if err := checkName(name); err != nil {
			return err
		}
		ref := cur[name]
		var data []byte
		err := r.retrier.Do(ctx, "fetch file", func(ctx context.Context) error {
			var err error
			data, err = r.remote.FetchFile(ctx, ref)
			return err
		})
		if err != nil {
			return fmt.Errorf("fetching %s: %w", name, err)
		}
		if _, _, err := r.staging.Put(name, bytes.NewReader(data)); err != nil {
			return fmt.Errorf("staging %s: %w", name, err)
		}
	}
	return nil
}

// Apply writes and removes the files of cs under dir and stages the result.
// Either every change lands or the working tree is reset to the last commit
// and a *ReconcileError is returned.
func (r *Reconciler) Apply(ctx context.Context, dir string, cs FileChangeSet) error {
	if err := r.apply(ctx, dir, cs); err != nil {
		if discardErr := r.repo.Discard(ctx); discardErr != nil {
			r.logger.Error("discarding partial changes failed", "dir", dir, "error", discardErr)
			return errors.Join(err, discardErr)
		}
		return err
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, dir string, cs FileChangeSet) error {
	for _, name := range cs.Writes() {
		p := path.Join(dir, name)
		data, err := r.readStaged(name)
		if err != nil {
			return &ReconcileError{Path: p, Op: "write", Err: err}
		}
		if err := r.repo.WriteFile(ctx, p, data); err != nil {
			return &ReconcileError{Path: p, Op: "write", Err: err}
		}
	}
	for _, name := range cs.Removed {
		p := path.Join(dir, name)
		if err := r.repo.RemoveFile(ctx, p); err != nil {
			return &ReconcileError{Path: p, Op: "remove", Err: err}
		}
		r.logger.Debug("file removed", "path", p)
	}
	if err := r.repo.StageAll(ctx, dir); err != nil {
		return &ReconcileError{Path: dir, Op: "stage", Err: err}
	}
	return nil
}

// Materialize plans, stages and applies cur in one step.
func (r *Reconciler) Materialize(ctx context.Context, dir string, prev, cur Manifest) (FileChangeSet, error) {
	cs, err := r.Plan(ctx, dir, prev, cur)
	if err != nil {
		return FileChangeSet{}, err
	}
	if err := r.Stage(ctx, cs, cur); err != nil {
		return FileChangeSet{}, err
	}
	if err := r.Apply(ctx, dir, cs); err != nil {
		return FileChangeSet{}, err
	}
	return cs, nil
}

// Verify checks that dir holds exactly the files of cur.
func (r *Reconciler) Verify(ctx context.Context, dir string, cur Manifest) error {
	names, err := r.workingNames(ctx, dir, cur)
	if err != nil {
		return err
	}
	want := cur.Names()
	if len(names) != len(want) {
		return fmt.Errorf("%s has %d file(s), manifest has %d: %w", dir, len(names), len(want), ErrTreeMismatch)
	}
	for i := range want {
		if names[i] != want[i] {
			return fmt.Errorf("%s: found %q, expected %q: %w", dir, names[i], want[i], ErrTreeMismatch)
		}
	}
	return nil
}

func (r *Reconciler) workingNames(ctx context.Context, dir string, cur Manifest) ([]string, error) {
	files, err := r.repo.ListFiles(ctx, dir)
	if err != nil {
		return nil, &ReconcileError{Path: dir, Op: "list", Err: err}
	}
	names := make([]string, 0, len(files))
	for _, f := range files {
		if _, ok := cur[f]; !ok && f == DocFileName {
			generated, err := r.isGeneratedDoc(ctx, path.Join(dir, f))
			if err != nil {
				return nil, err
			}
			if generated {
				continue
			}
		}
		names = append(names, f)
	}
	sort.Strings(names)
	return names, nil
}

func (r *Reconciler) isGeneratedDoc(ctx context.Context, p string) (bool, error) {
	if r.docs == nil {
		return false, nil
	}
	data, err := r.repo.ReadFile(ctx, p)
	if err != nil {
		return false, &ReconcileError{Path: p, Op: "read", Err: err}
	}
	return r.docs.Generated(data), nil
}

func (r *Reconciler) readStaged(name string) ([]byte, error) {
	rc, err := r.staging.Open(name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// checkName rejects file names that would escape the snippet directory.
func checkName(name string) error {
	clean := path.Clean(name)
	if name == "" || path.IsAbs(clean) || clean == ".." || strings.HasPrefix(clean, "../") {
		return &ReconcileError{Path: name, Op: "write", Err: fmt.Errorf("unsafe file name")}
	}
	return nil
}
