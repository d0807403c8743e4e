// Package staging builds isolated working copies of a project.
//
// A [Workspace] is a temporary directory holding a mirror of the project tree
// (minus an ignore list such as .git and node_modules) with the internal
// deployment files laid on top. Pipeline steps run inside it, so image build
// contexts, build output and other side effects never touch the caller's
// tree. Each run gets its own directory; the owner must call
// [Workspace.Cleanup] when the run ends, whatever its outcome.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"

	"alorg/internal/assets"
)

// ErrMirror marks a failure while building the workspace.
var ErrMirror = errors.New("failed to stage workspace")

// Options configures how a workspace is built.
type Options struct {
	// Ignore lists path names skipped at any depth (".git", "node_modules").
	Ignore []string

	// TempDir is the parent directory. Empty uses os.TempDir.
	TempDir string

	// Overlay is written over the mirror after copying. Files the project
	// already has are kept, so a project can customise its recipes.
	Overlay fs.FS

	// Files maps workspace-relative destinations to source paths on disk.
	// They are copied last and always overwrite.
	Files map[string]string
}

// Workspace is an isolated copy of a project.
type Workspace struct {
	// Dir is the workspace root; pipeline steps use it as their working dir.
	Dir string

	// Source is the project root that was mirrored.
	Source string
}

// Stager creates workspaces with a fixed set of [Options].
type Stager struct {
	opts Options
}

// NewStager creates a [Stager].
func NewStager(opts Options) *Stager {
	return &Stager{opts: opts}
}

// Stage creates a workspace for source. label is folded into the directory
// name so concurrent runs are distinguishable on disk.
func (s *Stager) Stage(ctx context.Context, source, label string) (*Workspace, error) {
	return Create(ctx, source, label, s.opts)
}

// Create mirrors source into a new temporary directory and applies the overlay.
//
// On any failure the partially built directory is removed before returning,
// and the error wraps [ErrMirror].
func Create(ctx context.Context, source, label string, opts Options) (*Workspace, error) {
	source, err := filepath.Abs(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMirror, err)
	}
	info, err := os.Stat(source)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMirror, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("%w: %s is not a directory", ErrMirror, source)
	}

	pattern := "alorg-stage-*"
	if label != "" {
		pattern = "alorg-stage-" + label + "-*"
	}
	dir, err := os.MkdirTemp(opts.TempDir, pattern)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMirror, err)
	}

	ws := &Workspace{Dir: dir, Source: source}
	if err := ws.populate(ctx, opts); err != nil {
		_ = ws.Cleanup()
		return nil, fmt.Errorf("%w: %v", ErrMirror, err)
	}
	return ws, nil
}

func (w *Workspace) populate(ctx context.Context, opts Options) error {
	if err := mirror(ctx, w.Source, w.Dir, opts.Ignore); err != nil {
		return fmt.Errorf("mirror %s: %w", w.Source, err)
	}
	if opts.Overlay != nil {
		if err := overlay(opts.Overlay, w.Dir); err != nil {
			return fmt.Errorf("overlay: %w", err)
		}
	}
	for rel, src := range opts.Files {
		info, err := os.Stat(src)
		if err != nil {
			return err
		}
		if err := copyFile(src, filepath.Join(w.Dir, rel), info.Mode().Perm()); err != nil {
			return err
		}
	}
	return nil
}

// Cleanup removes the workspace directory. It is safe to call more than once.
func (w *Workspace) Cleanup() error {
	if w == nil || w.Dir == "" {
		return nil
	}
	if err := os.RemoveAll(w.Dir); err != nil {
		return fmt.Errorf("failed to remove workspace %s: %w", w.Dir, err)
	}
	return nil
}

func mirror(ctx context.Context, src, dst string, ignore []string) error {
	skip := make(map[string]bool, len(ignore))
	for _, name := range ignore {
		skip[name] = true
	}

	return filepath.WalkDir(src, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if p == src {
			return nil
		}
		// The workspace may live under the project when TempDir points there.
		if p == dst {
			return filepath.SkipDir
		}
		if skip[d.Name()] {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}

		rel, err := filepath.Rel(src, p)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case d.Type()&fs.ModeSymlink != 0:
			link, err := os.Readlink(p)
			if err != nil {
				return err
			}
			return os.Symlink(link, target)
		case d.IsDir():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return os.MkdirAll(target, info.Mode().Perm()|0700)
		case d.Type().IsRegular():
			info, err := d.Info()
			if err != nil {
				return err
			}
			return copyFile(p, target, info.Mode().Perm())
		default:
			// sockets, devices and pipes are not part of a build context
			return nil
		}
	})
}

func overlay(fsys fs.FS, dst string) error {
	return fs.WalkDir(fsys, ".", func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		target := filepath.Join(dst, filepath.FromSlash(p))
		if d.IsDir() {
			return os.MkdirAll(target, 0755)
		}
		if _, err := os.Lstat(target); err == nil {
			return nil
		}

		data, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		return os.WriteFile(target, data, assets.Mode(p))
	})
}

func copyFile(src, dst string, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return err
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
