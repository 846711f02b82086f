package media

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"syscall"
)

// Workspace is the per-upload directory under the stream root. All pipeline
// artifacts for one slug live inside it, which keeps rollback a single
// recursive removal.
type Workspace struct {
	Root string
	Slug string
}

func NewWorkspace(root, slug string) Workspace {
	return Workspace{Root: root, Slug: slug}
}

// Dir returns the absolute workspace directory.
func (w Workspace) Dir() string {
	return filepath.Join(w.Root, w.Slug)
}

// Path returns the absolute path of a file inside the workspace.
func (w Workspace) Path(name string) string {
	return filepath.Join(w.Dir(), name)
}

// Ensure creates the workspace directory, including the stream root when it
// does not exist yet.
func (w Workspace) Ensure() error {
	return os.MkdirAll(w.Dir(), 0o755)
}

// RemoveFile deletes a single artifact. A missing file counts as success so
// cleanup paths can run unconditionally.
func (w Workspace) RemoveFile(name string) error {
	err := os.Remove(w.Path(name))
	if err != nil && !errors.Is(err, fs.ErrNotExist) {
		return err
	}
	return nil
}

// RemoveAll tears down the whole workspace. Absence is success.
func (w Workspace) RemoveAll() error {
	return os.RemoveAll(w.Dir())
}

// RemoveDirIfEmpty removes the workspace directory only when nothing is left
// inside. Non-empty and missing directories are both tolerated.
func (w Workspace) RemoveDirIfEmpty() error {
	err := os.Remove(w.Dir())
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if errors.Is(err, syscall.ENOTEMPTY) || errors.Is(err, syscall.EEXIST) {
		return nil
	}
	return err
}

// Exists reports whether the named artifact is present and non-empty.
func (w Workspace) Exists(name string) bool {
	info, err := os.Stat(w.Path(name))
	return err == nil && !info.IsDir() && info.Size() > 0
}

// moveFile relocates src into the workspace tree, falling back to copy+remove
// when the rename crosses filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Sync(); err != nil {
		out.Close()
		_ = os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(dst)
		return err
	}
	return os.Remove(src)
}

// inputExtension derives a safe extension for the stored raw upload from the
// client-supplied filename, defaulting to .mp4.
func inputExtension(filename string) string {
	ext := strings.ToLower(filepath.Ext(filepath.Base(filename)))
	switch ext {
	case ".mp4", ".webm", ".avi", ".mov":
		return ext
	default:
		return ".mp4"
	}
}
