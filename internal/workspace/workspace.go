// Package workspace confines stdio-mode file access to the configured
// document directory.
package workspace

import (
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/a3tai/taxdoc-client/internal/pdf"
	"github.com/a3tai/taxdoc-client/internal/upload"
)

const outputPerm = 0o644

var (
	// ErrOutsideDirectory is returned for paths escaping the workspace root
	ErrOutsideDirectory = errors.New("path is outside the document directory")

	// ErrEmptyPath is returned for blank paths
	ErrEmptyPath = errors.New("path cannot be empty")
)

// Entry is a PDF found in the workspace
type Entry struct {
	Path    string
	Size    int64
	Pages   int
	ModTime time.Time
}

// Workspace resolves tool paths against a single root directory
type Workspace struct {
	root      string
	realRoot  string
	inspector *pdf.Inspector
}

// New opens the workspace rooted at dir. The directory must exist.
func New(dir string, inspector *pdf.Inspector) (*Workspace, error) {
	if dir == "" {
		return nil, errors.New("document directory cannot be empty")
	}
	root, err := filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("resolve document directory: %w", err)
	}
	info, err := os.Stat(root)
	if err != nil {
		return nil, fmt.Errorf("open document directory: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("document directory %s is not a directory", root)
	}
	realRoot, err := filepath.EvalSymlinks(root)
	if err != nil {
		return nil, fmt.Errorf("resolve document directory: %w", err)
	}

	return &Workspace{
		root:      filepath.Clean(root),
		realRoot:  filepath.Clean(realRoot),
		inspector: inspector,
	}, nil
}

// Root returns the absolute workspace directory
func (w *Workspace) Root() string {
	return w.root
}

// Resolve maps path onto an absolute path inside the workspace. Relative
// paths are taken relative to the root. Symlinks are followed for the
// deepest existing ancestor so a link cannot lead outside.
func (w *Workspace) Resolve(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", ErrEmptyPath
	}
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.root, path)
	}
	clean := filepath.Clean(path)

	if !within(clean, w.root) && !within(clean, w.realRoot) {
		return "", fmt.Errorf("%w: %s", ErrOutsideDirectory, path)
	}

	real, err := realPath(clean)
	if err != nil {
		return "", fmt.Errorf("resolve %s: %w", path, err)
	}
	if !within(real, w.realRoot) {
		return "", fmt.Errorf("%w: %s", ErrOutsideDirectory, path)
	}
	return clean, nil
}

// ReadDocument loads one PDF for submission. The declared type comes
// from the file extension and goes through the same gate as a browser
// upload.
func (w *Workspace) ReadDocument(path string) (upload.Candidate, error) {
	resolved, err := w.Resolve(path)
	if err != nil {
		return upload.Candidate{}, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return upload.Candidate{}, fmt.Errorf("stat %s: %w", path, err)
	}
	if info.IsDir() {
		return upload.Candidate{}, fmt.Errorf("%s is a directory", path)
	}

	contentType := mime.TypeByExtension(strings.ToLower(filepath.Ext(resolved)))
	if err := w.inspector.CheckUpload(info.Name(), contentType, info.Size()); err != nil {
		return upload.Candidate{}, fmt.Errorf("%s: %w", path, err)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return upload.Candidate{}, fmt.Errorf("read %s: %w", path, err)
	}
	return upload.Candidate{Name: info.Name(), ContentType: contentType, Data: data}, nil
}

// List returns every PDF under the root, sorted by path
func (w *Workspace) List() ([]Entry, error) {
	var entries []Entry
	err := filepath.WalkDir(w.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !strings.EqualFold(filepath.Ext(path), ".pdf") {
			return nil
		}
		info, err := d.Info()
		if err != nil {
			return nil
		}

		rel, err := filepath.Rel(w.root, path)
		if err != nil {
			rel = path
		}
		entry := Entry{Path: rel, Size: info.Size(), ModTime: info.ModTime()}
		if info.Size() <= w.inspector.MaxFileSize() {
			if data, err := os.ReadFile(path); err == nil {
				entry.Pages, _ = pdf.CountPages(data)
			}
		}
		entries = append(entries, entry)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", w.root, err)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Path < entries[j].Path })
	return entries, nil
}

// WriteOutput stores a generated document under name. Existing files are
// never overwritten.
func (w *Workspace) WriteOutput(name string, data []byte) (string, error) {
	resolved, err := w.Resolve(name)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(resolved), 0o750); err != nil {
		return "", fmt.Errorf("create output directory: %w", err)
	}

	f, err := os.OpenFile(resolved, os.O_WRONLY|os.O_CREATE|os.O_EXCL, outputPerm)
	if err != nil {
		return "", fmt.Errorf("create %s: %w", name, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return "", fmt.Errorf("write %s: %w", name, err)
	}
	if err := f.Close(); err != nil {
		return "", fmt.Errorf("close %s: %w", name, err)
	}
	return resolved, nil
}

func within(path, dir string) bool {
	if path == dir {
		return true
	}
	prefix := dir
	if !strings.HasSuffix(prefix, string(filepath.Separator)) {
		prefix += string(filepath.Separator)
	}
	return strings.HasPrefix(path, prefix)
}

// realPath evaluates symlinks in the deepest existing ancestor of path and
// re-appends the missing tail
func realPath(path string) (string, error) {
	var tail []string
	current := path
	for {
		if _, err := os.Lstat(current); err == nil {
			resolved, err := filepath.EvalSymlinks(current)
			if err != nil {
				return "", err
			}
			for i := len(tail) - 1; i >= 0; i-- {
				resolved = filepath.Join(resolved, tail[i])
			}
			return resolved, nil
		}
		parent := filepath.Dir(current)
		if parent == current {
			return path, nil
		}
		tail = append(tail, filepath.Base(current))
		current = parent
	}
}
