// Package secureread is the only component that touches the filesystem on
// behalf of the core (spec.md §4.1). It centralizes path confinement, an
// extension allow-list, and a size cap so every other component can feed
// file content into prompts without re-checking filesystem safety.
//
// Grounded on the teacher's internal/tool/read.go, grep.go, and glob.go,
// which already validate paths and cap output before handing content to the
// agent loop; this package generalizes that pattern into a standalone,
// cached, root-confined reader.
package secureread

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/deepreason/gateway/internal/reasonerr"
)

// maxFileSize is the hard size cap (spec.md §4.1): 10 MiB.
const maxFileSize = 10 * 1024 * 1024

// allowedExtensions is the fixed extension allow-list: source, config, doc.
var allowedExtensions = map[string]bool{
	// source
	".go": true, ".ts": true, ".tsx": true, ".js": true, ".jsx": true,
	".py": true, ".java": true, ".rb": true, ".rs": true, ".c": true,
	".h": true, ".cc": true, ".cpp": true, ".hpp": true, ".cs": true,
	".php": true, ".swift": true, ".kt": true, ".scala": true,
	// config
	".json": true, ".jsonc": true, ".yaml": true, ".yml": true,
	".toml": true, ".ini": true, ".env": false, // .env is never readable
	// doc
	".md": true, ".txt": true, ".rst": true,
}

// siblingSuffixes are the well-known suffixes find-related searches for, in
// addition to sharing a base name (spec.md §4.1).
var siblingSuffixes = []string{"test", "spec", "Service", "Controller", "Client"}

// Reader validates paths, caps sizes, and caches file content, all scoped to
// one project root.
type Reader struct {
	root string

	mu    sync.Mutex
	cache map[string][]byte
}

// New configures a Reader against an absolute project root.
func New(root string) (*Reader, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, reasonerr.New(reasonerr.FSError, err.Error())
	}
	resolved, err := filepath.EvalSymlinks(abs)
	if err != nil {
		return nil, reasonerr.New(reasonerr.FSError, err.Error())
	}
	return &Reader{root: resolved, cache: make(map[string][]byte)}, nil
}

// Root returns the configured, symlink-resolved project root.
func (r *Reader) Root() string { return r.root }

// resolve normalizes path against the root and rejects any escape,
// independent of whether the path actually exists yet (so traversal is
// rejected before a stat call).
func (r *Reader) resolve(path string) (string, error) {
	var candidate string
	if filepath.IsAbs(path) {
		candidate = path
	} else {
		candidate = filepath.Join(r.root, path)
	}
	clean := filepath.Clean(candidate)

	rel, err := filepath.Rel(r.root, clean)
	if err != nil {
		return "", reasonerr.New(reasonerr.PathTraversal, path)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", reasonerr.New(reasonerr.PathTraversal, path)
	}

	// Resolve symlinks on whatever portion already exists, then re-check.
	if resolved, err := filepath.EvalSymlinks(clean); err == nil {
		clean = resolved
		rel, err = filepath.Rel(r.root, clean)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return "", reasonerr.New(reasonerr.PathTraversal, path)
		}
	}

	return clean, nil
}

func validateExtension(path string) error {
	ext := strings.ToLower(filepath.Ext(path))
	allowed, known := allowedExtensions[ext]
	if !known || !allowed {
		return reasonerr.New(reasonerr.InvalidFileType, ext)
	}
	return nil
}

// Read validates and reads a file's content, using the in-memory cache when
// available.
func (r *Reader) Read(path string) ([]byte, error) {
	resolved, err := r.resolve(path)
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	if cached, ok := r.cache[resolved]; ok {
		r.mu.Unlock()
		return cached, nil
	}
	r.mu.Unlock()

	if err := validateExtension(resolved); err != nil {
		return nil, err
	}

	info, err := os.Stat(resolved)
	if err != nil {
		return nil, reasonerr.New(reasonerr.FSError, err.Error())
	}
	if !info.Mode().IsRegular() {
		return nil, reasonerr.New(reasonerr.NotAFile, resolved)
	}
	if info.Size() > maxFileSize {
		return nil, reasonerr.New(reasonerr.FileTooLarge, resolved)
	}

	data, err := os.ReadFile(resolved)
	if err != nil {
		return nil, reasonerr.New(reasonerr.FSError, err.Error())
	}

	r.mu.Lock()
	r.cache[resolved] = data
	r.mu.Unlock()

	return data, nil
}

// Lines reads the file and returns the 1-indexed [start-context, end+context]
// window of lines around line (inclusive), used by the Remote Dialogue
// Adapter to attach a sanitized code excerpt (spec.md §4.4).
func (r *Reader) Lines(path string, line, context int) ([]string, int, int, error) {
	data, err := r.Read(path)
	if err != nil {
		return nil, 0, 0, err
	}
	all := strings.Split(string(data), "\n")
	start := line - context
	if start < 1 {
		start = 1
	}
	end := line + context
	if end > len(all) {
		end = len(all)
	}
	if start > len(all) || line < 1 {
		return nil, 0, 0, reasonerr.New(reasonerr.FSError, "line out of range")
	}
	return all[start-1 : end], start, end, nil
}

// FindRelated returns sibling paths under the same directory as base whose
// names share base's stem or one of the well-known suffixes, or match a
// doublestar glob pattern — still root-confined.
func (r *Reader) FindRelated(base string) ([]string, error) {
	resolvedBase, err := r.resolve(base)
	if err != nil {
		return nil, err
	}
	dir := filepath.Dir(resolvedBase)
	if _, err := r.resolve(dir); err != nil {
		return nil, err
	}

	stem := strings.TrimSuffix(filepath.Base(resolvedBase), filepath.Ext(resolvedBase))

	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, reasonerr.New(reasonerr.FSError, err.Error())
	}

	var related []string
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		full := filepath.Join(dir, name)
		if full == resolvedBase {
			continue
		}
		entryStem := strings.TrimSuffix(name, filepath.Ext(name))

		if entryStem == stem {
			related = append(related, full)
			continue
		}
		for _, suffix := range siblingSuffixes {
			if strings.Contains(entryStem, suffix) && strings.Contains(entryStem, stem) {
				related = append(related, full)
				break
			}
		}
		if matched, _ := doublestar.Match("*_"+strings.ToLower(stem)+".*", strings.ToLower(name)); matched {
			related = append(related, full)
		}
	}
	return related, nil
}

// ClearCache invalidates the in-memory content cache.
func (r *Reader) ClearCache() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.cache = make(map[string][]byte)
}
