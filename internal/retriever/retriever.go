// Package retriever implements C9: bounded, ignore-rule-respecting search
// and file reads used to assemble an agent's prompt context.
package retriever

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
)

// Per spec.md §4.7 / original_source context_retriever.rs defaults.
const (
	MaxFileBytes    = 50 * 1024
	MaxContextBytes = 100 * 1024
)

// binaryExtensions is the closed list of extensions search/read treats as
// binary and skips, ported from context_retriever.rs's is_binary_extension.
var binaryExtensions = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".bmp": true,
	".ico": true, ".webp": true, ".pdf": true, ".doc": true, ".docx": true,
	".xls": true, ".xlsx": true, ".ppt": true, ".pptx": true, ".zip": true,
	".tar": true, ".gz": true, ".bz2": true, ".7z": true, ".rar": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".a": true,
	".wasm": true, ".o": true, ".obj": true, ".pyc": true, ".pyo": true,
	".class": true, ".db": true, ".sqlite": true, ".sqlite3": true,
}

func isBinaryExtension(path string) bool {
	return binaryExtensions[strings.ToLower(filepath.Ext(path))]
}

// SearchHit is one matching line found by Search.
type SearchHit struct {
	Path    string
	Line    int
	Content string
}

// Retriever assembles bounded, ignore-aware context for an agent prompt.
type Retriever struct {
	WorkingDir      string
	MaxFileBytes    int64
	MaxContextBytes int64
	ignorePatterns  []string
}

// New returns a Retriever rooted at workingDir, with ignore patterns loaded
// from .gitignore and .git/info/exclude (global gitignore is not read —
// the reference implementation reads it, but this is a deliberate scope
// reduction: user-global ignore state does not belong to a single
// workspace's context and shouldn't affect reproducibility across
// machines).
func New(workingDir string) *Retriever {
	r := &Retriever{
		WorkingDir:      workingDir,
		MaxFileBytes:    MaxFileBytes,
		MaxContextBytes: MaxContextBytes,
	}
	r.ignorePatterns = append(r.ignorePatterns, loadIgnoreFile(filepath.Join(workingDir, ".gitignore"))...)
	r.ignorePatterns = append(r.ignorePatterns, loadIgnoreFile(filepath.Join(workingDir, ".git", "info", "exclude"))...)
	return r
}

func loadIgnoreFile(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()

	var patterns []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		patterns = append(patterns, line)
	}
	return patterns
}

// ignored reports whether relPath (workspace-relative, forward-slash) is
// excluded by any loaded ignore pattern, matched with doublestar so that
// "**/*.log"-style gitignore globs behave as expected.
func (r *Retriever) ignored(relPath string) bool {
	if strings.HasPrefix(relPath, ".git/") || relPath == ".git" {
		return true
	}
	for _, pat := range r.ignorePatterns {
		candidates := []string{pat}
		if !strings.Contains(pat, "/") {
			candidates = append(candidates, "**/"+pat, "**/"+pat+"/**")
		} else if strings.HasSuffix(pat, "/") {
			candidates = append(candidates, pat+"**")
		}
		for _, c := range candidates {
			if ok, _ := doublestar.Match(c, relPath); ok {
				return true
			}
		}
	}
	return false
}

// Search walks the workspace, skipping ignored paths and binary extensions,
// and returns every line containing query (plain substring, case-sensitive —
// matching the reference implementation's grep-equivalent default).
func (r *Retriever) Search(query string) ([]SearchHit, error) {
	var hits []SearchHit

	err := filepath.WalkDir(r.WorkingDir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		rel, relErr := filepath.Rel(r.WorkingDir, path)
		if relErr != nil {
			return nil
		}
		rel = filepath.ToSlash(rel)

		if d.IsDir() {
			if rel != "." && r.ignored(rel) {
				return filepath.SkipDir
			}
			return nil
		}
		if r.ignored(rel) || isBinaryExtension(path) {
			return nil
		}

		fileHits, ferr := searchFile(path, query)
		if ferr != nil {
			return nil // unreadable file is skipped, not fatal to the whole search
		}
		hits = append(hits, fileHits...)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("retriever: search %q: %w", query, err)
	}

	sort.Slice(hits, func(i, j int) bool {
		if hits[i].Path != hits[j].Path {
			return hits[i].Path < hits[j].Path
		}
		return hits[i].Line < hits[j].Line
	})
	return hits, nil
}

func searchFile(path, query string) ([]SearchHit, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var hits []SearchHit
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)
	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Text()
		if strings.Contains(line, query) {
			hits = append(hits, SearchHit{Path: path, Line: lineNo, Content: line})
		}
	}
	return hits, scanner.Err()
}

// ReadFileTruncated reads path up to maxBytes (MaxFileBytes if <= 0),
// truncating at the last newline before the limit and appending a marker
// noting how many bytes were dropped, matching context_retriever.rs's
// read_file_truncated.
func (r *Retriever) ReadFileTruncated(path string, maxBytes int64) (string, error) {
	if maxBytes <= 0 {
		maxBytes = r.MaxFileBytes
	}

	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("retriever: stat %s: %w", path, err)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("retriever: open %s: %w", path, err)
	}
	defer f.Close()

	if info.Size() <= maxBytes {
		data := make([]byte, info.Size())
		if _, err := f.Read(data); err != nil {
			return "", fmt.Errorf("retriever: read %s: %w", path, err)
		}
		return string(data), nil
	}

	buf := make([]byte, maxBytes)
	n, err := f.Read(buf)
	if err != nil {
		return "", fmt.Errorf("retriever: read %s: %w", path, err)
	}
	buf = buf[:n]

	if idx := strings.LastIndexByte(string(buf), '\n'); idx >= 0 {
		buf = buf[:idx]
	}

	remaining := info.Size() - int64(len(buf))
	return fmt.Sprintf("%s\n... [truncated, %d more bytes]", buf, remaining), nil
}

// TaskContext assembles a budget-bounded prompt section from a set of
// context files and output-target files, stopping once MaxContextBytes is
// exhausted. Returned order matches contextFiles then outputTargets, each
// in the order given.
func (r *Retriever) TaskContext(contextFiles, outputTargets []string) string {
	var b strings.Builder
	var used int64

	appendFile := func(label, relPath string) {
		if used >= r.MaxContextBytes {
			return
		}
		full := filepath.Join(r.WorkingDir, relPath)
		content, err := r.ReadFileTruncated(full, r.MaxFileBytes)
		if err != nil {
			content = fmt.Sprintf("[unreadable: %v]", err)
		}
		remaining := r.MaxContextBytes - used
		if int64(len(content)) > remaining {
			content = content[:remaining]
		}
		section := fmt.Sprintf("## %s: %s\n%s\n\n", label, relPath, content)
		b.WriteString(section)
		used += int64(len(section))
	}

	for _, f := range contextFiles {
		appendFile("Context file", f)
	}
	for _, f := range outputTargets {
		appendFile("Output target", f)
	}

	return b.String()
}
