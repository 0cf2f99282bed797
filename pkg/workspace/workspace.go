// Package workspace exposes a bounded file API over one directory tree:
// suffix-allowlisted listing, size-capped reads and writes, and an
// append-only audit log for every write.
package workspace

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/agentos-io/agentcore/pkg/config"
)

var (
	// ErrForbidden is returned when a path escapes the workspace root.
	ErrForbidden = errors.New("path outside workspace root")
	// ErrNotDirectory is returned when a listing target is not a directory.
	ErrNotDirectory = errors.New("not a directory")
	// ErrNotFile is returned when a read target is not a regular file.
	ErrNotFile = errors.New("not a file")
	// ErrSuffixNotAllowed is returned for file suffixes outside the allowlist.
	ErrSuffixNotAllowed = errors.New("suffix not allowed")
	// ErrTooLarge is returned when content exceeds the configured size cap.
	ErrTooLarge = errors.New("content too large")
)

// FileInfo describes one listed file.
type FileInfo struct {
	Name  string `json:"name"`
	Size  int64  `json:"size,omitempty"`
	MTime string `json:"mtime,omitempty"`
}

// Listing is the result of List.
type Listing struct {
	CWD   string     `json:"cwd"`
	Root  string     `json:"root"`
	Dirs  []string   `json:"dirs"`
	Files []FileInfo `json:"files"`
}

// Service answers list/read/write requests inside one root.
type Service struct {
	root          string
	allowSuffixes []string
	maxReadBytes  int64
	maxWriteBytes int64
	auditPath     string
}

// NewService builds a workspace service from configuration. An empty
// configured root falls back to baseDir; the audit log lives under
// baseDir regardless of the workspace root.
func NewService(cfg config.WorkspaceConfig, baseDir string) (*Service, error) {
	root := cfg.Root
	if root == "" {
		root = baseDir
	}
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve workspace root: %w", err)
	}

	suffixes := make([]string, 0, len(cfg.AllowSuffixes))
	for _, s := range cfg.AllowSuffixes {
		suffixes = append(suffixes, strings.ToLower(s))
	}

	return &Service{
		root:          abs,
		allowSuffixes: suffixes,
		maxReadBytes:  int64(cfg.MaxReadSizeKB) * 1024,
		maxWriteBytes: int64(cfg.MaxWriteSizeKB) * 1024,
		auditPath:     filepath.Join(baseDir, "audit", "ws_writes.log"),
	}, nil
}

// Root returns the absolute workspace root.
func (s *Service) Root() string { return s.root }

// safePath resolves rel inside the root, rejecting escapes.
func (s *Service) safePath(rel string) (string, error) {
	if rel == "" {
		rel = "."
	}
	abs := filepath.Join(s.root, rel)
	r, err := filepath.Rel(s.root, abs)
	if err != nil || r == ".." || strings.HasPrefix(r, ".."+string(filepath.Separator)) {
		return "", ErrForbidden
	}
	return abs, nil
}

func (s *Service) suffixAllowed(path string) bool {
	ext := strings.ToLower(filepath.Ext(path))
	for _, allowed := range s.allowSuffixes {
		if ext == allowed {
			return true
		}
	}
	return false
}

// List returns the directories and allowlisted files under rel.
func (s *Service) List(rel string) (*Listing, error) {
	abs, err := s.safePath(rel)
	if err != nil {
		return nil, err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("stat %s: %w", rel, err)
	}
	if !info.IsDir() {
		return nil, ErrNotDirectory
	}

	entries, err := os.ReadDir(abs)
	if err != nil {
		return nil, fmt.Errorf("read dir %s: %w", rel, err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	listing := &Listing{Root: s.root, Dirs: []string{}, Files: []FileInfo{}}
	for _, entry := range entries {
		if entry.IsDir() {
			listing.Dirs = append(listing.Dirs, entry.Name())
			continue
		}
		if !s.suffixAllowed(entry.Name()) {
			continue
		}
		fi := FileInfo{Name: entry.Name()}
		if st, err := entry.Info(); err == nil {
			fi.Size = st.Size()
			fi.MTime = st.ModTime().UTC().Format(time.RFC3339)
		}
		listing.Files = append(listing.Files, fi)
	}

	if cwd, err := filepath.Rel(s.root, abs); err == nil && cwd != "." {
		listing.CWD = cwd
	}
	return listing, nil
}

// Read returns the content of an allowlisted file under the read cap.
func (s *Service) Read(rel string) (string, error) {
	abs, err := s.safePath(rel)
	if err != nil {
		return "", err
	}
	info, err := os.Stat(abs)
	if err != nil || !info.Mode().IsRegular() {
		return "", ErrNotFile
	}
	if !s.suffixAllowed(abs) {
		return "", ErrSuffixNotAllowed
	}
	if info.Size() > s.maxReadBytes {
		return "", fmt.Errorf("%w: file exceeds %d KB", ErrTooLarge, s.maxReadBytes/1024)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", rel, err)
	}
	return string(data), nil
}

// Write stores content at rel, creating parent directories, and appends
// an audit record. All checks run before anything touches disk.
func (s *Service) Write(rel, content, user, ip string) error {
	abs, err := s.safePath(rel)
	if err != nil {
		return err
	}
	if !s.suffixAllowed(abs) {
		return ErrSuffixNotAllowed
	}
	if int64(len(content)) > s.maxWriteBytes {
		return fmt.Errorf("%w: content exceeds %d KB", ErrTooLarge, s.maxWriteBytes/1024)
	}
	if err := os.MkdirAll(filepath.Dir(abs), 0o755); err != nil {
		return fmt.Errorf("create parent dirs: %w", err)
	}
	if err := os.WriteFile(abs, []byte(content), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", rel, err)
	}

	s.audit(abs, len(content), user, ip)
	return nil
}

// audit appends one JSONL record describing a write. Audit failures do
// not fail the write itself.
func (s *Service) audit(abs string, size int, user, ip string) {
	if err := os.MkdirAll(filepath.Dir(s.auditPath), 0o755); err != nil {
		return
	}
	relPath := abs
	if r, err := filepath.Rel(s.root, abs); err == nil {
		relPath = r
	}
	if len(user) > 128 {
		user = user[:128]
	}
	rec := map[string]any{
		"ts":    time.Now().UTC().Format(time.RFC3339),
		"path":  relPath,
		"bytes": size,
		"ip":    ip,
		"user":  user,
	}
	line, err := json.Marshal(rec)
	if err != nil {
		return
	}
	f, err := os.OpenFile(s.auditPath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return
	}
	defer f.Close()
	_, _ = f.Write(append(line, '\n'))
}
