package skills

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrVerification is returned when a registered skill file is missing or
// its digest no longer matches the registry.
var ErrVerification = errors.New("skill verification failed")

// RegistryEntry pins one file to a known digest.
type RegistryEntry struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	SHA256 string `json:"sha256"`
}

// Registry is the on-disk skill registry document.
type Registry struct {
	Skills []RegistryEntry `json:"skills"`
}

// SHA256File returns the hex digest of the file at path.
func SHA256File(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	h := sha256.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// LoadRegistry reads the registry document at path. A missing file yields
// an empty registry rather than an error.
func LoadRegistry(path string) (*Registry, error) {
	raw, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return &Registry{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read registry: %w", err)
	}
	var reg Registry
	if err := json.Unmarshal(raw, &reg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return &reg, nil
}

// VerifyRegistry checks every registry entry against the file on disk and
// returns ErrVerification naming the offending entries when any file is
// missing, unhashed or has drifted. An empty registry verifies clean.
func VerifyRegistry(path string) error {
	reg, err := LoadRegistry(path)
	if err != nil {
		return err
	}
	var bad []string
	for _, item := range reg.Skills {
		switch {
		case item.Path == "" || item.SHA256 == "":
			bad = append(bad, item.Name+" (incomplete entry)")
		default:
			actual, err := SHA256File(item.Path)
			if err != nil {
				bad = append(bad, item.Path+" (unreadable)")
			} else if actual != item.SHA256 {
				bad = append(bad, item.Path+" (digest mismatch)")
			}
		}
	}
	if len(bad) > 0 {
		return fmt.Errorf("%w: %s", ErrVerification, strings.Join(bad, ", "))
	}
	return nil
}

// GenerateRegistry hashes every regular file under dir and writes the
// resulting registry document to outPath. Entries are sorted by path so
// regeneration is deterministic.
func GenerateRegistry(dir, outPath string) (*Registry, error) {
	reg := &Registry{Skills: []RegistryEntry{}}
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		digest, err := SHA256File(path)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(d.Name(), filepath.Ext(d.Name()))
		reg.Skills = append(reg.Skills, RegistryEntry{
			Name:   name,
			Path:   filepath.ToSlash(path),
			SHA256: digest,
		})
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", dir, err)
	}
	sort.Slice(reg.Skills, func(i, j int) bool { return reg.Skills[i].Path < reg.Skills[j].Path })

	raw, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode registry: %w", err)
	}
	if err := os.WriteFile(outPath, append(raw, '\n'), 0o644); err != nil {
		return nil, fmt.Errorf("write registry: %w", err)
	}
	return reg, nil
}
