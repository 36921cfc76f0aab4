// Package security guards file paths built from request input.
package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// SnapshotExtensions are the image formats a composite snapshot may be
// written as.
var SnapshotExtensions = []string{".png", ".jpg", ".jpeg"}

// SnapshotPath turns a client-supplied name into a path inside dir. The name
// is sanitised, must carry one of SnapshotExtensions and must not escape dir.
func SnapshotPath(dir, name string) (string, error) {
	if dir == "" {
		return "", fmt.Errorf("no snapshot directory configured")
	}
	clean := SanitizeFilename(filepath.Base(name))
	ext := strings.ToLower(filepath.Ext(clean))
	ok := false
	for _, e := range SnapshotExtensions {
		if ext == e {
			ok = true
			break
		}
	}
	if !ok {
		return "", fmt.Errorf("snapshot name %q must end in one of %v", name, SnapshotExtensions)
	}
	path := filepath.Join(dir, clean)
	if err := ValidatePathWithinDirectory(path, dir); err != nil {
		return "", err
	}
	return path, nil
}

// ValidatePathWithinDirectory rejects paths that resolve, after cleaning and
// symlink evaluation, outside safeDir. safeDir must exist; filePath need not.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	canonicalPath := absPath
	if resolved, err := filepath.EvalSymlinks(absPath); err == nil {
		canonicalPath = resolved
	} else {
		// Resolve the deepest existing parent so a symlinked parent cannot
		// smuggle a new file elsewhere.
		for check := absPath; ; {
			parent := filepath.Dir(check)
			if parent == check {
				break
			}
			if resolved, err := filepath.EvalSymlinks(parent); err == nil {
				rel, _ := filepath.Rel(parent, absPath)
				canonicalPath = filepath.Join(resolved, rel)
				break
			}
			check = parent
		}
	}

	canonicalSafeDir, err := filepath.EvalSymlinks(absSafeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory symlinks: %w", err)
	}

	rel, err := filepath.Rel(canonicalSafeDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || filepath.IsAbs(rel) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// SanitizeFilename keeps ASCII letters, digits, dot, underscore and dash,
// folding every other run of characters into one underscore. The result is
// at most 128 bytes and never empty.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'),
			r == '.' || r == '_' || r == '-':
			b.WriteRune(r)
			lastUnderscore = false
		case !lastUnderscore:
			b.WriteRune('_')
			lastUnderscore = true
		}
	}
	out := strings.Trim(b.String(), "._")
	if out == "" {
		return "unknown"
	}
	return out
}
