package security

import (
	"fmt"
	"path/filepath"
	"strings"
)

// ValidatePathWithinDirectory checks that filePath resolves to a location
// inside safeDir, following symlinks on the longest existing prefix of the
// path.
func ValidatePathWithinDirectory(filePath, safeDir string) error {
	absPath, err := filepath.Abs(filepath.Clean(filePath))
	if err != nil {
		return fmt.Errorf("failed to resolve absolute path: %w", err)
	}
	absSafeDir, err := filepath.Abs(safeDir)
	if err != nil {
		return fmt.Errorf("failed to resolve safe directory path: %w", err)
	}

	canonicalPath := resolveExisting(absPath)
	canonicalSafeDir := resolveExisting(absSafeDir)

	relPath, err := filepath.Rel(canonicalSafeDir, canonicalPath)
	if err != nil {
		return fmt.Errorf("path is outside safe directory: %w", err)
	}
	if relPath == ".." || strings.HasPrefix(relPath, ".."+string(filepath.Separator)) || filepath.IsAbs(relPath) {
		return fmt.Errorf("path traversal detected: %s attempts to escape %s", filePath, safeDir)
	}
	return nil
}

// resolveExisting evaluates symlinks on the deepest existing ancestor of
// path and re-attaches the missing tail.
func resolveExisting(path string) string {
	for dir := path; ; dir = filepath.Dir(dir) {
		if resolved, err := filepath.EvalSymlinks(dir); err == nil {
			rel, _ := filepath.Rel(dir, path)
			return filepath.Join(resolved, rel)
		}
		if filepath.Dir(dir) == dir {
			return path
		}
	}
}

// SanitizeFilename makes a safe path element from an arbitrary identifier.
// Characters other than ASCII letters, digits, dot, underscore and dash
// collapse to a single underscore.
func SanitizeFilename(s string) string {
	const maxLen = 128
	var b strings.Builder
	lastUnderscore := false
	for _, r := range s {
		if b.Len() >= maxLen {
			break
		}
		switch {
		case (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9'), r == '.', r == '_', r == '-':
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

// UserDir returns the per-user directory under root for an identity
// document number, rejecting identifiers that would escape root.
func UserDir(root, cedula string) (string, error) {
	if cedula == "" || SanitizeFilename(cedula) != cedula {
		return "", fmt.Errorf("invalid identifier %q", cedula)
	}
	dir := filepath.Join(root, cedula)
	if err := ValidatePathWithinDirectory(dir, root); err != nil {
		return "", err
	}
	return dir, nil
}
