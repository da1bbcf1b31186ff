// Package fsutil locates speech model files and keeps untrusted name
// fragments from escaping the directories the service writes into.
package fsutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

const (
	envCacheDir     = "CACHE_DIR"
	serviceDirName  = "voice-service"
	modelsSubdir    = "models"
	dirPermissions  = 0o750
	unsafeCharShown = "_"
)

const (
	errFmtCreateDir   = "failed to create directory %s: %w"
	errFmtAbsPath     = "failed to resolve %q: %w"
	errFmtStatModel   = "failed to inspect model candidate %q: %w"
	errFmtModelAbsent = "%w: %s (looked in %s)"
)

// ErrModelNotFound is returned when no candidate location holds the model file.
var ErrModelNotFound = errors.New("model not found")

// unsafeChars are replaced in any name fragment that reaches the filesystem.
var unsafeChars = strings.NewReplacer(
	"/", unsafeCharShown,
	"\\", unsafeCharShown,
	":", unsafeCharShown,
	"<", unsafeCharShown,
	">", unsafeCharShown,
	"\"", unsafeCharShown,
	"|", unsafeCharShown,
	"?", unsafeCharShown,
	"*", unsafeCharShown,
	"\x00", unsafeCharShown,
)

// CacheDir is where downloaded models live when no explicit directory is
// configured. CACHE_DIR overrides it.
func CacheDir() string {
	if dir := os.Getenv(envCacheDir); dir != "" {
		return dir
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(os.TempDir(), serviceDirName, "cache")
	}

	return filepath.Join(home, ".cache", serviceDirName)
}

// EnsureDir creates path and its parents when missing.
func EnsureDir(path string) error {
	err := os.MkdirAll(path, dirPermissions)
	if err != nil {
		return fmt.Errorf(errFmtCreateDir, path, err)
	}

	return nil
}

// ModelCandidates lists, in lookup order, every path FindModel inspects for
// name: each non-empty configured dir, then ./models, then the cache.
func ModelCandidates(name string, dirs ...string) []string {
	candidates := make([]string, 0, len(dirs)+2)
	for _, dir := range dirs {
		if dir != "" {
			candidates = append(candidates, filepath.Join(dir, name))
		}
	}

	return append(candidates,
		filepath.Join(modelsSubdir, name),
		filepath.Join(CacheDir(), modelsSubdir, name),
	)
}

// FindModel returns the absolute path of the first regular file among
// ModelCandidates. Directories with a matching name are skipped.
func FindModel(name string, dirs ...string) (string, error) {
	candidates := ModelCandidates(name, dirs...)

	for _, candidate := range candidates {
		info, err := os.Stat(candidate)
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}

		if err != nil {
			return "", fmt.Errorf(errFmtStatModel, candidate, err)
		}

		if !info.Mode().IsRegular() {
			continue
		}

		abs, err := filepath.Abs(candidate)
		if err != nil {
			return "", fmt.Errorf(errFmtAbsPath, candidate, err)
		}

		return abs, nil
	}

	return "", fmt.Errorf(errFmtModelAbsent, ErrModelNotFound, name, strings.Join(candidates, ", "))
}

// SanitizeFilename neutralises path separators and characters that are
// invalid on common filesystems.
func SanitizeFilename(name string) string {
	return unsafeChars.Replace(name)
}
