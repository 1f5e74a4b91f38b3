package buildstore

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/klauspost/compress/zip"

	"github.com/siegeup/hostagent/pkg/log"
)

// Store manages extracted build versions under a root directory. Each
// top-level child directory is one version.
type Store struct {
	root string
}

// NewStore creates a build store rooted at root, creating the directory if
// needed.
func NewStore(root string) (*Store, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, fmt.Errorf("failed to create build root: %w", err)
	}
	return &Store{root: root}, nil
}

// Root returns the build root directory.
func (s *Store) Root() string {
	return s.root
}

// VersionDir returns the directory a version extracts into.
func (s *Store) VersionDir(version string) string {
	return filepath.Join(s.root, version)
}

// Ingest spools the archive stream to a temporary file, extracts it under
// <root>/<version>/ and marks the discovered server executable runnable.
// The temporary file is removed on success. A failed extraction may leave a
// partial version tree behind; re-uploading the same version or purging it
// is safe.
func (s *Store) Ingest(r io.Reader, version string) error {
	logger := log.WithComponent("buildstore")

	tmpPath := filepath.Join(s.root, "upload-"+uuid.New().String()+".zip")
	tmp, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create archive temp file: %w", err)
	}

	size, err := io.Copy(tmp, r)
	if cerr := tmp.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to spool archive: %w", err)
	}

	logger.Info().Str("version", version).Int64("bytes", size).Msg("Extracting build archive")

	if err := s.extract(tmpPath, version); err != nil {
		return err
	}

	if exe, ok := s.FindExecutable(version); ok {
		if err := os.Chmod(exe, 0755); err != nil {
			return fmt.Errorf("failed to mark %s executable: %w", exe, err)
		}
		logger.Info().Str("version", version).Str("executable", exe).Msg("Build ingested")
	} else {
		logger.Warn().Str("version", version).Msg("No server executable found in archive")
	}

	if err := os.Remove(tmpPath); err != nil {
		logger.Warn().Err(err).Msg("Failed to remove archive temp file")
	}

	return nil
}

// extract unpacks the zip at archivePath into the version directory.
func (s *Store) extract(archivePath, version string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("failed to open archive: %w", err)
	}
	defer zr.Close()

	dest := s.VersionDir(version)
	if err := os.MkdirAll(dest, 0755); err != nil {
		return fmt.Errorf("failed to create version directory: %w", err)
	}

	for _, entry := range zr.File {
		target, err := safeJoin(dest, entry.Name)
		if err != nil {
			return err
		}

		if entry.FileInfo().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return fmt.Errorf("failed to create directory %s: %w", entry.Name, err)
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
			return fmt.Errorf("failed to create directory for %s: %w", entry.Name, err)
		}

		if err := extractFile(entry, target); err != nil {
			return err
		}
	}

	return nil
}

func extractFile(entry *zip.File, target string) error {
	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open archive entry %s: %w", entry.Name, err)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", target, err)
	}

	_, err = io.Copy(out, rc)
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to extract %s: %w", entry.Name, err)
	}
	return nil
}

// safeJoin joins an archive entry name onto dest, rejecting entries that
// would escape it.
func safeJoin(dest, name string) (string, error) {
	target := filepath.Join(dest, filepath.FromSlash(name))
	if target != dest && !strings.HasPrefix(target, dest+string(os.PathSeparator)) {
		return "", fmt.Errorf("archive entry %q escapes version directory", name)
	}
	return target, nil
}

// FindExecutable walks the version tree depth-first and returns the first
// regular file that looks like the server binary. The crash handler shipped
// next to Unity builds is never the server.
func (s *Store) FindExecutable(version string) (string, bool) {
	var found string

	root := s.VersionDir(version)
	errStop := fmt.Errorf("stop")
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		if isServerExecutable(d.Name()) {
			found = path
			return errStop
		}
		return nil
	})

	if err == errStop {
		return found, true
	}
	return "", false
}

func isServerExecutable(name string) bool {
	if strings.Contains(name, "UnityCrashHandler") {
		return false
	}
	return strings.HasSuffix(name, ".exe") || strings.HasSuffix(name, ".x86_64")
}

// List returns the names of all version directories.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read build root: %w", err)
	}

	var versions []string
	for _, e := range entries {
		if e.IsDir() {
			versions = append(versions, e.Name())
		}
	}
	return versions, nil
}

// Purge removes every version directory whose name is not in inUse and
// returns the removed names. The in-use set must be snapshotted by the
// caller before the call; Purge itself never consults live state.
func (s *Store) Purge(inUse map[string]bool) ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if err != nil {
		return nil, fmt.Errorf("failed to read build root: %w", err)
	}

	logger := log.WithComponent("buildstore")

	removed := []string{}
	for _, e := range entries {
		if !e.IsDir() || inUse[e.Name()] {
			continue
		}
		if err := os.RemoveAll(filepath.Join(s.root, e.Name())); err != nil {
			logger.Error().Err(err).Str("version", e.Name()).Msg("Failed to remove build version")
			continue
		}
		logger.Info().Str("version", e.Name()).Msg("Purged build version")
		removed = append(removed, e.Name())
	}

	return removed, nil
}
