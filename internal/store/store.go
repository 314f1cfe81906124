// Package store manages the on-disk session layout: uploaded trees under
// uploads/<session> and generated volumes under outputs/<session>, plus the
// directories the archiver resolver works from.
package store

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

type Store struct {
	root string
}

type Volume struct {
	Name string `json:"name"`
	Size int64  `json:"size"`
}

func New(root string) (*Store, error) {
	s := &Store{root: root}
	for _, dir := range []string{s.uploadsRoot(), s.outputsRoot(), s.BinDir(), s.SevenZDir()} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
	}
	return s, nil
}

func (s *Store) uploadsRoot() string { return filepath.Join(s.root, "uploads") }
func (s *Store) outputsRoot() string { return filepath.Join(s.root, "outputs") }

// BinDir holds the bundled archiver distributions.
func (s *Store) BinDir() string { return filepath.Join(s.root, "bin") }

// SevenZDir is where the archiver executable is unpacked.
func (s *Store) SevenZDir() string { return filepath.Join(s.root, "7z") }

// UploadDir returns the upload tree for a session without creating it.
func (s *Store) UploadDir(session string) (string, error) {
	if err := checkSession(session); err != nil {
		return "", err
	}
	return filepath.Join(s.uploadsRoot(), session), nil
}

// OutputDir returns the output directory for a session, creating it.
func (s *Store) OutputDir(session string) (string, error) {
	if err := checkSession(session); err != nil {
		return "", err
	}
	dir := filepath.Join(s.outputsRoot(), session)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	return dir, nil
}

// SaveUpload stores one uploaded file under the session tree, preserving the
// client-supplied relative path. Paths that escape the session root are
// rejected.
func (s *Store) SaveUpload(session, rel string, r io.Reader) (string, error) {
	if err := checkSession(session); err != nil {
		return "", err
	}
	rel = filepath.Clean(filepath.FromSlash(rel))
	if rel == "." || filepath.IsAbs(rel) || strings.HasPrefix(rel, ".."+string(filepath.Separator)) || rel == ".." {
		return "", fmt.Errorf("invalid upload path: %s", rel)
	}

	target := filepath.Join(s.uploadsRoot(), session, rel)
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return "", err
	}
	f, err := os.Create(target)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, r); err != nil {
		_ = f.Close()
		return "", err
	}
	if err := f.Close(); err != nil {
		return "", err
	}
	return rel, nil
}

// ListVolumes enumerates the session's generated volumes sorted by name,
// together with their total byte size. A missing output directory is an empty
// listing, not an error.
func (s *Store) ListVolumes(session string) ([]Volume, int64, error) {
	if err := checkSession(session); err != nil {
		return nil, 0, err
	}
	matches, err := filepath.Glob(filepath.Join(s.outputsRoot(), session, "*.7z.*"))
	if err != nil {
		return nil, 0, err
	}
	sort.Strings(matches)

	volumes := make([]Volume, 0, len(matches))
	var total int64
	for _, m := range matches {
		info, err := os.Stat(m)
		if err != nil {
			continue
		}
		volumes = append(volumes, Volume{Name: filepath.Base(m), Size: info.Size()})
		total += info.Size()
	}
	return volumes, total, nil
}

func checkSession(session string) error {
	if session == "" || session != filepath.Base(session) || session == "." || session == ".." {
		return fmt.Errorf("invalid session id: %q", session)
	}
	return nil
}
