package archive

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"sort"
)

// Splitter invokes the external compressor to produce a multi-volume archive.
type Splitter struct {
	// Resolve returns the archiver executable path.
	Resolve func() (string, error)
}

// Split archives sourceDir into {basename}.7z volumes of at most volumeSizeMB
// in outDir and returns the volume paths in ascending order. Stale volumes
// from a previous run with the same basename are deleted first; a multi-volume
// archive cannot be safely appended to, so every run starts clean. Archiver
// output is streamed to logLine as it appears.
func (s *Splitter) Split(ctx context.Context, sourceDir, outDir, basename string, volumeSizeMB int, logLine func(string)) ([]string, error) {
	if _, err := os.Stat(sourceDir); err != nil {
		return nil, fmt.Errorf("source directory missing: %s", sourceDir)
	}
	if err := os.MkdirAll(outDir, 0o755); err != nil {
		return nil, fmt.Errorf("create output directory: %w", err)
	}

	bin, err := s.Resolve()
	if err != nil {
		return nil, fmt.Errorf("archiver unavailable: %w", err)
	}

	archivePath := filepath.Join(outDir, basename+".7z")
	stale, err := filepath.Glob(archivePath + ".*")
	if err != nil {
		return nil, err
	}
	if _, err := os.Stat(archivePath); err == nil {
		stale = append(stale, archivePath)
	}
	if len(stale) > 0 {
		logLine("cleaning previous volumes")
		for _, p := range stale {
			if err := os.Remove(p); err != nil {
				slog.Error("remove stale volume", "path", p, "error", err)
			}
		}
	}

	if volumeSizeMB < 1 {
		volumeSizeMB = 1
	}
	cmd := exec.CommandContext(ctx, bin, "a", "-y", fmt.Sprintf("-v%dm", volumeSizeMB), "-mx=3", archivePath, ".")
	// Working directory is the source tree so archived paths stay relative
	// and never leak absolute host paths.
	cmd.Dir = sourceDir

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}
	cmd.Stderr = cmd.Stdout

	slog.Info("running archiver", "bin", bin, "archive", archivePath, "volumeSizeMB", volumeSizeMB, "cwd", sourceDir)
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start archiver: %w", err)
	}

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		logLine(scanner.Text())
	}
	if scanErr := scanner.Err(); scanErr != nil {
		slog.Error("read archiver output", "error", scanErr)
	}

	if err := cmd.Wait(); err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			return nil, fmt.Errorf("compression failed with exit code %d", exitErr.ExitCode())
		}
		return nil, fmt.Errorf("compression failed: %w", err)
	}

	volumes, err := filepath.Glob(archivePath + ".*")
	if err != nil {
		return nil, err
	}
	sort.Strings(volumes)
	if len(volumes) == 0 {
		// Defensive: a zero exit with no output means the tool misbehaved.
		return nil, errors.New("archiver produced no volumes")
	}
	return volumes, nil
}
