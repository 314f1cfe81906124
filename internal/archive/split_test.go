package archive

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// writeFakeArchiver installs a shell script that mimics the 7z argv contract:
// it emits some progress output and creates the given number of volumes next
// to the archive path (argv position 5).
func writeFakeArchiver(t *testing.T, script string) *Splitter {
	t.Helper()
	bin := filepath.Join(t.TempDir(), "7zz")
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake archiver: %v", err)
	}
	return &Splitter{Resolve: func() (string, error) { return bin, nil }}
}

func sourceDir(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "a.txt"), []byte("hello"), 0o644); err != nil {
		t.Fatal(err)
	}
	return dir
}

func TestSplit_ProducesOrderedVolumes(t *testing.T) {
	sp := writeFakeArchiver(t, `#!/bin/sh
echo "Scanning the drive:"
printf 'one' > "$5.001"
printf 'two' > "$5.002"
echo "Everything is Ok"
`)
	out := t.TempDir()

	var lines []string
	vols, err := sp.Split(context.Background(), sourceDir(t), out, "mydata", 20, func(l string) { lines = append(lines, l) })
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(vols) != 2 {
		t.Fatalf("got %d volumes, want 2", len(vols))
	}
	if filepath.Base(vols[0]) != "mydata.7z.001" || filepath.Base(vols[1]) != "mydata.7z.002" {
		t.Errorf("volumes out of order: %v", vols)
	}
	joined := strings.Join(lines, "\n")
	if !strings.Contains(joined, "Scanning the drive:") || !strings.Contains(joined, "Everything is Ok") {
		t.Errorf("archiver output not streamed: %q", joined)
	}
}

func TestSplit_PurgesStaleVolumes(t *testing.T) {
	sp := writeFakeArchiver(t, `#!/bin/sh
printf 'fresh' > "$5.001"
`)
	out := t.TempDir()
	for _, stale := range []string{"mydata.7z", "mydata.7z.001", "mydata.7z.007"} {
		if err := os.WriteFile(filepath.Join(out, stale), []byte("stale"), 0o644); err != nil {
			t.Fatal(err)
		}
	}

	vols, err := sp.Split(context.Background(), sourceDir(t), out, "mydata", 20, func(string) {})
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	if len(vols) != 1 {
		t.Fatalf("got %v, want exactly the new run's volume", vols)
	}
	if _, err := os.Stat(filepath.Join(out, "mydata.7z.007")); !os.IsNotExist(err) {
		t.Error("stale volume survived the purge")
	}
	data, err := os.ReadFile(vols[0])
	if err != nil || string(data) != "fresh" {
		t.Errorf("volume content = %q, %v", data, err)
	}
}

func TestSplit_NonZeroExitCode(t *testing.T) {
	sp := writeFakeArchiver(t, `#!/bin/sh
echo "ERROR: disk full"
exit 2
`)
	_, err := sp.Split(context.Background(), sourceDir(t), t.TempDir(), "mydata", 20, func(string) {})
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "exit code 2") {
		t.Errorf("error %q does not carry the exit code", err)
	}
}

func TestSplit_NoOutputIsFatal(t *testing.T) {
	sp := writeFakeArchiver(t, "#!/bin/sh\nexit 0\n")
	_, err := sp.Split(context.Background(), sourceDir(t), t.TempDir(), "mydata", 20, func(string) {})
	if err == nil || !strings.Contains(err.Error(), "no volumes") {
		t.Errorf("expected no-volumes error, got %v", err)
	}
}

func TestSplit_MissingSourceDir(t *testing.T) {
	sp := writeFakeArchiver(t, "#!/bin/sh\nexit 0\n")
	_, err := sp.Split(context.Background(), filepath.Join(t.TempDir(), "nope"), t.TempDir(), "mydata", 20, func(string) {})
	if err == nil || !strings.Contains(err.Error(), "source directory missing") {
		t.Errorf("expected source-missing error, got %v", err)
	}
}
