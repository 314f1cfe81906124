// Package archive produces size-limited multi-volume 7z archives by driving
// an external compressor, and resolves the compressor binary from bundled
// platform distributions.
package archive

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"

	"github.com/ulikunitz/xz"
	"golang.org/x/sync/singleflight"
)

// Resolver unpacks the platform-matching 7z distribution from BinDir into
// DestDir on first use and caches the resulting executable path. Concurrent
// first callers share a single unpack; the first successful resolution wins.
type Resolver struct {
	BinDir  string // bundled tar.xz distributions
	DestDir string // unpack destination
	Tarball string // optional forced bundle file name

	mu    sync.Mutex
	path  string
	group singleflight.Group
}

func (r *Resolver) Path() (string, error) {
	r.mu.Lock()
	if r.path != "" {
		p := r.path
		r.mu.Unlock()
		return p, nil
	}
	r.mu.Unlock()

	v, err, _ := r.group.Do("7zz", func() (any, error) {
		p, err := r.resolve()
		if err != nil {
			return nil, err
		}
		r.mu.Lock()
		r.path = p
		r.mu.Unlock()
		return p, nil
	})
	if err != nil {
		return "", err
	}
	return v.(string), nil
}

func (r *Resolver) resolve() (string, error) {
	bin := filepath.Join(r.DestDir, "7zz")
	if _, err := os.Stat(bin); err == nil {
		return bin, nil
	}

	tarball, err := r.findBundle()
	if err != nil {
		return "", err
	}
	if err := r.unpack(tarball); err != nil {
		return "", fmt.Errorf("unpack %s: %w", filepath.Base(tarball), err)
	}
	if _, err := os.Stat(bin); err != nil {
		return "", fmt.Errorf("no 7zz executable after unpacking %s", filepath.Base(tarball))
	}
	return bin, nil
}

func (r *Resolver) findBundle() (string, error) {
	if r.Tarball != "" {
		p := filepath.Join(r.BinDir, r.Tarball)
		if _, err := os.Stat(p); err != nil {
			return "", fmt.Errorf("archiver bundle %s not found in %s", r.Tarball, r.BinDir)
		}
		return p, nil
	}

	var candidates []string
	switch runtime.GOOS {
	case "darwin":
		candidates = []string{"7z2501-mac.tar.xz", "7z-mac.tar.xz", "7z-macos.tar.xz"}
	case "linux":
		if runtime.GOARCH == "arm64" {
			candidates = []string{"7z2501-linux-arm64.tar.xz"}
		} else {
			candidates = []string{"7z2501-linux-x64.tar.xz"}
		}
	default:
		return "", fmt.Errorf("unsupported platform %s/%s (set SEVENZ_TARBALL to pick a bundle)", runtime.GOOS, runtime.GOARCH)
	}

	for _, name := range candidates {
		p := filepath.Join(r.BinDir, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no archiver bundle in %s (looked for %s)", r.BinDir, strings.Join(candidates, ", "))
}

// unpack extracts only the 7zz binary (and its 7z.so companion when present),
// flattening any leading directories inside the bundle.
func (r *Resolver) unpack(tarball string) error {
	f, err := os.Open(tarball)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	xr, err := xz.NewReader(f)
	if err != nil {
		return err
	}
	if err := os.MkdirAll(r.DestDir, 0o755); err != nil {
		return err
	}

	tr := tar.NewReader(xr)
	found := false
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		name := filepath.Base(hdr.Name)
		if hdr.Typeflag != tar.TypeReg || (name != "7zz" && name != "7z.so") {
			continue
		}
		out, err := os.OpenFile(filepath.Join(r.DestDir, name), os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
		if err != nil {
			return err
		}
		if _, err := io.Copy(out, tr); err != nil {
			_ = out.Close()
			return err
		}
		if err := out.Close(); err != nil {
			return err
		}
		found = true
	}
	if !found {
		return errors.New("bundle contains no 7zz binary")
	}
	return nil
}
