// Package embedded exposes the update that ships inside the application
// install: a manifest file plus its assets, addressed by filename in a
// namespace separate from the content store.
package embedded

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"otafs/pkg/manifest"
	"otafs/pkg/models"
)

// ManifestFilename is the name of the manifest inside the namespace.
const ManifestFilename = "manifest.json"

// ErrNotEmbedded is returned when a requested file does not exist in the
// embedded namespace.
var ErrNotEmbedded = errors.New("file not in embedded namespace")

// Namespace is a directory of binary-shipped files addressed by filename.
type Namespace struct {
	dir string
}

// New creates a namespace rooted at dir.
func New(dir string) *Namespace {
	return &Namespace{dir: dir}
}

// Open returns a reader over the named embedded file. Filenames must be
// plain names; anything resolving outside the namespace is rejected.
func (n *Namespace) Open(filename string) (io.ReadCloser, error) {
	path, err := n.Path(filename)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path) //nolint:gosec // path is validated against the namespace root
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotEmbedded, filename, os.ErrNotExist)
	}
	return file, err
}

// Path resolves a filename to its absolute location inside the namespace.
func (n *Namespace) Path(filename string) (string, error) {
	cleaned := filepath.Clean(filename)
	if cleaned != filename || strings.Contains(cleaned, "..") || filepath.IsAbs(cleaned) {
		return "", fmt.Errorf("%w: invalid filename %q", ErrNotEmbedded, filename)
	}
	return filepath.Join(n.dir, cleaned), nil
}

// Manifest reads and resolves the embedded manifest.
func (n *Namespace) Manifest(resolveCtx manifest.Context) (*models.Manifest, error) {
	path, err := n.Path(ManifestFilename)
	if err != nil {
		return nil, err
	}

	raw, err := os.ReadFile(path) //nolint:gosec // constant filename under the namespace root
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %w", ErrNotEmbedded, ManifestFilename, err)
	}

	resolved, err := manifest.Resolve(raw, resolveCtx)
	if err != nil {
		return nil, err
	}

	// Embedded assets resolve by filename; default each asset that does
	// not already name one to its own key so the loader can copy it.
	for i := range resolved.Assets {
		if resolved.Assets[i].EmbeddedFilename == "" && resolved.Assets[i].Key != "" {
			resolved.Assets[i].EmbeddedFilename = resolved.Assets[i].Key
		}
	}
	return resolved, nil
}

// FindByHash scans the namespace for a file whose content hashes to the
// given value. Used by the launcher's self-healing read path when a
// content store file has gone missing.
func (n *Namespace) FindByHash(hash string) (string, error) {
	entries, err := os.ReadDir(n.dir)
	if err != nil {
		return "", err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		path := filepath.Join(n.dir, entry.Name())
		fileHash, hashErr := hashFile(path)
		if hashErr != nil {
			continue
		}
		if fileHash == hash {
			return entry.Name(), nil
		}
	}
	return "", fmt.Errorf("%w: no file with hash %s", ErrNotEmbedded, hash)
}

func hashFile(path string) (string, error) {
	file, err := os.Open(path) //nolint:gosec // path comes from the namespace directory listing
	if err != nil {
		return "", err
	}
	defer func() { _ = file.Close() }()

	hasher := sha256.New()
	if _, err := io.Copy(hasher, file); err != nil {
		return "", err
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}
