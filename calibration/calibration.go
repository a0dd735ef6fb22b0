// Package calibration persists sensor calibration blobs across power cycles.
// Blobs are opaque to the rover; sensors hand over whatever bytes they want
// back at the next boot. A missing blob is normal on a fresh install.
package calibration

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/edaniels/golog"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

const blobSuffix = ".calib"

// Store keeps one file per namespace under a data directory.
type Store struct {
	mu     sync.Mutex
	dir    string
	logger golog.Logger
}

// NewStore creates the data directory if needed.
func NewStore(dir string, logger golog.Logger) (*Store, error) {
	if dir == "" {
		return nil, errors.New("calibration: data directory is required")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "calibration: creating %s", dir)
	}
	return &Store{dir: dir, logger: logger}, nil
}

// Save writes the blob atomically so a power cut mid-write leaves the
// previous blob intact.
func (s *Store) Save(namespace string, blob []byte) error {
	path, err := s.path(namespace)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tmp, err := os.CreateTemp(s.dir, namespace+"-*.tmp")
	if err != nil {
		return errors.Wrap(err, "calibration: creating temp file")
	}
	if _, err := tmp.Write(blob); err != nil {
		return multierr.Combine(
			errors.Wrapf(err, "calibration: writing %s", namespace),
			tmp.Close(),
			os.Remove(tmp.Name()),
		)
	}
	if err := tmp.Close(); err != nil {
		return multierr.Combine(
			errors.Wrapf(err, "calibration: closing %s", namespace),
			os.Remove(tmp.Name()),
		)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return multierr.Combine(
			errors.Wrapf(err, "calibration: replacing %s", namespace),
			os.Remove(tmp.Name()),
		)
	}
	s.logger.Debugw("calibration saved", "namespace", namespace, "bytes", len(blob))
	return nil
}

// Load returns the blob and whether one existed. Absence is not an error.
func (s *Store) Load(namespace string) ([]byte, bool, error) {
	path, err := s.path(namespace)
	if err != nil {
		return nil, false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, errors.Wrapf(err, "calibration: reading %s", namespace)
	}
	return blob, true, nil
}

// Delete removes the blob. Deleting a blob that never existed is fine.
func (s *Store) Delete(namespace string) error {
	path, err := s.path(namespace)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := os.Remove(path); err != nil && !errors.Is(err, os.ErrNotExist) {
		return errors.Wrapf(err, "calibration: deleting %s", namespace)
	}
	return nil
}

// path validates the namespace before letting it near the filesystem.
func (s *Store) path(namespace string) (string, error) {
	if namespace == "" {
		return "", errors.New("calibration: namespace is required")
	}
	if strings.ContainsAny(namespace, `/\`) || namespace != filepath.Base(namespace) {
		return "", errors.Errorf("calibration: invalid namespace %q", namespace)
	}
	return filepath.Join(s.dir, namespace+blobSuffix), nil
}
