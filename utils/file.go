package utils

import (
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// WriteFileAtomic replaces the file at path with data. The data is written to a temporary file in
// the same directory which is then renamed over path, so readers see either the old or the new
// contents. Missing parent directories are created.
func WriteFileAtomic(path string, data []byte) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return errors.Wrapf(err, "cannot create directory %q", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "cannot create temporary file")
	}
	defer func() {
		if err != nil {
			utils.UncheckedError(os.Remove(tmp.Name()))
		}
	}()
	if _, err := tmp.Write(data); err != nil {
		utils.UncheckedError(tmp.Close())
		return errors.Wrap(err, "cannot write temporary file")
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}
