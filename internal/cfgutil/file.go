// Copyright (c) 2015 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package cfgutil

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// FileExists reports whether the named file or directory exists.
func FileExists(filePath string) (bool, error) {
	_, err := os.Stat(filePath)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return false, nil
	case err != nil:
		return false, err
	}
	return true, nil
}

// CheckCreateDir creates the directory at path, and any missing parents,
// unless it already exists.  An existing path that is not a directory is an
// error.
func CheckCreateDir(path string) error {
	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(path, 0700); err != nil {
			return fmt.Errorf("cannot create directory: %w", err)
		}
		return nil

	case err != nil:
		return fmt.Errorf("error checking directory: %w", err)

	case !fi.IsDir():
		return fmt.Errorf("path '%s' is not a directory", path)
	}

	return nil
}
