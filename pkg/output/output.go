// Copyright 2025 Clastix Labs
// SPDX-License-Identifier: Apache-2.0

// Package output persists the exported bundle files.
package output

import (
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/afero"

	pkgerrors "github.com/clastix/signing-cert-enroller/pkg/errors"
)

// Writer creates output files exclusively on its filesystem.
type Writer struct {
	Fs afero.Fs
}

// NewWriter writes to the operating system filesystem.
func NewWriter() *Writer {
	return &Writer{Fs: afero.NewOsFs()}
}

// Check fails with ErrIOConflict when path already exists.
func (w *Writer) Check(path string) error {
	exists, err := afero.Exists(w.Fs, path)
	if err != nil {
		return errors.Wrapf(pkgerrors.ErrIOConflict, "%s: %s", path, err.Error())
	}

	if exists {
		return errors.Wrapf(pkgerrors.ErrIOConflict, "%s already exists", path)
	}

	return nil
}

// Write creates path, writes data and flushes it to storage.
func (w *Writer) Write(path string, data []byte) error {
	f, err := w.Fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if errors.Is(err, os.ErrExist) {
			return errors.Wrapf(pkgerrors.ErrIOConflict, "%s already exists", path)
		}

		return errors.Wrapf(pkgerrors.ErrIOConflict, "%s: %s", path, err.Error())
	}

	if _, err = f.Write(data); err != nil {
		_ = f.Close()

		return errors.Wrapf(err, "failed to write %s", path)
	}

	if err = f.Sync(); err != nil {
		_ = f.Close()

		return errors.Wrapf(err, "failed to flush %s", path)
	}

	return errors.Wrapf(f.Close(), "failed to close %s", path)
}
