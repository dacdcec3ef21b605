// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package hlo

import (
	"bytes"
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"io"
	"os"

	"github.com/pkg/errors"
)

// Serialize the program in binary format.
func (m *ModuleProto) Serialize(writer io.Writer) error {
	encoder := gob.NewEncoder(writer)
	if err := encoder.Encode(m); err != nil {
		return errors.Wrapf(err, "failed to serialize program %q", m.nameOrNil())
	}
	return nil
}

// Deserialize a program serialized with ModuleProto.Serialize.
func Deserialize(reader io.Reader) (*ModuleProto, error) {
	decoder := gob.NewDecoder(reader)
	m := &ModuleProto{}
	if err := decoder.Decode(m); err != nil {
		return nil, errors.Wrap(err, "failed to deserialize program")
	}
	return m, nil
}

// Save the serialized program to the given file.
func (m *ModuleProto) Save(filePath string) (err error) {
	f, err := os.Create(filePath)
	if err != nil {
		return errors.Wrapf(err, "failed to create %q to save program", filePath)
	}
	defer func() {
		closeErr := f.Close()
		if err == nil && closeErr != nil {
			err = errors.Wrapf(closeErr, "failed to close %q", filePath)
		}
	}()
	return m.Serialize(f)
}

// Load a program saved with ModuleProto.Save.
func Load(filePath string) (*ModuleProto, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open program file")
	}
	defer func() { _ = f.Close() }()
	m, err := Deserialize(f)
	if err != nil {
		return nil, errors.WithMessagef(err, "loading %q", filePath)
	}
	return m, nil
}

// Fingerprint returns the hex-encoded SHA-256 of the serialized program.
func (m *ModuleProto) Fingerprint() (string, error) {
	var buf bytes.Buffer
	if err := m.Serialize(&buf); err != nil {
		return "", err
	}
	sum := sha256.Sum256(buf.Bytes())
	return hex.EncodeToString(sum[:]), nil
}
