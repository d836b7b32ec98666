/*
 * Copyright 2025 The OverlayBridge Authors.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

var (
	// ErrPathEscape marks a resolved path outside the configured root. It
	// is checked before any filesystem call.
	ErrPathEscape = errors.New("path escapes file root")
	// ErrFileNotFound marks an absent file on read.
	ErrFileNotFound = errors.New("file not found")
)

const fileSuffix = ".json"

// FileStore performs the file API's reads and writes, scoped to a single
// root directory.
type FileStore struct {
	root string
}

func NewFileStore(root string) (*FileStore, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("file root: %w", err)
	}

	return &FileStore{root: abs}, nil
}

func (f *FileStore) Root() string {
	return f.root
}

// resolve joins the parts under the root and rejects any result that is not
// a strict descendant after normalization. ".." segments cannot escape; an
// absolute part cannot redirect.
func (f *FileStore) resolve(parts ...string) (string, error) {
	joined := filepath.Join(append([]string{f.root}, parts...)...)

	abs, err := filepath.Abs(joined)
	if err != nil {
		return "", fmt.Errorf("resolve path: %w", err)
	}

	rel, err := filepath.Rel(f.root, abs)
	if err != nil {
		return "", ErrPathEscape
	}

	if rel == "." || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", ErrPathEscape
	}

	return abs, nil
}

// List returns the JSON filenames directly under root/folder. A missing
// directory yields an empty list, not an error.
func (f *FileStore) List(folder string) ([]string, error) {
	dir, err := f.resolve(folder)
	if err != nil {
		return nil, err
	}

	entries, err := os.ReadDir(dir)
	if errors.Is(err, os.ErrNotExist) {
		return []string{}, nil
	}

	if err != nil {
		return nil, fmt.Errorf("list %s: %w", folder, err)
	}

	names := make([]string, 0, len(entries))

	for _, entry := range entries {
		if entry.Type().IsRegular() && strings.HasSuffix(entry.Name(), fileSuffix) {
			names = append(names, entry.Name())
		}
	}

	return names, nil
}

// Read returns the raw bytes of root/folder/filename.
func (f *FileStore) Read(folder, filename string) ([]byte, error) {
	path, err := f.resolve(folder, filename)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, ErrFileNotFound
	}

	if err != nil {
		return nil, fmt.Errorf("read %s/%s: %w", folder, filename, err)
	}

	return data, nil
}

// Save writes data as pretty-printed JSON under root/folder, creating the
// folder if needed and appending the .json suffix when missing. It returns
// the resolved path.
func (f *FileStore) Save(folder, filename string, data interface{}) (string, error) {
	if !strings.HasSuffix(filename, fileSuffix) {
		filename += fileSuffix
	}

	path, err := f.resolve(folder, filename)
	if err != nil {
		return "", err
	}

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return "", fmt.Errorf("encode %s: %w", filename, err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create folder %s: %w", folder, err)
	}

	if err := os.WriteFile(path, encoded, 0o644); err != nil {
		return "", fmt.Errorf("write %s: %w", filename, err)
	}

	return path, nil
}
