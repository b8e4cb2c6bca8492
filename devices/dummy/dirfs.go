// Copyright 2024 Larkspur Labs. All Rights Reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package dummy

import (
	"os"
	"path/filepath"

	"github.com/larkspur-iot/ota/internal/merge"
)

// DirFS exposes a local directory as the device's active filesystem, the
// destination of the post-boot merge.
type DirFS struct {
	root string
}

var _ merge.Filesystem = &DirFS{}

// NewDirFS returns a merge target rooted at root.
func NewDirFS(root string) *DirFS {
	return &DirFS{root: root}
}

// Exists reports whether path is already present.
func (d *DirFS) Exists(path string) bool {
	_, err := os.Stat(filepath.Join(d.root, filepath.FromSlash(path)))
	return err == nil
}

// WriteFile stores data at path, creating parent directories as needed.
func (d *DirFS) WriteFile(path string, data []byte) error {
	full := filepath.Join(d.root, filepath.FromSlash(path))
	if err := os.MkdirAll(filepath.Dir(full), 0755); err != nil {
		return err
	}
	return os.WriteFile(full, data, 0644)
}
