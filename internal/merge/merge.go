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

// Package merge repairs user data continuity after the first boot into a
// new slot: the previous slot's filesystem image is mounted read-only and
// entries the new filesystem lacks are carried over.
package merge

import (
	"fmt"

	"github.com/golang/glog"

	"github.com/larkspur-iot/ota/internal/bootcfg"
	"github.com/larkspur-iot/ota/internal/flash"
)

// ImageFS is a read-only view of a mounted filesystem image.
type ImageFS interface {
	// Files lists the paths of all regular files in the image.
	Files() ([]string, error)
	ReadFile(path string) ([]byte, error)
}

// Filesystem is the active (just written) filesystem entries are merged
// into.
type Filesystem interface {
	Exists(path string) bool
	WriteFile(path string, data []byte) error
}

// Apply copies every file of img that dst does not already have. Files the
// new image ships are never overwritten.
func Apply(img ImageFS, dst Filesystem) error {
	paths, err := img.Files()
	if err != nil {
		return fmt.Errorf("failed to list previous filesystem: %w", err)
	}
	for _, p := range paths {
		if dst.Exists(p) {
			glog.V(1).Infof("Keeping new %q", p)
			continue
		}
		data, err := img.ReadFile(p)
		if err != nil {
			return fmt.Errorf("failed to read %q from previous filesystem: %w", p, err)
		}
		if err := dst.WriteFile(p, data); err != nil {
			return fmt.Errorf("failed to carry %q over: %w", p, err)
		}
		glog.Infof("Merged %q (%d bytes)", p, len(data))
	}
	return nil
}

// Run performs the post-boot merge for the device: it looks up the previous
// slot's filesystem image in the boot configuration, mounts it and applies
// the merge into dst. A mount failure aborts the merge; the update itself
// stays applied.
func Run(dev flash.Device, boot *bootcfg.Manager, dst Filesystem) error {
	cfg, err := boot.Current()
	if err != nil {
		return fmt.Errorf("failed to load boot config: %w", err)
	}
	prev := cfg.Slots[cfg.PreviousSlot]
	if prev.FSSize == 0 {
		return fmt.Errorf("no filesystem image recorded for slot %d", cfg.PreviousSlot)
	}

	glog.Infof("Mounting old FS: %d @%#x", prev.FSSize, prev.FSAddr)
	img, err := Mount(dev, prev.FSAddr, prev.FSSize)
	if err != nil {
		return fmt.Errorf("cannot mount previous file system: %w", err)
	}
	return Apply(img, dst)
}
