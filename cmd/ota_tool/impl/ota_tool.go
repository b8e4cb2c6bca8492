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

// Package impl is the implementation of the tool which applies update
// packages to a device. It plays the role of the streaming transport: it
// walks the package entry by entry and drives the engine's
// begin/data/end protocol, accumulating and resubmitting chunks the engine
// defers.
package impl

import (
	"archive/zip"
	"errors"
	"fmt"
	"io"

	"github.com/golang/glog"

	"github.com/larkspur-iot/ota/api"
	"github.com/larkspur-iot/ota/devices/dummy"
	"github.com/larkspur-iot/ota/internal/bootcfg"
	"github.com/larkspur-iot/ota/internal/update"
)

// ApplyOpts encapsulates the tool parameters.
type ApplyOpts struct {
	UpdateFile    string
	DeviceStorage string
	ForceInit     bool
	ChunkSize     int
}

// Main applies the update package to the device.
func Main(opts ApplyOpts) error {
	if len(opts.UpdateFile) == 0 {
		return errors.New("must specify update_file")
	}
	if len(opts.DeviceStorage) == 0 {
		return errors.New("must specify device_storage")
	}
	if opts.ChunkSize <= 0 {
		return fmt.Errorf("invalid chunk_size %d", opts.ChunkSize)
	}

	dev, err := dummy.New(opts.DeviceStorage)
	if err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}
	defer dev.Close()

	mgr := bootcfg.NewManager(bootcfg.NewFlashStore(dev))
	if _, err := mgr.Current(); err != nil {
		if !errors.Is(err, bootcfg.ErrNotInitialized) {
			return fmt.Errorf("failed to load boot config: %w", err)
		}
		if !opts.ForceInit {
			return fmt.Errorf("device needs to be initialised, re-run with --force_init: %w", err)
		}
		glog.Warningf("Seeding default boot configuration")
		if err := bootcfg.NewFlashStore(dev).Save(bootcfg.Config{}); err != nil {
			return fmt.Errorf("failed to seed boot config: %w", err)
		}
	}

	zr, err := zip.OpenReader(opts.UpdateFile)
	if err != nil {
		return fmt.Errorf("failed to open update package %q: %w", opts.UpdateFile, err)
	}
	defer zr.Close()

	manifest, err := readManifest(&zr.Reader)
	if err != nil {
		return err
	}
	glog.Infof("Applying %s", manifest)

	eng := update.New(dev, mgr)
	if err := eng.Begin(&manifest.Parts); err != nil {
		return fmt.Errorf("%s: %w", eng.Status(), err)
	}

	for _, entry := range zr.File {
		if err := streamEntry(eng, entry, opts.ChunkSize); err != nil {
			if s := eng.Status(); len(s) > 0 {
				return fmt.Errorf("%s: %w", s, err)
			}
			return err
		}
	}

	if err := eng.Finalize(); err != nil {
		return fmt.Errorf("%s: %w", eng.Status(), err)
	}
	glog.Info("Update applied, reboot to first-boot the new slot")
	return nil
}

func readManifest(zr *zip.Reader) (*api.Manifest, error) {
	for _, entry := range zr.File {
		if entry.Name != api.ManifestFileName {
			continue
		}
		f, err := entry.Open()
		if err != nil {
			return nil, fmt.Errorf("failed to open %s: %w", entry.Name, err)
		}
		defer f.Close()
		raw, err := io.ReadAll(f)
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", entry.Name, err)
		}
		return api.ParseManifest(raw)
	}
	return nil, fmt.Errorf("update package has no %s", api.ManifestFileName)
}

// streamEntry feeds one package entry through the engine. Bytes the engine
// does not consume stay pending and are resubmitted together with the next
// read, which satisfies both the minimum-block deferral and the unaligned
// tail contract.
func streamEntry(eng *update.Update, entry *zip.File, chunkSize int) error {
	size := uint32(entry.UncompressedSize64)
	action, err := eng.FileBegin(entry.Name, size)
	if err != nil {
		return fmt.Errorf("failed to begin %q: %w", entry.Name, err)
	}
	if action == update.ActionSkip {
		glog.V(1).Infof("Skipping entry %q", entry.Name)
		return nil
	}
	if action != update.ActionProcess {
		return fmt.Errorf("aborted at %q", entry.Name)
	}

	r, err := entry.Open()
	if err != nil {
		return fmt.Errorf("failed to open %q: %w", entry.Name, err)
	}
	defer r.Close()

	var (
		pending   []byte
		processed uint32
		buf       = make([]byte, chunkSize)
		eof       bool
	)
	for {
		if !eof {
			n, rerr := r.Read(buf)
			pending = append(pending, buf[:n]...)
			if rerr == io.EOF {
				eof = true
			} else if rerr != nil {
				return fmt.Errorf("failed to read %q: %w", entry.Name, rerr)
			}
		}
		if len(pending) == 0 {
			if eof {
				break
			}
			continue
		}

		n, err := eng.FileData(entry.Name, processed, pending)
		if err != nil {
			return fmt.Errorf("failed to write %q: %w", entry.Name, err)
		}
		processed += uint32(n)
		pending = pending[n:]
		if n == 0 && eof {
			return fmt.Errorf("engine made no progress on %q with %d bytes pending", entry.Name, len(pending))
		}
	}

	if err := eng.FileEnd(entry.Name, pending); err != nil {
		return fmt.Errorf("failed to finish %q: %w", entry.Name, err)
	}
	glog.Infof("Wrote %q (%d bytes)", entry.Name, processed)
	return nil
}
