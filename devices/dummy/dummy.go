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

// Package dummy provides a fake flash device backed by the local
// filesystem, for exercising the update engine without hardware.
package dummy

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/larkspur-iot/ota/internal/flash"
)

const flashPath = "flash.bin"

// Device emulates NOR flash in a file: erases set the region to 0xFF and
// programming can only clear bits, so writing unerased flash corrupts data
// just like the real thing.
type Device struct {
	f *os.File
}

var _ flash.Device = &Device{}

// New opens the emulated device stored in the given directory. A missing
// flash image is created blank (all 0xFF).
func New(storage string) (*Device, error) {
	dStat, err := os.Stat(storage)
	if err != nil {
		return nil, fmt.Errorf("unable to stat device storage dir %q: %w", storage, err)
	}
	if !dStat.Mode().IsDir() {
		return nil, fmt.Errorf("device storage %q is not a directory", storage)
	}

	fPath := filepath.Join(storage, flashPath)
	f, err := os.OpenFile(fPath, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open flash image %q: %w", fPath, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	if st.Size() != flash.DeviceSize {
		blank := make([]byte, flash.DeviceSize)
		for i := range blank {
			blank[i] = 0xFF
		}
		if _, err := f.WriteAt(blank, 0); err != nil {
			f.Close()
			return nil, fmt.Errorf("failed to initialise flash image %q: %w", fPath, err)
		}
		if err := f.Truncate(flash.DeviceSize); err != nil {
			f.Close()
			return nil, err
		}
	}
	return &Device{f: f}, nil
}

// Close releases the backing file.
func (d *Device) Close() error {
	return d.f.Close()
}

func (d *Device) checkRange(addr uint32, n int) error {
	if int64(addr)+int64(n) > flash.DeviceSize {
		return fmt.Errorf("range %d@%#x beyond end of flash", n, addr)
	}
	return nil
}

// Read fills p from flash at addr.
func (d *Device) Read(addr uint32, p []byte) error {
	if err := d.checkRange(addr, len(p)); err != nil {
		return err
	}
	_, err := d.f.ReadAt(p, int64(addr))
	return err
}

// Write programs p at addr. Both addr and len(p) must be word-aligned, and
// only erased (0xFF) bits can be set to their target value; programming is
// a bitwise AND with the existing content.
func (d *Device) Write(addr uint32, p []byte) error {
	if addr%flash.WriteAlign != 0 || len(p)%flash.WriteAlign != 0 {
		return fmt.Errorf("write %d@%#x: %w", len(p), addr, flash.ErrUnaligned)
	}
	if err := d.checkRange(addr, len(p)); err != nil {
		return err
	}
	cur := make([]byte, len(p))
	if _, err := d.f.ReadAt(cur, int64(addr)); err != nil {
		return err
	}
	for i := range cur {
		cur[i] &= p[i]
	}
	_, err := d.f.WriteAt(cur, int64(addr))
	return err
}

func (d *Device) erase(addr uint32, n int) error {
	if err := d.checkRange(addr, n); err != nil {
		return err
	}
	blank := make([]byte, n)
	for i := range blank {
		blank[i] = 0xFF
	}
	_, err := d.f.WriteAt(blank, int64(addr))
	return err
}

// EraseSector resets one sector to 0xFF.
func (d *Device) EraseSector(sector uint32) error {
	return d.erase(sector*flash.SectorSize, flash.SectorSize)
}

// EraseBlock resets one block to 0xFF.
func (d *Device) EraseBlock(block uint32) error {
	return d.erase(block*flash.BlockSize, flash.BlockSize)
}
