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

// Package flash_test holds blackbox tests for the flash package.
package flash_test

import (
	"bytes"
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/larkspur-iot/ota/internal/flash"
)

type op struct {
	Kind  string // "sector", "block" or "write"
	Index uint32 // erase index, or write address
	N     int    // write length
}

// fakeDevice records the driver calls a session makes.
type fakeDevice struct {
	mem      []byte
	ops      []op
	eraseErr error
	writeErr error
}

func newFakeDevice() *fakeDevice {
	mem := make([]byte, flash.DeviceSize)
	for i := range mem {
		mem[i] = 0xFF
	}
	return &fakeDevice{mem: mem}
}

func (d *fakeDevice) Read(addr uint32, p []byte) error {
	copy(p, d.mem[addr:])
	return nil
}

func (d *fakeDevice) Write(addr uint32, p []byte) error {
	if d.writeErr != nil {
		return d.writeErr
	}
	d.ops = append(d.ops, op{Kind: "write", Index: addr, N: len(p)})
	copy(d.mem[addr:], p)
	return nil
}

func (d *fakeDevice) EraseSector(sector uint32) error {
	if d.eraseErr != nil {
		return d.eraseErr
	}
	d.ops = append(d.ops, op{Kind: "sector", Index: sector})
	return nil
}

func (d *fakeDevice) EraseBlock(block uint32) error {
	if d.eraseErr != nil {
		return d.eraseErr
	}
	d.ops = append(d.ops, op{Kind: "block", Index: block})
	return nil
}

func TestEnsureErased(t *testing.T) {
	for _, test := range []struct {
		desc string
		base uint32
		size uint32
		// ns is the sequence of EnsureErased arguments.
		ns      []uint32
		wantOps []op
	}{
		{
			desc:    "small part, one sector",
			base:    flash.SlotSize,
			size:    1000,
			ns:      []uint32{600, 400},
			wantOps: []op{{Kind: "sector", Index: flash.SlotSize / flash.SectorSize}},
		}, {
			desc: "part crossing a sector boundary",
			base: flash.SlotSize,
			size: 0x2000,
			ns:   []uint32{0x1400},
			wantOps: []op{
				{Kind: "sector", Index: flash.SlotSize / flash.SectorSize},
				{Kind: "sector", Index: flash.SlotSize/flash.SectorSize + 1},
			},
		}, {
			desc:    "block-sized part uses block erase",
			base:    flash.SlotSize,
			size:    2 * flash.BlockSize,
			ns:      []uint32{1},
			wantOps: []op{{Kind: "block", Index: flash.SlotSize / flash.BlockSize}},
		}, {
			desc: "block erase never reaches past the part",
			base: flash.SlotSize,
			size: flash.BlockSize + flash.SectorSize,
			ns:   []uint32{flash.BlockSize + flash.SectorSize},
			wantOps: []op{
				{Kind: "block", Index: flash.SlotSize / flash.BlockSize},
				{Kind: "sector", Index: (flash.SlotSize + flash.BlockSize) / flash.SectorSize},
			},
		}, {
			desc:    "unaligned part base falls back to sectors",
			base:    flash.SlotSize + 0x2000,
			size:    0x1000,
			ns:      []uint32{0x1000},
			wantOps: []op{{Kind: "sector", Index: (flash.SlotSize + 0x2000) / flash.SectorSize}},
		}, {
			desc:    "already erased region is left alone",
			base:    flash.SlotSize,
			size:    1000,
			ns:      []uint32{1000, 1000, 500},
			wantOps: []op{{Kind: "sector", Index: flash.SlotSize / flash.SectorSize}},
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			dev := newFakeDevice()
			s := flash.NewSession(dev, test.base, test.size)
			for _, n := range test.ns {
				if err := s.EnsureErased(n); err != nil {
					t.Fatalf("EnsureErased(%d): %v", n, err)
				}
			}
			if diff := cmp.Diff(test.wantOps, dev.ops); diff != "" {
				t.Fatalf("erase ops diff (-want +got):\n%s", diff)
			}
		})
	}
}

func TestEnsureErasedFailureIsFatal(t *testing.T) {
	dev := newFakeDevice()
	dev.eraseErr = fmt.Errorf("worn out")
	s := flash.NewSession(dev, flash.SlotSize, 1000)
	if err := s.EnsureErased(100); err == nil {
		t.Fatal("expected erase failure to surface")
	}
}

func TestWrite(t *testing.T) {
	dev := newFakeDevice()
	s := flash.NewSession(dev, flash.SlotSize, 1000)
	if err := s.EnsureErased(1000); err != nil {
		t.Fatalf("EnsureErased: %v", err)
	}

	first := bytes.Repeat([]byte{0xA5}, 600)
	second := bytes.Repeat([]byte{0x5A}, 400)
	if err := s.Write(first); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if got, want := s.Pos(), uint32(flash.SlotSize+600); got != want {
		t.Fatalf("Pos() = %#x, want %#x", got, want)
	}
	if err := s.Write(second); err != nil {
		t.Fatalf("Write: %v", err)
	}

	if got := dev.mem[flash.SlotSize : flash.SlotSize+1000]; !bytes.Equal(got, append(first, second...)) {
		t.Fatal("flash content does not match written data")
	}
}

func TestWriteUnaligned(t *testing.T) {
	dev := newFakeDevice()
	s := flash.NewSession(dev, flash.SlotSize, 1000)
	if err := s.Write(make([]byte, 7)); !errors.Is(err, flash.ErrUnaligned) {
		t.Fatalf("Write(7 bytes) = %v, want ErrUnaligned", err)
	}
}

func TestWriteFailureIsFatal(t *testing.T) {
	dev := newFakeDevice()
	dev.writeErr = fmt.Errorf("bus error")
	s := flash.NewSession(dev, flash.SlotSize, 1000)
	if err := s.Write(make([]byte, 8)); err == nil {
		t.Fatal("expected write failure to surface")
	}
}
