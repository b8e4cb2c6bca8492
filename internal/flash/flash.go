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

// Package flash holds the raw flash driver contract and the erase-aligned
// write session used while streaming an update part into a slot.
package flash

import "errors"

// Platform geometry. Sector and block are the two erase granularities the
// hardware offers; writes must be multiples of WriteAlign.
const (
	SectorSize = 0x1000
	BlockSize  = 0x10000
	WriteAlign = 4

	// SlotSize is the per-slot stride: slot n occupies [n*SlotSize, (n+1)*SlotSize).
	SlotSize = 0x100000

	// BootConfigAddr is the dedicated boot configuration sector, outside
	// both firmware slots.
	BootConfigAddr = 2 * SlotSize

	// DeviceSize is the full addressable range: two slots plus the boot
	// configuration sector.
	DeviceSize = BootConfigAddr + SectorSize
)

// ErrUnaligned indicates a write whose length is not a multiple of
// WriteAlign. This is a programming-contract violation, not an I/O failure.
var ErrUnaligned = errors.New("write length not a multiple of the flash write granularity")

// Device is a raw flash driver. Erase operations address whole sectors or
// blocks by index; Write requires the destination range to have been erased
// and len(p) to be a multiple of WriteAlign.
type Device interface {
	Read(addr uint32, p []byte) error
	Write(addr uint32, p []byte) error
	EraseSector(sector uint32) error
	EraseBlock(block uint32) error
}
