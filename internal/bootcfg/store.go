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

package bootcfg

import (
	"encoding/binary"
	"encoding/json"
	"fmt"

	"github.com/larkspur-iot/ota/internal/flash"
)

// Layout of the boot configuration sector: a 4 byte magic, a little-endian
// uint32 payload length, then the JSON payload padded with 0xFF up to the
// flash write granularity.
const (
	storeMagic = "OBC1"
	headerLen  = 8
	maxPayload = flash.SectorSize - headerLen
)

// FlashStore persists Config in the dedicated boot configuration sector.
type FlashStore struct {
	dev flash.Device
}

var _ Store = &FlashStore{}

// NewFlashStore returns a store over dev's boot configuration sector.
func NewFlashStore(dev flash.Device) *FlashStore {
	return &FlashStore{dev: dev}
}

// Load reads and decodes the stored configuration. A sector without the
// store magic (e.g. blank flash) yields ErrNotInitialized.
func (s *FlashStore) Load() (Config, error) {
	hdr := make([]byte, headerLen)
	if err := s.dev.Read(flash.BootConfigAddr, hdr); err != nil {
		return Config{}, fmt.Errorf("failed to read boot config header: %w", err)
	}
	if string(hdr[:4]) != storeMagic {
		return Config{}, ErrNotInitialized
	}
	n := binary.LittleEndian.Uint32(hdr[4:])
	if n == 0 || n > maxPayload {
		return Config{}, fmt.Errorf("boot config length %d out of range", n)
	}
	payload := make([]byte, n)
	if err := s.dev.Read(flash.BootConfigAddr+headerLen, payload); err != nil {
		return Config{}, fmt.Errorf("failed to read boot config payload: %w", err)
	}
	var cfg Config
	if err := json.Unmarshal(payload, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse boot config: %w", err)
	}
	// Slot indices feed straight into array lookups downstream, so a
	// corrupt-but-parseable config must be rejected here.
	if cfg.CurrentSlot != 0 && cfg.CurrentSlot != 1 {
		return Config{}, fmt.Errorf("boot config current_slot %d out of range", cfg.CurrentSlot)
	}
	if cfg.PreviousSlot != 0 && cfg.PreviousSlot != 1 {
		return Config{}, fmt.Errorf("boot config previous_slot %d out of range", cfg.PreviousSlot)
	}
	return cfg, nil
}

// Save encodes cfg and rewrites the boot configuration sector as a single
// erase-then-program cycle.
func (s *FlashStore) Save(cfg Config) error {
	payload, err := json.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to encode boot config: %w", err)
	}
	if len(payload) > maxPayload {
		return fmt.Errorf("boot config payload %d exceeds sector", len(payload))
	}

	buf := make([]byte, headerLen+len(payload))
	copy(buf, storeMagic)
	binary.LittleEndian.PutUint32(buf[4:], uint32(len(payload)))
	copy(buf[headerLen:], payload)
	for len(buf)%flash.WriteAlign != 0 {
		buf = append(buf, 0xFF)
	}

	if err := s.dev.EraseSector(flash.BootConfigAddr / flash.SectorSize); err != nil {
		return fmt.Errorf("failed to erase boot config sector: %w", err)
	}
	if err := s.dev.Write(flash.BootConfigAddr, buf); err != nil {
		return fmt.Errorf("failed to write boot config: %w", err)
	}
	return nil
}
