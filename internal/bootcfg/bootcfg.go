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

// Package bootcfg owns the persistent dual-slot boot descriptor and the
// crash-safe finalize/commit/revert transitions over it.
package bootcfg

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
)

// MaxBootAttempts is the number of first-boot attempts allowed before the
// device gives up on a newly applied update and reverts.
const MaxBootAttempts = 3

// ErrNotInitialized indicates the boot configuration region holds no valid
// configuration and must be seeded before use.
var ErrNotInitialized = errors.New("boot config not initialised")

// Slot describes one bootable slot's images.
type Slot struct {
	ImageAddr uint32 `json:"image_addr"`
	ImageSize uint32 `json:"image_size"`
	FSAddr    uint32 `json:"fs_addr"`
	FSSize    uint32 `json:"fs_size"`
}

// Config is the persistent boot configuration. Exactly one of CurrentSlot /
// PreviousSlot is the slot actively executing; finalize swaps them, never
// advances both.
type Config struct {
	CurrentSlot  int     `json:"current_slot"`
	PreviousSlot int     `json:"previous_slot"`
	Slots        [2]Slot `json:"slots"`

	FirstBoot     bool `json:"is_first_boot"`
	UpdateApplied bool `json:"update_applied"`
	UserPending   bool `json:"pending_user_flag"`
	BootAttempts  int  `json:"boot_attempts"`
}

// Store persists boot configuration in a fixed, platform-defined location.
type Store interface {
	// Load returns the stored configuration, or ErrNotInitialized when the
	// backing region holds none.
	Load() (Config, error)
	Save(Config) error
}

// Image is the placement of a written part, as recorded into the slot
// descriptor at finalize.
type Image struct {
	Addr uint32
	Size uint32
}

// Manager drives the boot configuration state machine. Every operation
// loads a fresh snapshot, mutates it in memory and persists it as a single
// write before returning, so a reset can never observe a half-applied
// transition.
type Manager struct {
	store Store
}

// NewManager returns a Manager over the given store.
func NewManager(store Store) *Manager {
	return &Manager{store: store}
}

// Current returns the stored configuration.
func (m *Manager) Current() (Config, error) {
	return m.store.Load()
}

// Finalize records a completed update. When slotToWrite differs from the
// active slot it performs the slot switch: the new slot's image placements
// are taken from fw and fs, the first-boot machinery is armed and the boot
// attempt counter reset. When slotToWrite degenerates to the active slot
// only the pending-user flag is raised.
func (m *Manager) Finalize(slotToWrite int, fw, fs Image) error {
	if slotToWrite != 0 && slotToWrite != 1 {
		return fmt.Errorf("invalid slot index %d", slotToWrite)
	}
	cfg, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load boot config: %w", err)
	}

	if slotToWrite == cfg.CurrentSlot {
		glog.Infof("Update rewrote the active slot %d, no slot switch", cfg.CurrentSlot)
		cfg.UserPending = true
		return m.save(cfg)
	}

	cfg.PreviousSlot = cfg.CurrentSlot
	cfg.CurrentSlot = slotToWrite
	cfg.Slots[slotToWrite] = Slot{
		ImageAddr: fw.Addr,
		ImageSize: fw.Size,
		FSAddr:    fs.Addr,
		FSSize:    fs.Size,
	}
	cfg.FirstBoot = true
	cfg.UpdateApplied = true
	cfg.UserPending = true
	cfg.BootAttempts = 0

	glog.Infof("New boot config: prev_slot: %d, current_slot: %d, image: %d@%#x, fs: %d@%#x",
		cfg.PreviousSlot, cfg.CurrentSlot, fw.Size, fw.Addr, fs.Size, fs.Addr)
	return m.save(cfg)
}

// Commit makes the currently executing slot permanent after a healthy first
// boot. A no-op when no update is pending.
func (m *Manager) Commit() error {
	cfg, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load boot config: %w", err)
	}
	if !cfg.UpdateApplied {
		return nil
	}
	glog.Infof("Committing slot %d", cfg.CurrentSlot)
	cfg.UpdateApplied = false
	cfg.FirstBoot = false
	return m.save(cfg)
}

// Revert falls back to the last-known-good slot after a failed first boot.
// A no-op when no update is pending.
func (m *Manager) Revert() error {
	cfg, err := m.store.Load()
	if err != nil {
		return fmt.Errorf("failed to load boot config: %w", err)
	}
	if !cfg.UpdateApplied {
		return nil
	}
	glog.Infof("Update failed, reverting to slot %d", cfg.PreviousSlot)
	cfg.CurrentSlot = cfg.PreviousSlot
	cfg.UpdateApplied = false
	cfg.FirstBoot = false
	return m.save(cfg)
}

// MarkBootAttempt records one first-boot attempt and returns the running
// count, persisted before return so a crash mid-boot still consumes an
// attempt.
func (m *Manager) MarkBootAttempt() (int, error) {
	cfg, err := m.store.Load()
	if err != nil {
		return 0, fmt.Errorf("failed to load boot config: %w", err)
	}
	cfg.BootAttempts++
	if err := m.save(cfg); err != nil {
		return 0, err
	}
	return cfg.BootAttempts, nil
}

func (m *Manager) save(cfg Config) error {
	if err := m.store.Save(cfg); err != nil {
		return fmt.Errorf("failed to save boot config: %w", err)
	}
	return nil
}
