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

// Package update implements the over-the-air update engine: it interprets a
// package manifest, routes streamed payload files into the inactive flash
// slot and finalizes the boot configuration switch.
package update

import (
	"errors"
	"fmt"

	"github.com/golang/glog"
	"github.com/google/uuid"

	"github.com/larkspur-iot/ota/api"
	"github.com/larkspur-iot/ota/internal/bootcfg"
	"github.com/larkspur-iot/ota/internal/flash"
	"github.com/larkspur-iot/ota/internal/verify"
)

// MinBlockSize is the smallest chunk the engine will process while more
// than this many bytes of the file remain. Smaller chunks are deferred so
// erases and writes stay reasonably sized.
const MinBlockSize = 2048

// Action tells the transport what to do with an incoming package entry.
type Action int

const (
	// ActionProcess: stream the entry's bytes through FileData.
	ActionProcess Action = iota
	// ActionSkip: discard the entry's bytes without buffering them.
	ActionSkip
	// ActionAbort: the update attempt has failed.
	ActionAbort
)

func (a Action) String() string {
	switch a {
	case ActionProcess:
		return "process"
	case ActionSkip:
		return "skip"
	case ActionAbort:
		return "abort"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

type fileInfo struct {
	digest api.Digest
	name   string
	size   uint32
}

type partInfo struct {
	addr uint32
	size uint32
	done bool
	fi   fileInfo
}

// Update is the state of one update attempt. It is exclusively owned by a
// single update session, never persisted, and must not be shared between
// goroutines.
type Update struct {
	id   string
	dev  flash.Device
	boot *bootcfg.Manager
	feed func()

	fw    partInfo
	fs    partInfo
	fsDir partInfo
	// fsDirPresent records whether the manifest declared the optional
	// filesystem-directory part at all.
	fsDirPresent bool

	slotToWrite int
	cur         *partInfo
	sess        *flash.Session
	status      string
}

// New creates the state for one update attempt against dev. The attempt is
// tagged with a fresh ID for log correlation.
func New(dev flash.Device, boot *bootcfg.Manager, opts ...Option) *Update {
	u := &Update{
		id:   uuid.NewString(),
		dev:  dev,
		boot: boot,
	}
	for _, opt := range opts {
		opt(u)
	}
	return u
}

// ID returns the attempt's log-correlation tag.
func (u *Update) ID() string {
	return u.id
}

// Status returns the last human-readable failure reason, if any.
func (u *Update) Status() string {
	return u.status
}

// SlotToWrite returns the inactive slot index selected by Begin.
func (u *Update) SlotToWrite() int {
	return u.slotToWrite
}

func (u *Update) fail(status string, err error) error {
	u.status = status
	return err
}

// Begin interprets the manifest's part descriptors. The firmware and
// filesystem parts are mandatory; the filesystem-directory part is optional
// and only ever consulted at finalize. Manifest addresses are
// slot-relative and are converted to absolute addresses in the slot not
// currently executing.
func (u *Update) Begin(parts *api.Parts) error {
	cfg, err := u.boot.Current()
	if err != nil {
		return u.fail("Failed to load boot config", fmt.Errorf("failed to load boot config: %w", err))
	}

	if cfg.CurrentSlot == 0 {
		u.slotToWrite = 1
	} else {
		u.slotToWrite = 0
	}
	glog.V(1).Infof("Update %s: slot to write: %d", u.id, u.slotToWrite)

	if parts.FW == nil {
		return u.fail("Firmware part is missing", errors.New("firmware part is missing"))
	}
	if err := u.fillPart(&u.fw, "fw", parts.FW); err != nil {
		return u.fail("Firmware part is missing", err)
	}

	if parts.FS == nil {
		return u.fail("FS part is missing", errors.New("FS part is missing"))
	}
	if err := u.fillPart(&u.fs, "fs", parts.FS); err != nil {
		return u.fail("FS part is missing", err)
	}

	if parts.FSDir != nil {
		if err := u.fillPart(&u.fsDir, "fs_dir", parts.FSDir); err != nil {
			return u.fail("FS dir part is invalid", err)
		}
		u.fsDirPresent = true
	}

	return nil
}

func (u *Update) fillPart(pi *partInfo, name string, spec *api.PartSpec) error {
	digest, err := api.ParseDigest(spec.SHA1)
	if err != nil {
		return fmt.Errorf("cs_sha1 of part %q: %w", name, err)
	}
	src, err := api.ParseFileName(spec.Src)
	if err != nil {
		return fmt.Errorf("src of part %q: %w", name, err)
	}

	// The manifest always carries slot-relative addresses.
	pi.addr = spec.Addr + uint32(u.slotToWrite)*flash.SlotSize
	pi.size = spec.Size
	pi.fi = fileInfo{digest: digest, name: src}

	glog.V(1).Infof("Part %s: addr: %#x sha1: %s src: %s", name, pi.addr, digest, src)
	return nil
}

// FileBegin starts delivery of one package entry. Entries which match
// neither the firmware nor the filesystem part's source name are skipped;
// so are parts already written, and parts whose destination flash already
// carries the expected digest (which makes a re-run of a partially failed
// update cheap).
func (u *Update) FileBegin(name string, size uint32) (Action, error) {
	glog.V(1).Infof("File %q (%d bytes)", name, size)
	var part *partInfo
	switch name {
	case u.fw.fi.name:
		part = &u.fw
	case u.fs.fi.name:
		part = &u.fs
	default:
		// Only the fw and fs payloads matter, the rest of the package
		// goes to /dev/null.
		return ActionSkip, nil
	}
	return u.prepareToWrite(part, name, size)
}

func (u *Update) prepareToWrite(part *partInfo, name string, size uint32) (Action, error) {
	if part.done {
		glog.V(1).Infof("Skipping %s, already done", name)
		return ActionSkip, nil
	}
	u.cur = part
	part.fi.size = size
	u.sess = flash.NewSession(u.dev, part.addr, size)

	// See if the current flash content is already the right one.
	if err := verify.Region(u.dev, part.addr, size, part.fi.digest, u.feed); err == nil {
		glog.Infof("Digest matched, skipping %s %d @%#x (%s)", name, size, part.addr, part.fi.digest)
		part.done = true
		u.cur = nil
		u.sess = nil
		return ActionSkip, nil
	} else if !errors.Is(err, verify.ErrMismatch) {
		// Unreadable flash is treated like stale content and rewritten.
		glog.V(1).Infof("Pre-write verification of %s failed: %v", name, err)
	}
	glog.Infof("Writing %s %d @%#x (%s)", name, size, part.addr, part.fi.digest)
	return ActionProcess, nil
}

// FileData consumes a chunk of the current entry's payload and returns how
// many bytes it took. A return of (0, nil) means the chunk is below the
// effective block size while plenty of the file remains: accumulate more
// bytes and call again with the larger chunk. A short count can also occur
// when an unaligned tail is not yet fully available; resubmit the remainder
// on the next call.
func (u *Update) FileData(name string, processed uint32, chunk []byte) (int, error) {
	if u.cur == nil {
		return 0, u.fail("Failed to update file", fmt.Errorf("no file in progress, got data for %q", name))
	}
	glog.V(1).Infof("File size: %d, received: %d, to_write: %d", u.cur.fi.size, processed, len(chunk))

	if uint32(len(chunk)) < MinBlockSize && u.cur.fi.size-processed > MinBlockSize {
		return 0, nil
	}

	if err := u.sess.EnsureErased(uint32(len(chunk))); err != nil {
		return 0, u.fail("Failed to erase flash", err)
	}

	// The write granularity is WriteAlign bytes: program the largest
	// aligned prefix first.
	consumed := 0
	aligned := len(chunk) &^ (flash.WriteAlign - 1)
	if aligned > 0 {
		if err := u.sess.Write(chunk[:aligned]); err != nil {
			return 0, u.fail("Failed to write to flash", err)
		}
		consumed = aligned
	}

	// Unaligned file sizes leave a 1-3 byte tail; once those final bytes
	// are in hand, pad them with 0xFF to a full word and program that.
	rest := u.cur.fi.size - processed - uint32(aligned)
	if rest > 0 && rest < flash.WriteAlign && uint32(len(chunk)-aligned) >= rest {
		pad := []byte{0xFF, 0xFF, 0xFF, 0xFF}
		copy(pad, chunk[aligned:aligned+int(rest)])
		if err := u.sess.Write(pad); err != nil {
			return 0, u.fail("Failed to write to flash", err)
		}
		consumed += int(rest)
	}

	return consumed, nil
}

// FileEnd completes delivery of the current entry. The data phase must have
// consumed the declared size exactly, so tail must be empty. The part is
// marked done only after the written region's digest checks out.
func (u *Update) FileEnd(name string, tail []byte) error {
	if len(tail) != 0 {
		return u.fail("Failed to update file", fmt.Errorf("%d trailing bytes at end of %q", len(tail), name))
	}
	if u.cur == nil {
		return u.fail("Failed to update file", fmt.Errorf("no file in progress, got end of %q", name))
	}
	if err := verify.Region(u.dev, u.cur.addr, u.cur.fi.size, u.cur.fi.digest, u.feed); err != nil {
		if errors.Is(err, verify.ErrMismatch) {
			return u.fail("Invalid checksum", fmt.Errorf("invalid checksum for %q", name))
		}
		return u.fail("Failed to update file", err)
	}
	u.cur.done = true
	u.cur = nil
	u.sess = nil
	return nil
}

// Finalize asks the boot configuration manager to switch slots. The
// firmware part must be written; filesystem completion is satisfied by
// either the filesystem part or the optional filesystem-directory part.
func (u *Update) Finalize() error {
	if !u.fw.done {
		return u.fail("Missing fw part", errors.New("missing fw part"))
	}
	if !u.fs.done && !u.fsDir.done {
		return u.fail("Missing fs part", errors.New("missing fs part"))
	}

	err := u.boot.Finalize(u.slotToWrite,
		bootcfg.Image{Addr: u.fw.addr, Size: u.fw.fi.size},
		bootcfg.Image{Addr: u.fs.addr, Size: u.fs.fi.size})
	if err != nil {
		return u.fail("Failed to finalize update", err)
	}
	glog.Infof("Update %s finalized into slot %d", u.id, u.slotToWrite)
	return nil
}
