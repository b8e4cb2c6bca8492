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

package flash

import (
	"fmt"

	"github.com/golang/glog"
)

// Session is the write session for a single part. It owns the two cursors of
// the part's lifetime: the next write address and the erase high-water mark.
// Both advance monotonically and only through EnsureErased and Write.
type Session struct {
	dev Device

	next       uint32
	erasedTill uint32
	// end is the part's declared end address. Block erases never reach
	// beyond it, so flash belonging to a neighbouring part is left alone.
	end uint32
}

// NewSession starts a write session for a part at base with the given
// declared size.
func NewSession(dev Device, base, size uint32) *Session {
	return &Session{
		dev:        dev,
		next:       base,
		erasedTill: base,
		end:        base + size,
	}
}

// Pos returns the next address to receive bytes.
func (s *Session) Pos() uint32 {
	return s.next
}

// EnsureErased extends the erased region until it covers n bytes beyond the
// write cursor. A whole block is erased only when the erase cursor is
// block-aligned and the part still spans at least a full block; otherwise a
// single sector is erased.
func (s *Session) EnsureErased(n uint32) error {
	for s.next+n > s.erasedTill {
		if s.erasedTill%BlockSize == 0 && s.end >= s.erasedTill+BlockSize {
			block := s.erasedTill / BlockSize
			glog.V(1).Infof("Erasing block %#x", block)
			if err := s.dev.EraseBlock(block); err != nil {
				return fmt.Errorf("failed to erase flash block %#x: %w", block, err)
			}
			s.erasedTill = (block + 1) * BlockSize
		} else {
			sector := s.erasedTill / SectorSize
			glog.V(1).Infof("Erasing sector %#x", sector)
			if err := s.dev.EraseSector(sector); err != nil {
				return fmt.Errorf("failed to erase flash sector %#x: %w", sector, err)
			}
			s.erasedTill = (sector + 1) * SectorSize
		}
	}
	return nil
}

// Write programs p at the write cursor and advances it. len(p) must be a
// multiple of WriteAlign; tail handling is the caller's job.
func (s *Session) Write(p []byte) error {
	if len(p)%WriteAlign != 0 {
		return ErrUnaligned
	}
	glog.V(1).Infof("Writing %d bytes @%#x", len(p), s.next)
	if err := s.dev.Write(s.next, p); err != nil {
		return fmt.Errorf("failed to write %d bytes @%#x: %w", len(p), s.next, err)
	}
	s.next += uint32(len(p))
	return nil
}
