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
	"io"
)

// Region adapts a fixed range of a flash device to io.ReadSeeker, so that
// filesystem images stored in a slot can be handed to code expecting a
// stream (e.g. an ext4 reader).
type Region struct {
	dev  Device
	base uint32
	size uint32
	off  int64
}

var _ io.ReadSeeker = &Region{}

// NewRegion returns a reader over [addr, addr+size) of dev.
func NewRegion(dev Device, addr, size uint32) *Region {
	return &Region{dev: dev, base: addr, size: size}
}

func (r *Region) Read(p []byte) (int, error) {
	if r.off >= int64(r.size) {
		return 0, io.EOF
	}
	if rem := int64(r.size) - r.off; int64(len(p)) > rem {
		p = p[:rem]
	}
	if err := r.dev.Read(r.base+uint32(r.off), p); err != nil {
		return 0, fmt.Errorf("flash read @%#x: %w", r.base+uint32(r.off), err)
	}
	r.off += int64(len(p))
	return len(p), nil
}

func (r *Region) Seek(offset int64, whence int) (int64, error) {
	var abs int64
	switch whence {
	case io.SeekStart:
		abs = offset
	case io.SeekCurrent:
		abs = r.off + offset
	case io.SeekEnd:
		abs = int64(r.size) + offset
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 || abs > int64(r.size) {
		return 0, fmt.Errorf("invalid offset %d", abs)
	}
	r.off = abs
	return abs, nil
}
