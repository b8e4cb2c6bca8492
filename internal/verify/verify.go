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

// Package verify checks the content digest of a flash address range.
package verify

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"

	"github.com/golang/glog"

	"github.com/larkspur-iot/ota/api"
	"github.com/larkspur-iot/ota/internal/flash"
)

// readChunk bounds the per-iteration read so memory use stays flat no
// matter how large the scanned range is.
const readChunk = 400

// ErrMismatch indicates the range was read successfully but its digest does
// not match the expected one.
var ErrMismatch = errors.New("digest mismatch")

// Region streams [addr, addr+length) of dev through SHA-1 and compares the
// result against want, case-insensitively. feed, when non-nil, is invoked
// between chunks; firmware images run to hundreds of KB and the watchdog
// must stay serviced throughout the scan.
//
// A nil return means the digests match. ErrMismatch and read failures are
// distinguishable via errors.Is.
func Region(dev flash.Device, addr, length uint32, want api.Digest, feed func()) error {
	h := sha1.New()
	buf := make([]byte, readChunk)

	for off := addr; off < addr+length; {
		n := addr + length - off
		if n > readChunk {
			n = readChunk
		}
		if err := dev.Read(off, buf[:n]); err != nil {
			return fmt.Errorf("failed to read %d bytes @%#x: %w", n, off, err)
		}
		h.Write(buf[:n])
		off += n

		if feed != nil {
			feed()
		}
	}

	got := hex.EncodeToString(h.Sum(nil))
	glog.V(1).Infof("SHA1 %d @%#x = %s, want %s", length, addr, got, want)
	if !want.Equal(got) {
		return ErrMismatch
	}
	return nil
}
