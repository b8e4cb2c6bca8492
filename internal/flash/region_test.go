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

package flash_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/larkspur-iot/ota/internal/flash"
)

func TestRegionRead(t *testing.T) {
	dev := newFakeDevice()
	for i := 0; i < 16; i++ {
		dev.mem[flash.SlotSize+i] = byte(i)
	}

	r := flash.NewRegion(dev, flash.SlotSize, 16)
	got, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	want := []byte{0, 1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15}
	if !bytes.Equal(got, want) {
		t.Fatalf("ReadAll = %v, want %v", got, want)
	}

	// A second read hits EOF straight away.
	if n, err := r.Read(make([]byte, 4)); n != 0 || err != io.EOF {
		t.Fatalf("Read at end = (%d, %v), want (0, EOF)", n, err)
	}
}

func TestRegionSeek(t *testing.T) {
	dev := newFakeDevice()
	for i := 0; i < 16; i++ {
		dev.mem[flash.SlotSize+i] = byte(i)
	}
	r := flash.NewRegion(dev, flash.SlotSize, 16)

	for _, test := range []struct {
		desc    string
		off     int64
		whence  int
		want    int64
		wantErr bool
	}{
		{desc: "start", off: 4, whence: io.SeekStart, want: 4},
		{desc: "current", off: 2, whence: io.SeekCurrent, want: 6},
		{desc: "end", off: -1, whence: io.SeekEnd, want: 15},
		{desc: "before start", off: -1, whence: io.SeekStart, wantErr: true},
		{desc: "past end", off: 17, whence: io.SeekStart, wantErr: true},
		{desc: "bad whence", off: 0, whence: 42, wantErr: true},
	} {
		t.Run(test.desc, func(t *testing.T) {
			got, err := r.Seek(test.off, test.whence)
			if (err != nil) != test.wantErr {
				t.Fatalf("Seek(%d, %d): want err %v, got %v", test.off, test.whence, test.wantErr, err)
			}
			if err == nil && got != test.want {
				t.Fatalf("Seek(%d, %d) = %d, want %d", test.off, test.whence, got, test.want)
			}
		})
	}

	// The cursor sits at 15 after the table, so one byte remains.
	b := make([]byte, 4)
	n, err := r.Read(b)
	if err != nil || n != 1 || b[0] != 15 {
		t.Fatalf("Read after seek = (%d, %v, %v)", n, err, b[:n])
	}
}
