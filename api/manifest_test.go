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

// Package api_test holds blackbox tests for the api package.
package api_test

import (
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/larkspur-iot/ota/api"
)

func TestParseDigest(t *testing.T) {
	for _, test := range []struct {
		desc    string
		in      string
		wantErr bool
	}{
		{
			desc: "valid lowercase",
			in:   strings.Repeat("da39a3ee", 5),
		}, {
			desc: "valid mixed case",
			in:   strings.Repeat("DA39a3EE", 5),
		}, {
			desc:    "too short",
			in:      "da39a3ee",
			wantErr: true,
		}, {
			desc:    "too long",
			in:      strings.Repeat("da39a3ee", 5) + "00",
			wantErr: true,
		}, {
			desc:    "non-hex",
			in:      strings.Repeat("da39a3ee", 4) + "zzzzzzzz",
			wantErr: true,
		}, {
			desc:    "empty",
			wantErr: true,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			d, err := api.ParseDigest(test.in)
			if gotErr := err != nil; gotErr != test.wantErr {
				t.Fatalf("ParseDigest(%q): want err %v, got %v", test.in, test.wantErr, err)
			}
			if err == nil && !d.Equal(strings.ToUpper(test.in)) {
				t.Errorf("digest %q does not match its own uppercase form", d)
			}
		})
	}
}

func TestParseFileName(t *testing.T) {
	for _, test := range []struct {
		desc    string
		in      string
		wantErr bool
	}{
		{
			desc: "ok",
			in:   "fw.bin",
		}, {
			desc: "longest allowed",
			in:   strings.Repeat("a", api.MaxFileNameLen-1),
		}, {
			desc:    "too long",
			in:      strings.Repeat("a", api.MaxFileNameLen),
			wantErr: true,
		}, {
			desc:    "empty",
			wantErr: true,
		},
	} {
		t.Run(test.desc, func(t *testing.T) {
			if _, err := api.ParseFileName(test.in); (err != nil) != test.wantErr {
				t.Fatalf("ParseFileName(%q): want err %v, got %v", test.in, test.wantErr, err)
			}
		})
	}
}

func TestParseManifest(t *testing.T) {
	raw := []byte(`{
		"name": "sensor-hub",
		"platform": "esp8266",
		"version": "2.3.1",
		"parts": {
			"fw": {"addr": 8192, "cs_sha1": "` + strings.Repeat("ab", 20) + `", "src": "fw.bin", "size": 1000},
			"fs": {"addr": 262144, "cs_sha1": "` + strings.Repeat("cd", 20) + `", "src": "fs.bin", "size": 500}
		}
	}`)
	m, err := api.ParseManifest(raw)
	if err != nil {
		t.Fatalf("ParseManifest: %v", err)
	}
	want := &api.Manifest{
		Name:     "sensor-hub",
		Platform: "esp8266",
		Version:  "2.3.1",
		Parts: api.Parts{
			FW: &api.PartSpec{Addr: 8192, SHA1: strings.Repeat("ab", 20), Src: "fw.bin", Size: 1000},
			FS: &api.PartSpec{Addr: 262144, SHA1: strings.Repeat("cd", 20), Src: "fs.bin", Size: 500},
		},
	}
	if diff := cmp.Diff(want, m); diff != "" {
		t.Fatalf("manifest diff (-want +got):\n%s", diff)
	}
	if m.Parts.FSDir != nil {
		t.Errorf("unexpected fs_dir part: %+v", m.Parts.FSDir)
	}
}

func TestParseManifestRejectsGarbage(t *testing.T) {
	if _, err := api.ParseManifest([]byte("pure garbage")); err == nil {
		t.Fatal("expected an error parsing garbage")
	}
}

func TestManifestString(t *testing.T) {
	m := &api.Manifest{
		Name:     "hub",
		Platform: "esp8266",
		Version:  "1.0",
		Parts: api.Parts{
			FW: &api.PartSpec{Addr: 0, SHA1: strings.Repeat("ab", 20), Src: "fw.bin", Size: 1000},
		},
	}
	got := m.String()
	for _, want := range []string{"hub", "esp8266", "fw.bin", "1000"} {
		if !strings.Contains(got, want) {
			t.Errorf("String() = %q, missing %q", got, want)
		}
	}
}
