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

// Package api holds the types which describe an update package on the wire.
package api

import (
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// DigestLen is the length of a hex-encoded SHA-1 content digest.
	DigestLen = 40

	// MaxFileNameLen bounds a part's source file name, including room for a
	// terminator on constrained targets. Names of this length or longer are
	// rejected rather than truncated.
	MaxFileNameLen = 50

	// ManifestFileName is the well-known name of the manifest entry inside
	// an update package.
	ManifestFileName = "manifest.json"
)

// Digest is a validated, hex-encoded SHA-1 content digest.
type Digest string

// ParseDigest validates s as a 40 character hex digest.
func ParseDigest(s string) (Digest, error) {
	if len(s) != DigestLen {
		return "", fmt.Errorf("digest must be %d hex characters, got %d", DigestLen, len(s))
	}
	for _, c := range s {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return "", fmt.Errorf("digest contains non-hex character %q", c)
		}
	}
	return Digest(s), nil
}

// Equal reports whether d matches the given hex digest, ignoring case.
func (d Digest) Equal(hex string) bool {
	return strings.EqualFold(string(d), hex)
}

// ParseFileName validates s as a bounded part source file name.
func ParseFileName(s string) (string, error) {
	if len(s) == 0 {
		return "", fmt.Errorf("file name is empty")
	}
	if len(s) >= MaxFileNameLen {
		return "", fmt.Errorf("file name %q exceeds %d bytes", s, MaxFileNameLen-1)
	}
	return s, nil
}

// PartSpec describes one part of an update package as declared by the
// manifest. Addr is relative to the target slot base.
type PartSpec struct {
	Addr uint32 `json:"addr"`
	// SHA1 is the expected content digest of the written part.
	SHA1 string `json:"cs_sha1"`
	// Src names the package entry holding the part's payload.
	Src  string `json:"src"`
	Size uint32 `json:"size"`
}

// Parts holds the optional part descriptors of a manifest.
type Parts struct {
	FW    *PartSpec `json:"fw,omitempty"`
	FS    *PartSpec `json:"fs,omitempty"`
	FSDir *PartSpec `json:"fs_dir,omitempty"`
}

// Manifest is the metadata document describing one update package.
type Manifest struct {
	Name     string `json:"name,omitempty"`
	Platform string `json:"platform,omitempty"`
	Version  string `json:"version,omitempty"`
	BuildID  string `json:"build_id,omitempty"`
	Parts    Parts  `json:"parts"`
}

// ParseManifest unmarshals a raw manifest document.
func ParseManifest(raw []byte) (*Manifest, error) {
	var m Manifest
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("failed to parse manifest: %w", err)
	}
	return &m, nil
}

// String returns a human-readable summary of the manifest.
func (m *Manifest) String() string {
	ps := make([]string, 0, 3)
	for _, p := range []struct {
		name string
		spec *PartSpec
	}{{"fw", m.Parts.FW}, {"fs", m.Parts.FS}, {"fs_dir", m.Parts.FSDir}} {
		if p.spec != nil {
			ps = append(ps, fmt.Sprintf("%s(%s %d@0x%x)", p.name, p.spec.Src, p.spec.Size, p.spec.Addr))
		}
	}
	return fmt.Sprintf("%s/%s v%s [%s]", m.Name, m.Platform, m.Version, strings.Join(ps, " "))
}
