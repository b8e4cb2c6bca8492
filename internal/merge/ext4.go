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

package merge

import (
	"fmt"
	"io"

	"github.com/dsoprea/go-ext4"

	"github.com/larkspur-iot/ota/internal/flash"
)

// ext4 directory entry file types.
const (
	fileTypeRegular   = 1
	fileTypeDirectory = 2
)

// ext4Image reads an ext4 filesystem image straight out of a flash slot.
type ext4Image struct {
	rs io.ReadSeeker
}

var _ ImageFS = &ext4Image{}

// Mount opens the ext4 filesystem image at [addr, addr+size) of dev. The
// superblock is parsed eagerly, so a corrupt or missing image surfaces here
// rather than on first read.
func Mount(dev flash.Device, addr, size uint32) (ImageFS, error) {
	rs := flash.NewRegion(dev, addr, size)
	if _, err := rs.Seek(ext4.Superblock0Offset, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := ext4.NewSuperblockWithReader(rs); err != nil {
		return nil, fmt.Errorf("failed to parse superblock: %w", err)
	}
	return &ext4Image{rs: rs}, nil
}

func (img *ext4Image) blockGroupDescriptor(inode int) (*ext4.BlockGroupDescriptor, error) {
	if _, err := img.rs.Seek(ext4.Superblock0Offset, io.SeekStart); err != nil {
		return nil, err
	}
	sb, err := ext4.NewSuperblockWithReader(img.rs)
	if err != nil {
		return nil, err
	}
	bgdl, err := ext4.NewBlockGroupDescriptorListWithReadSeeker(img.rs, sb)
	if err != nil {
		return nil, err
	}
	return bgdl.GetWithAbsoluteInode(inode)
}

// Files walks the whole image and returns the paths of its regular files.
func (img *ext4Image) Files() ([]string, error) {
	bgd, err := img.blockGroupDescriptor(ext4.InodeRootDirectory)
	if err != nil {
		return nil, err
	}
	dw, err := ext4.NewDirectoryWalk(img.rs, bgd, ext4.InodeRootDirectory)
	if err != nil {
		return nil, err
	}

	var paths []string
	for {
		fullPath, de, err := dw.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return nil, err
		}
		if de.Data().FileType != fileTypeRegular {
			continue
		}
		paths = append(paths, fullPath)
	}
	return paths, nil
}

func (img *ext4Image) ReadFile(path string) ([]byte, error) {
	inode, err := img.lookup(path)
	if err != nil {
		return nil, err
	}
	bgd, err := img.blockGroupDescriptor(inode)
	if err != nil {
		return nil, err
	}
	in, err := ext4.NewInodeWithReadSeeker(bgd, img.rs, inode)
	if err != nil {
		return nil, err
	}
	en := ext4.NewExtentNavigatorWithReadSeeker(img.rs, in)
	return io.ReadAll(ext4.NewInodeReader(en))
}

func (img *ext4Image) lookup(path string) (int, error) {
	bgd, err := img.blockGroupDescriptor(ext4.InodeRootDirectory)
	if err != nil {
		return 0, err
	}
	dw, err := ext4.NewDirectoryWalk(img.rs, bgd, ext4.InodeRootDirectory)
	if err != nil {
		return 0, err
	}
	for {
		fullPath, de, err := dw.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return 0, err
		}
		if fullPath == path {
			return int(de.Data().Inode), nil
		}
	}
	return 0, fmt.Errorf("%q not found in previous filesystem", path)
}
