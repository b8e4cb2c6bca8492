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

// Package impl implements the post-reboot boot tool.
package impl

import (
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/golang/glog"

	"github.com/larkspur-iot/ota/devices/dummy"
	"github.com/larkspur-iot/ota/internal/bootcfg"
	"github.com/larkspur-iot/ota/internal/merge"
)

// activeFSDir is the subdirectory of the device storage holding the active
// filesystem of the emulated device.
const activeFSDir = "fs"

// BootOpts encapsulates the tool parameters.
type BootOpts struct {
	DeviceStorage string
	Command       string
}

// Main runs one boot tool command against the device.
func Main(opts BootOpts) error {
	if len(opts.DeviceStorage) == 0 {
		return errors.New("must specify device_storage")
	}

	dev, err := dummy.New(opts.DeviceStorage)
	if err != nil {
		return fmt.Errorf("failed to open device: %w", err)
	}
	defer dev.Close()
	mgr := bootcfg.NewManager(bootcfg.NewFlashStore(dev))

	switch opts.Command {
	case "status":
		return status(mgr)
	case "boot":
		return boot(mgr)
	case "merge":
		dst := dummy.NewDirFS(filepath.Join(opts.DeviceStorage, activeFSDir))
		return merge.Run(dev, mgr, dst)
	case "commit":
		return mgr.Commit()
	case "revert":
		return mgr.Revert()
	}
	return fmt.Errorf("command must be one of [status, boot, merge, commit, revert], got %q", opts.Command)
}

func status(mgr *bootcfg.Manager) error {
	cfg, err := mgr.Current()
	if err != nil {
		return err
	}
	j, err := json.MarshalIndent(cfg, "", "\t")
	if err != nil {
		return err
	}
	fmt.Printf("%s\n", j)
	return nil
}

// boot registers a first-boot attempt. Once the attempt budget is exhausted
// the update is judged unbootable and the device reverts to the previous
// slot.
func boot(mgr *bootcfg.Manager) error {
	cfg, err := mgr.Current()
	if err != nil {
		return err
	}
	if !cfg.FirstBoot {
		glog.Info("No first boot pending")
		return nil
	}
	attempts, err := mgr.MarkBootAttempt()
	if err != nil {
		return err
	}
	if attempts > bootcfg.MaxBootAttempts {
		glog.Warningf("Boot attempt %d exceeds budget of %d, reverting", attempts, bootcfg.MaxBootAttempts)
		return mgr.Revert()
	}
	glog.Infof("First boot attempt %d of %d", attempts, bootcfg.MaxBootAttempts)
	return nil
}
