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

// boot_tool drives the post-reboot side of an update: boot attempt
// accounting, the user-data merge, and the final commit or revert decision.
//
// Usage:
//   go run ./cmd/boot_tool/ --logtostderr --device_storage=/path/to/dir --command=status
package main

import (
	"flag"

	"github.com/golang/glog"
	"github.com/larkspur-iot/ota/cmd/boot_tool/impl"
)

var (
	deviceStorage = flag.String("device_storage", "", "Directory holding the emulated device's state")
	command       = flag.String("command", "status", "One of [status, boot, merge, commit, revert]")
)

func main() {
	flag.Parse()

	if err := impl.Main(impl.BootOpts{
		DeviceStorage: *deviceStorage,
		Command:       *command,
	}); err != nil {
		glog.Exit(err.Error())
	}
}
