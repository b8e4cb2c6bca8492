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

// ota_tool applies an update package (a ZIP of manifest.json plus payload
// files) to a device by streaming it through the update engine.
//
// Usage:
//   go run ./cmd/ota_tool/ --logtostderr --device_storage=/path/to/dir --update_file=/path/to/update.zip
//
// A brand new device carries no boot configuration yet; pass --force_init
// once to seed the defaults.
package main

import (
	"flag"

	"github.com/golang/glog"
	"github.com/larkspur-iot/ota/cmd/ota_tool/impl"
)

var (
	updateFile    = flag.String("update_file", "", "File path to read the update package from")
	deviceStorage = flag.String("device_storage", "", "Directory holding the emulated device's state")
	forceInit     = flag.Bool("force_init", false, "Seed a default boot configuration on an uninitialised device")
	chunkSize     = flag.Int("chunk_size", 1024, "Size of the chunks the package is streamed in")
)

func main() {
	flag.Parse()

	if err := impl.Main(impl.ApplyOpts{
		UpdateFile:    *updateFile,
		DeviceStorage: *deviceStorage,
		ForceInit:     *forceInit,
		ChunkSize:     *chunkSize,
	}); err != nil {
		glog.Exit(err.Error())
	}
}
