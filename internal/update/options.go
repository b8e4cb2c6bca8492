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

package update

// Option configures an update attempt.
type Option func(*Update)

// WithWatchdog sets the liveness callback serviced between chunks of long
// flash scans. On hardware this feeds the watchdog; it must not be skipped
// when verifying multi-hundred-KB images.
func WithWatchdog(feed func()) Option {
	return func(u *Update) {
		u.feed = feed
	}
}
