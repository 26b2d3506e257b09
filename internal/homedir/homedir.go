// Copyright 2019 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//      http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package homedir

import (
	"os"
	"os/user"
)

// Get returns the current user's home directory, preferring $HOME.
// It returns "" when neither $HOME nor the user database knows.
func Get() string {
	if h := os.Getenv("HOME"); h != "" {
		return h
	}
	if usr, err := user.Current(); err == nil {
		return usr.HomeDir
	}
	return ""
}
