// Copyright 2017 Vector Creations Ltd
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

// Package config loads the static, process-lifetime configuration for the
// homeserver: the server name, the listening port, and the fixed set of
// users the server knows about. There is no registration and no hot
// reload, so this is the entire surface.
package config

import (
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"
)

// Version is the current version of the config file format. It changes
// only when we make a breaking change to the shape of this file.
const Version = 1

// Hearth is the top level config loaded from the YAML file on disk.
type Hearth struct {
	Version int    `yaml:"version"`
	Global  Global `yaml:"global"`
	// Users is the fixed set of accounts this process serves. Accounts
	// cannot be created at runtime; this list is read once at startup.
	Users []User `yaml:"users"`
}

// Global holds settings shared across every component.
type Global struct {
	// ServerName is used both as the domain suffix for all ids
	// (@alice:server_name) and as the `server_name` segment of mxc:// URIs.
	ServerName string `yaml:"server_name"`
	// Port is the TCP port the HTTP listener binds to.
	Port int `yaml:"port"`
}

// User is one statically-configured account.
type User struct {
	Localpart   string `yaml:"localpart"`
	Password    string `yaml:"password"`
	DisplayName string `yaml:"display_name"`
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Hearth, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	var cfg Hearth
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}
	if err = cfg.check(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Hearth) check() error {
	if c.Global.ServerName == "" {
		return fmt.Errorf("config: global.server_name is required")
	}
	if c.Global.Port <= 0 {
		return fmt.Errorf("config: global.port must be a positive integer")
	}
	seen := make(map[string]bool, len(c.Users))
	for _, u := range c.Users {
		if u.Localpart == "" {
			return fmt.Errorf("config: every user requires a localpart")
		}
		if seen[u.Localpart] {
			return fmt.Errorf("config: duplicate localpart %q", u.Localpart)
		}
		seen[u.Localpart] = true
		if u.Password == "" {
			return fmt.Errorf("config: user %q requires a password", u.Localpart)
		}
	}
	return nil
}

// UserID renders the full Matrix user id for a localpart under this
// server's configured server_name.
func (c *Hearth) UserID(localpart string) string {
	return "@" + localpart + ":" + c.Global.ServerName
}
