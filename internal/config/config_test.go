// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "hearth.yaml")
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))
	return path
}

func TestLoad_ValidConfigParsesAndValidates(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
version: 1
global:
  server_name: example.com
  port: 8008
users:
  - localpart: alice
    password: hunter2
    display_name: Alice
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "example.com", cfg.Global.ServerName)
	assert.Equal(t, 8008, cfg.Global.Port)
	require.Len(t, cfg.Users, 1)
	assert.Equal(t, "alice", cfg.Users[0].Localpart)
	assert.Equal(t, "@alice:example.com", cfg.UserID("alice"))
}

func TestLoad_MissingServerNameIsRejected(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
global:
  port: 8008
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_DuplicateLocalpartIsRejected(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
global:
  server_name: example.com
  port: 8008
users:
  - localpart: alice
    password: a
  - localpart: alice
    password: b
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_UserWithoutPasswordIsRejected(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
global:
  server_name: example.com
  port: 8008
users:
  - localpart: alice
`)
	_, err := Load(path)
	assert.Error(t, err)
}

func TestLoad_MissingFileReturnsError(t *testing.T) {
	t.Parallel()
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}
