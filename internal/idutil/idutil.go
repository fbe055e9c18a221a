// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package idutil mints the opaque identifiers used throughout the
// homeserver: room ids, event ids, device ids, media ids, and access
// tokens. All of them follow the Matrix-standard shapes described in the
// client-server API (a sigil, random local part, and a trailing
// `:server_name` where applicable).
package idutil

import (
	"strings"

	"github.com/google/uuid"
	"github.com/matrix-org/util"
)

// randomLocalPart returns a URL-safe random string suitable for use as the
// local part of an opaque id.
func randomLocalPart() string {
	return strings.ReplaceAll(uuid.New().String(), "-", "")
}

// NewRoomID returns a fresh `!<random>:<server_name>` room id.
func NewRoomID(serverName string) string {
	return "!" + randomLocalPart() + ":" + serverName
}

// NewEventID returns a fresh `$<random>:<server_name>` event id.
func NewEventID(serverName string) string {
	return "$" + randomLocalPart() + ":" + serverName
}

// NewDeviceID returns a short device id, matching the compact ids real
// Matrix clients expect to display.
func NewDeviceID() string {
	return strings.ToUpper(util.RandomString(10))
}

// NewAccessToken returns a long opaque bearer token.
func NewAccessToken() string {
	return util.RandomString(32)
}

// NewMediaID returns an opaque media id, used as the final path segment of
// an mxc:// URI.
func NewMediaID() string {
	return util.RandomString(24)
}

// MXCURI renders the mxc:// content URI for a stored media item.
func MXCURI(serverName, mediaID string) string {
	return "mxc://" + serverName + "/" + mediaID
}
