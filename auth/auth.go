// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package auth maps bearer tokens to (user_id, device_id) and hashes and
// checks passwords. Tokens themselves are issued and revoked by the store
// (Store.CreateDevice at login, Store.RemoveDevice at logout). Passwords
// are hashed once at config load time and checked with bcrypt at login, even though the
// source of truth for the plaintext is a static config file rather than
// a registration flow.
package auth

import (
	"net/http"
	"strings"

	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/matrix-org/hearth/storage"
	"github.com/matrix-org/util"
	"golang.org/x/crypto/bcrypt"
)

// HashPassword hashes a plaintext password for storage in a User record.
func HashPassword(plaintext string) (string, error) {
	h, err := bcrypt.GenerateFromPassword([]byte(plaintext), bcrypt.DefaultCost)
	if err != nil {
		return "", err
	}
	return string(h), nil
}

// CheckPassword reports whether plaintext matches the bcrypt hash.
func CheckPassword(hash, plaintext string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(plaintext)) == nil
}

// Authenticated is the (user_id, device_id) pair a successful bearer
// lookup resolves to.
type Authenticated struct {
	UserID   string
	DeviceID string
}

// FromRequest extracts the bearer token from the Authorization header and
// resolves it against the store. The three-way return mirrors the three
// error cases a caller must distinguish: missing header, unknown token,
// or success.
func FromRequest(req *http.Request, store *storage.Store) (*Authenticated, *util.JSONResponse) {
	header := req.Header.Get("Authorization")
	token := ""
	if strings.HasPrefix(header, "Bearer ") {
		token = strings.TrimPrefix(header, "Bearer ")
	} else if q := req.URL.Query().Get("access_token"); q != "" {
		token = q
	}
	if token == "" {
		return nil, &util.JSONResponse{
			Code: http.StatusUnauthorized,
			JSON: spec.MissingToken("Missing access token"),
		}
	}
	d := store.DeviceByToken(token)
	if d == nil {
		return nil, &util.JSONResponse{
			Code: http.StatusUnauthorized,
			JSON: spec.UnknownToken("Unrecognised access token"),
		}
	}
	return &Authenticated{UserID: d.UserID, DeviceID: d.DeviceID}, nil
}
