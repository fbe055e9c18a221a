// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

// Package httputil holds the small set of JSON request/response helpers
// shared by every route handler: body decoding, the CORS header set, JSON
// response writing, and the M_UNRECOGNIZED body for unmatched routes.
package httputil

import (
	"encoding/json"
	"io"
	"net/http"
	"unicode/utf8"

	"github.com/matrix-org/gomatrixserverlib/spec"
	"github.com/matrix-org/util"
)

// CORSAllowedHeaders is the header allow-list every response carries.
const CORSAllowedHeaders = "Origin, X-Requested-With, Content-Type, Accept, Authorization"

// SetCORSHeaders applies the CORS headers required on every response.
func SetCORSHeaders(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET,POST,PUT,DELETE,OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", CORSAllowedHeaders)
}

// UnmarshalJSONRequest reads and decodes a request body into iface.
// Consumes the request body. Returns an error JSONResponse on failure.
func UnmarshalJSONRequest(req *http.Request, iface interface{}) *util.JSONResponse {
	body, err := io.ReadAll(req.Body)
	if err != nil {
		return &util.JSONResponse{
			Code: http.StatusInternalServerError,
			JSON: spec.Unknown("Failed to read request body."),
		}
	}
	return UnmarshalJSON(body, iface)
}

// UnmarshalJSON decodes body into iface, rejecting invalid UTF-8 per the
// Matrix API standards (encoding/json alone permits it).
func UnmarshalJSON(body []byte, iface interface{}) *util.JSONResponse {
	if len(body) == 0 {
		// An empty body is treated as `{}` by every handler that accepts
		// an all-optional request type.
		body = []byte("{}")
	}
	if !utf8.Valid(body) {
		return &util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON("Body contains invalid UTF-8"),
		}
	}
	if err := json.Unmarshal(body, iface); err != nil {
		return &util.JSONResponse{
			Code: http.StatusBadRequest,
			JSON: spec.BadJSON("The request body could not be decoded into valid JSON: " + err.Error()),
		}
	}
	return nil
}

// WriteJSONResponse writes a util.JSONResponse to w, applying CORS
// headers first.
func WriteJSONResponse(w http.ResponseWriter, resp util.JSONResponse) {
	SetCORSHeaders(w)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(resp.Code)
	body, err := json.Marshal(resp.JSON)
	if err != nil {
		// Nothing sensible left to do but report what we can.
		w.Write([]byte(`{"errcode":"M_UNKNOWN","error":"failed to marshal response"}`)) //nolint:errcheck
		return
	}
	w.Write(body) //nolint:errcheck
}

// Unrecognized builds the 404/405 M_UNRECOGNIZED body the router returns
// for unmatched routes and method mismatches.
func Unrecognized(code int, msg string) util.JSONResponse {
	return util.JSONResponse{
		Code: code,
		JSON: spec.MatrixError{ErrCode: "M_UNRECOGNIZED", Err: msg},
	}
}
