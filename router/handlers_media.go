// Copyright 2024 New Vector Ltd.
//
// SPDX-License-Identifier: AGPL-3.0-only OR LicenseRef-Element-Commercial
// Please see LICENSE files in the repository root for full details.

package router

import (
	"io"
	"net/http"
	"net/url"

	"github.com/gorilla/mux"
	"github.com/matrix-org/gomatrixserverlib/spec"
	hauth "github.com/matrix-org/hearth/auth"
	"github.com/matrix-org/hearth/httputil"
	"github.com/matrix-org/hearth/internal/idutil"
	"github.com/matrix-org/util"
)

// maxMediaBytes bounds a single upload; there is no quota system beyond
// this, matching the scale this homeserver targets.
const maxMediaBytes = 32 << 20 // 32MiB

func registerMedia(r *mux.Router, deps *Deps) {
	r.HandleFunc("/v3/upload", wrapAuthed(deps, "media_upload", handleMediaUpload(deps))).Methods(http.MethodPost)
	r.HandleFunc("/v3/download/{serverName}/{mediaID}", handleMediaDownload(deps)).Methods(http.MethodGet)
	r.HandleFunc("/v3/download/{serverName}/{mediaID}/{fileName}", handleMediaDownload(deps)).Methods(http.MethodGet)
	r.HandleFunc("/v1/download/{serverName}/{mediaID}", handleMediaDownload(deps)).Methods(http.MethodGet)
	r.HandleFunc("/v1/download/{serverName}/{mediaID}/{fileName}", handleMediaDownload(deps)).Methods(http.MethodGet)
}

func handleMediaUpload(deps *Deps) authedHandler {
	return func(req *http.Request, a *hauth.Authenticated) util.JSONResponse {
		limited := io.LimitReader(req.Body, maxMediaBytes+1)
		body, err := io.ReadAll(limited)
		if err != nil {
			return util.JSONResponse{Code: http.StatusInternalServerError, JSON: spec.Unknown("Failed to read upload body.")}
		}
		if len(body) > maxMediaBytes {
			return util.JSONResponse{Code: http.StatusRequestEntityTooLarge, JSON: spec.MatrixError{ErrCode: "M_TOO_LARGE", Err: "Upload exceeds the maximum allowed size."}}
		}

		contentType := req.Header.Get("Content-Type")
		if contentType == "" {
			contentType = "application/octet-stream"
		}
		fileName := ""
		if fn := req.URL.Query().Get("filename"); fn != "" {
			fileName = fn
		}

		item := deps.Store.PutMedia(contentType, fileName, body)
		return util.JSONResponse{
			Code: http.StatusOK,
			JSON: map[string]string{"content_uri": idutil.MXCURI(deps.Store.ServerName(), item.MediaID)},
		}
	}
}

// handleMediaDownload serves raw bytes rather than a JSON body, so it
// bypasses wrap/respond and writes the response directly, applying CORS
// headers itself to stay consistent with every other route.
func handleMediaDownload(deps *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, req *http.Request) {
		httputil.SetCORSHeaders(w)
		mediaID := pathVar(req, "mediaID")
		item := deps.Store.GetMedia(mediaID)
		if item == nil {
			httputil.WriteJSONResponse(w, util.JSONResponse{Code: http.StatusNotFound, JSON: spec.NotFound("Media not found.")})
			return
		}
		w.Header().Set("Content-Type", item.ContentType)
		if item.FileName != "" {
			w.Header().Set("Content-Disposition", "inline; filename="+url.QueryEscape(item.FileName))
		}
		w.WriteHeader(http.StatusOK)
		w.Write(item.Bytes) //nolint:errcheck
	}
}
