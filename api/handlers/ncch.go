// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/wwylele/ncch-catalog/api/schema"
	"github.com/wwylele/ncch-catalog/internal/registry"
	"github.com/wwylele/ncch-catalog/internal/upload"
)

// SessionBuilder constructs a fresh upload session for a newly admitted
// registry id. Injected so this handler does not need to know about
// verify.Keys or the catalog store directly.
type SessionBuilder func(id uint32) registry.Session

// maxChunkSize bounds a single upload request body, generous enough for the
// largest fixed-size region (the SMDH icon, 0x36C0 bytes) plus headroom, while
// still rejecting wildly oversized bodies before they are read into memory.
const maxChunkSize = 1 << 20

// PostNcch handles POST /post_ncch: admits a new upload session and feeds
// it the request body as the NCCH header chunk.
func PostNcch(reg *registry.Registry, build SessionBuilder) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		data, err := readChunk(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		session, err := reg.Admit(func(id uint32) registry.Session { return build(id) })
		if err != nil {
			if errors.Is(err, registry.ErrBusy) {
				writeError(w, http.StatusServiceUnavailable, "server is at session capacity")
				return
			}
			slog.Error("admit session", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		us, ok := session.(*upload.Session)
		if !ok {
			slog.Error("registry session is not an *upload.Session")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		writeUploadResult(w, session.ID(), us.Next(data))
	}
}

// AppendNcch handles POST /append_ncch/{session_id}: feeds the request body
// to an existing session as its next expected chunk.
func AppendNcch(reg *registry.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		idStr := r.PathValue("session_id")
		id, err := strconv.ParseUint(idStr, 10, 32)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid session id")
			return
		}

		session, ok := reg.Get(uint32(id))
		if !ok {
			writeError(w, http.StatusNotFound, "no such session")
			return
		}

		us, ok := session.(*upload.Session)
		if !ok {
			slog.Error("registry session is not an *upload.Session")
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		data, err := readChunk(r)
		if err != nil {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}

		writeUploadResult(w, uint32(id), us.Next(data))
	}
}

func readChunk(r *http.Request) ([]byte, error) {
	defer r.Body.Close()
	return io.ReadAll(io.LimitReader(r.Body, maxChunkSize+1))
}

func writeUploadResult(w http.ResponseWriter, sessionID uint32, result upload.Result) {
	resp := schema.PostNcchResponse{}
	status := http.StatusOK

	switch result.Status {
	case upload.StatusAppendNeeded:
		resp.Status = "append_needed"
		id := sessionID
		off := result.AppendOffset
		ln := result.AppendLen
		resp.SessionID = &id
		resp.Offset = &off
		resp.Len = &ln
	case upload.StatusFinished:
		resp.Status = "finished"
		resp.NcchID = result.RecordID
	case upload.StatusAlreadyFinished:
		status = http.StatusBadRequest
		resp.Status = "already_finished"
	case upload.StatusUnexpectedLength:
		status = http.StatusBadRequest
		resp.Status = "unexpected_length"
	case upload.StatusUnexpectedFormat:
		status = http.StatusBadRequest
		resp.Status = "unexpected_format"
	case upload.StatusVerificationFailed:
		status = http.StatusBadRequest
		resp.Status = "verification_failed"
	case upload.StatusConflict:
		status = http.StatusConflict
		resp.Status = "conflict"
		resp.NcchID = result.RecordID
	case upload.StatusInternalServerError:
		status = http.StatusInternalServerError
		resp.Status = "internal_server_error"
	default:
		status = http.StatusInternalServerError
		resp.Status = "internal_server_error"
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slog.Error("encode upload response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(schema.ErrorResponse{Status: "error", Message: message}); err != nil {
		slog.Error("encode error response", "error", err)
	}
}
