// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package handlers

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/wwylele/ncch-catalog/api/schema"
	"github.com/wwylele/ncch-catalog/internal/catalog"
	"github.com/wwylele/ncch-catalog/internal/catalogrecord"
	"github.com/wwylele/ncch-catalog/internal/icon"
)

// Catalog is the subset of *catalog.Store the read-side handlers need.
type Catalog interface {
	Get(id string) (*catalogrecord.Record, error)
	Query(f catalog.Filter) ([]*catalogrecord.Record, error)
	Count(f catalog.Filter) (int64, error)
}

// NcchInfo handles GET /ncch/{ncch_id}/{info_type}, dispatching on
// info_type the way the system it replaces serves "info", "icon_small.png"
// and "icon_large.png" from a single route.
func NcchInfo(store Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("ncch_id")
		record, err := store.Get(id)
		if errors.Is(err, catalog.ErrNotFound) {
			writeError(w, http.StatusNotFound, "no such ncch")
			return
		}
		if err != nil {
			slog.Error("get ncch record", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		switch r.PathValue("info_type") {
		case "info":
			writeNcchInfo(w, record)
		case "icon_small.png":
			writeIcon(w, record, false)
		case "icon_large.png":
			writeIcon(w, record, true)
		default:
			writeError(w, http.StatusNotFound, "unknown info type")
		}
	}
}

func writeNcchInfo(w http.ResponseWriter, record *catalogrecord.Record) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(schema.NcchInfoFromRecord(record)); err != nil {
		slog.Error("encode ncch info", "error", err)
	}
}

// writeIcon serves the 48x48 icon when large is true, otherwise the 24x24
// icon.
func writeIcon(w http.ResponseWriter, record *catalogrecord.Record, large bool) {
	if record.Smdh == nil {
		writeError(w, http.StatusNotFound, "ncch has no icon")
		return
	}

	tiles := record.Smdh.SmallIcon
	if large {
		tiles = record.Smdh.LargeIcon
	}

	png, err := icon.EncodePNG(tiles)
	if err != nil {
		slog.Error("encode icon png", "error", err)
		writeError(w, http.StatusInternalServerError, "internal error")
		return
	}

	w.Header().Set("Content-Type", "image/png")
	if _, err := w.Write(png); err != nil {
		slog.Error("write icon response", "error", err)
	}
}
