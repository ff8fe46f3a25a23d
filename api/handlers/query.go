// SPDX-FileCopyrightText: (C) 2024 Intel Corporation
// SPDX-License-Identifier: Apache 2.0

package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/wwylele/ncch-catalog/api/schema"
	"github.com/wwylele/ncch-catalog/internal/catalog"
)

// defaultQueryLimit caps an unbounded GET /query_ncch query to a sane page size.
const defaultQueryLimit = 100

func parseQueryFilter(r *http.Request) catalog.Filter {
	q := r.URL.Query()

	f := catalog.Filter{
		Keyword:     q.Get("keyword"),
		ProductCode: q.Get("product_code"),
		Limit:       defaultQueryLimit,
	}

	if v := q.Get("partition_id"); v != "" {
		if id, err := strconv.ParseUint(v, 16, 64); err == nil {
			f.PartitionID = &id
		}
	}
	if v := q.Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			f.Limit = n
		}
	}
	if v := q.Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			f.Offset = n
		}
	}

	return f
}

// QueryNcch handles GET /query_ncch.
func QueryNcch(store Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := parseQueryFilter(r)

		records, err := store.Query(f)
		if err != nil {
			slog.Error("query ncch records", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		resp := schema.NcchInfoList{Ncchs: make([]schema.NcchInfo, len(records))}
		for i, rec := range records {
			resp.Ncchs[i] = schema.NcchInfoFromRecord(rec)
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(resp); err != nil {
			slog.Error("encode ncch query response", "error", err)
		}
	}
}

// QueryNcchCount handles GET /query_ncch_count.
func QueryNcchCount(store Catalog) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		f := parseQueryFilter(r)
		f.Limit, f.Offset = 0, 0

		count, err := store.Count(f)
		if err != nil {
			slog.Error("count ncch records", "error", err)
			writeError(w, http.StatusInternalServerError, "internal error")
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(schema.NcchCount{Count: count}); err != nil {
			slog.Error("encode ncch count response", "error", err)
		}
	}
}
