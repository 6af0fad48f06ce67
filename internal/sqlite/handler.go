package sqlite

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mesh-intelligence/tablecache/pkg/types"
)

const maxRequestBody = 8 << 20

// Handler serves the tabular API:
//
//	GET    /tables/ping?table_ids=a,b
//	GET    /tables/{id}/schema
//	GET    /tables/{id}/records?limit=&pageToken=&filter=&sort=&fields=
//	POST   /tables/{id}/records
//	POST   /tables/{id}/records/batch
//	PATCH  /tables/{id}/records/{recordID}
//	DELETE /tables/{id}/records/{recordID}
//	DELETE /tables/{id}/records/batch
//
// and two admin endpoints, GET /tables and POST /tables.
func (b *Backend) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /tables", b.handleListTables)
	mux.HandleFunc("POST /tables", b.handleCreateTable)
	mux.HandleFunc("GET /tables/ping", b.handlePing)
	mux.HandleFunc("GET /tables/{id}/schema", b.handleSchema)
	mux.HandleFunc("GET /tables/{id}/records", b.handleRecords)
	mux.HandleFunc("POST /tables/{id}/records", b.handleCreateRecord)
	mux.HandleFunc("POST /tables/{id}/records/batch", b.handleCreateRecords)
	mux.HandleFunc("PATCH /tables/{id}/records/{recordID}", b.handleUpdateRecord)
	mux.HandleFunc("DELETE /tables/{id}/records/{recordID}", b.handleDeleteRecord)
	mux.HandleFunc("DELETE /tables/{id}/records/batch", b.handleDeleteRecords)
	return b.logRequests(b.authorize(mux))
}

func (b *Backend) authorize(next http.Handler) http.Handler {
	if b.token == "" {
		return next
	}
	want := []byte("Bearer " + b.token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if subtle.ConstantTimeCompare([]byte(r.Header.Get("Authorization")), want) != 1 {
			writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "missing or invalid token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	s.status = code
	s.ResponseWriter.WriteHeader(code)
}

func (b *Backend) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		b.logger.Debug("request", "method", r.Method, "path", r.URL.Path, "status", rec.status, "duration", time.Since(start))
	})
}

func (b *Backend) handleListTables(w http.ResponseWriter, r *http.Request) {
	tables, err := b.Tables(r.Context())
	if err != nil {
		b.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tables)
}

func (b *Backend) handleCreateTable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name   string       `json:"name"`
		Schema types.Schema `json:"schema"`
	}
	if !b.decode(w, r, &req) {
		return
	}
	info, err := b.CreateTable(r.Context(), req.Name, req.Schema)
	if err != nil {
		b.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (b *Backend) handlePing(w http.ResponseWriter, r *http.Request) {
	var ids []string
	for id := range strings.SplitSeq(r.URL.Query().Get("table_ids"), ",") {
		if id = strings.TrimSpace(id); id != "" {
			ids = append(ids, id)
		}
	}
	res, err := b.Ping(r.Context(), ids)
	if err != nil {
		b.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (b *Backend) handleSchema(w http.ResponseWriter, r *http.Request) {
	schema, err := b.Schema(r.Context(), r.PathValue("id"))
	if err != nil {
		b.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, schema)
}

func (b *Backend) handleRecords(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	query := types.QueryParams{
		PageToken: q.Get("pageToken"),
		Sort:      q.Get("sort"),
	}
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			b.writeError(w, fmt.Errorf("limit %q: %w", v, types.ErrValidation))
			return
		}
		query.Limit = n
	}
	if v := q.Get("filter"); v != "" {
		if !json.Valid([]byte(v)) {
			b.writeError(w, fmt.Errorf("filter is not JSON: %w", types.ErrValidation))
			return
		}
		query.Filter = json.RawMessage(v)
	}
	if v := q.Get("fields"); v != "" {
		query.Fields = strings.Split(v, ",")
	}

	page, err := b.Records(r.Context(), r.PathValue("id"), query)
	if err != nil {
		b.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (b *Backend) handleCreateRecord(w http.ResponseWriter, r *http.Request) {
	var fields types.Fields
	if !b.decode(w, r, &fields) {
		return
	}
	recs, err := b.CreateRecords(r.Context(), r.PathValue("id"), []types.Fields{fields})
	if err != nil {
		b.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recs[0])
}

func (b *Backend) handleCreateRecords(w http.ResponseWriter, r *http.Request) {
	var fields []types.Fields
	if !b.decode(w, r, &fields) {
		return
	}
	recs, err := b.CreateRecords(r.Context(), r.PathValue("id"), fields)
	if err != nil {
		b.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, recs)
}

func (b *Backend) handleUpdateRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := b.recordID(w, r)
	if !ok {
		return
	}
	var fields types.Fields
	if !b.decode(w, r, &fields) {
		return
	}
	rec, err := b.UpdateRecord(r.Context(), r.PathValue("id"), id, fields)
	if err != nil {
		b.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (b *Backend) handleDeleteRecord(w http.ResponseWriter, r *http.Request) {
	id, ok := b.recordID(w, r)
	if !ok {
		return
	}
	if err := b.DeleteRecords(r.Context(), r.PathValue("id"), []int64{id}); err != nil {
		b.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) handleDeleteRecords(w http.ResponseWriter, r *http.Request) {
	var ids []int64
	if !b.decode(w, r, &ids) {
		return
	}
	if err := b.DeleteRecords(r.Context(), r.PathValue("id"), ids); err != nil {
		b.writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (b *Backend) recordID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	raw := r.PathValue("recordID")
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		b.writeError(w, fmt.Errorf("record id %q: %w", raw, types.ErrValidation))
		return 0, false
	}
	return id, true
}

func (b *Backend) decode(w http.ResponseWriter, r *http.Request, dest any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBody))
	if err := dec.Decode(dest); err != nil {
		b.writeError(w, fmt.Errorf("decoding request body: %w: %w", types.ErrValidation, err))
		return false
	}
	return true
}

func (b *Backend) writeError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, types.ErrValidation):
		status = http.StatusBadRequest
	case errors.Is(err, types.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, ErrClosed):
		status = http.StatusServiceUnavailable
	}
	if status >= 500 {
		b.logger.Error("request failed", "error", err)
	}
	writeJSON(w, status, map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
