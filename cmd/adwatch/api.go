package main

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/adwatch/adwatch"
	"github.com/hazyhaar/adwatch/kit"
	"github.com/hazyhaar/adwatch/shield"
)

// newRouter builds the HTTP surface: health, registry CRUD, manual scan,
// Prometheus metrics and the MCP endpoint.
func newRouter(svc *adwatch.Service, metrics, mcpHandler http.Handler, logger *slog.Logger) http.Handler {
	r := chi.NewRouter()
	for _, mw := range shield.APIStack(logger) {
		r.Use(mw)
	}

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, map[string]string{"status": "ok"})
	})
	if metrics != nil {
		r.Handle("/metrics", metrics)
	}
	if mcpHandler != nil {
		r.Handle("/mcp", mcpHandler)
	}

	r.Get("/api/allowed-urls", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, 200, svc.AllowedURLs())
	})

	r.Route("/api/owners/{owner}/searches", func(r chi.Router) {
		r.Use(ownerContext)
		r.Get("/", func(w http.ResponseWriter, r *http.Request) {
			list, err := svc.ListSearches(r.Context(), chi.URLParam(r, "owner"))
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, 200, list)
		})
		r.Post("/", func(w http.ResponseWriter, r *http.Request) {
			var req struct {
				URL      string `json:"url"`
				Keyword  string `json:"keyword"`
				MaxPrice int    `json:"max_price"`
			}
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				writeError(w, 400, errors.New("invalid JSON body"))
				return
			}
			s, err := svc.AddSearch(r.Context(), chi.URLParam(r, "owner"), req.URL, req.Keyword, req.MaxPrice)
			if err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, 201, s)
		})
		r.Delete("/{id}", func(w http.ResponseWriter, r *http.Request) {
			id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
			if err != nil {
				writeError(w, 400, errors.New("invalid search id"))
				return
			}
			if err := svc.DeleteSearch(r.Context(), chi.URLParam(r, "owner"), id); err != nil {
				writeServiceError(w, r, err)
				return
			}
			writeJSON(w, 200, map[string]string{"status": "deleted"})
		})
	})

	r.Get("/api/searches/{id}/runs", func(w http.ResponseWriter, r *http.Request) {
		id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
		if err != nil {
			writeError(w, 400, errors.New("invalid search id"))
			return
		}
		runs, err := svc.ScanHistory(r.Context(), id, queryInt(r, "limit", 20))
		if err != nil {
			writeServiceError(w, r, err)
			return
		}
		writeJSON(w, 200, runs)
	})

	r.Post("/api/scan", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, 200, svc.ScanNow(r.Context()))
	})

	return r
}

// --- Helpers ---

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}

// writeServiceError maps service sentinel errors to HTTP status codes.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, adwatch.ErrInvalidInput):
		writeError(w, 400, err)
	case errors.Is(err, adwatch.ErrNotFound):
		writeError(w, 404, err)
	case errors.Is(err, adwatch.ErrQuotaExceeded):
		writeError(w, 409, err)
	default:
		log := shield.GetLogger(r.Context())
		if owner := kit.GetOwnerID(r.Context()); owner != "" {
			log = log.With("owner_id", owner)
		}
		log.Error("api: internal error", "error", err)
		writeError(w, 500, errors.New("internal error"))
	}
}

// ownerContext copies the {owner} path parameter into the request context.
func ownerContext(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := kit.WithOwnerID(r.Context(), chi.URLParam(r, "owner"))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func queryInt(r *http.Request, key string, def int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
