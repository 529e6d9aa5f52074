package api

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"animefinder/internal/catalog"
	"animefinder/internal/metrics"
)

type CatalogHandler struct {
	client    *catalog.Client
	collector *metrics.Collector
}

func NewCatalogHandler(client *catalog.Client, collector *metrics.Collector) *CatalogHandler {
	return &CatalogHandler{client: client, collector: collector}
}

// GET /api/anime
func (h *CatalogHandler) Search(w http.ResponseWriter, r *http.Request) {
	h.proxy(w, r, "/anime")
}

// GET /api/anime/{id}/full, /api/anime/{id}/recommendations,
// /api/anime/{id}/characters
func (h *CatalogHandler) Detail(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	section := chi.URLParam(r, "section")
	switch section {
	case "full", "recommendations", "characters":
	default:
		notFound(w, "Unknown catalog resource")
		return
	}
	h.proxy(w, r, "/anime/"+id+"/"+section)
}

func (h *CatalogHandler) proxy(w http.ResponseWriter, r *http.Request, path string) {
	result, err := h.client.Get(r.Context(), path, r.URL.Query())
	if err != nil {
		h.collector.RecordCatalogFailure()
		slog.Error("error fetching from catalog", "error", err, "path", path)
		writeError(w, http.StatusBadGateway, "Catalog service unavailable")
		return
	}

	h.collector.RecordCatalogSuccess()
	w.Header().Set("Content-Type", result.ContentType)
	w.WriteHeader(result.StatusCode)
	w.Write(result.Body)
}
