package costinghttp

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"
)

// MountRoutes registers the costing endpoints onto the router.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(10, time.Minute,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, http.StatusText(http.StatusTooManyRequests), http.StatusTooManyRequests)
		}),
	)

	r.Route("/costing", func(r chi.Router) {
		r.Post("/snapshots", h.handleRecalculate)
		r.Get("/snapshots", h.handleListSnapshots)
		r.Get("/snapshots/{productID}/{date}", h.handleGetSnapshot)
		r.Post("/bom/preview", h.handlePreviewBOM)
		r.Group(func(gr chi.Router) {
			gr.Use(limiter)
			gr.Post("/batches", h.handleRunBatch)
			gr.Post("/batches/enqueue", h.handleEnqueueBatch)
		})
	})
}
