package httptransport

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	httpSwagger "github.com/swaggo/http-swagger"
)

func Routes(h *Handler) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	// our logger, after RequestID
	r.Use(RequestLogger)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})

	r.Group(func(r chi.Router) {
		r.Use(RequireOwner)

		r.Route("/exports", func(r chi.Router) {
			r.Post("/", h.CreateExport)
			r.Get("/", h.History)
			r.Get("/analytics", h.Analytics)
			r.Get("/{id}", h.GetExport)
			r.Delete("/{id}", h.CancelExport)
			r.Post("/{id}/retry", h.RetryExport)
		})

		r.Route("/templates", func(r chi.Router) {
			r.Post("/", h.CreateTemplate)
			r.Get("/", h.ListTemplates)
			r.Post("/{id}/use", h.UseTemplate)
			r.Put("/{id}/schedule", h.ScheduleTemplate)
		})
	})

	r.Get("/swagger/*", httpSwagger.Handler(
		httpSwagger.URL("/swagger/doc.json"),
	))

	return r
}
