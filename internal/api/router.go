package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func NewRouter(apiHandler *APIHandler, tokens TokenValidator) http.Handler {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(RequestLogger(apiHandler.log))
	r.Use(middleware.Recoverer)
	r.Use(middleware.StripSlashes)

	r.Route("/api", func(r chi.Router) {
		// Public routes
		r.Post("/signup", apiHandler.SignupHandler)
		r.Post("/login", apiHandler.LoginHandler)
		r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		})
		r.Get("/semesters", apiHandler.ListSemestersHandler)

		r.Group(func(r chi.Router) {
			r.Use(JWTAuthMiddleware(tokens))

			r.Post("/messages", apiHandler.SendMessageHandler)

			r.Post("/groups", apiHandler.CreateGroupHandler)
			r.Get("/groups", apiHandler.ListGroupsHandler)
			r.Get("/groups/{groupID}", apiHandler.GroupDetailsHandler)
			r.Post("/groups/{groupID}/join", apiHandler.JoinGroupHandler)
			r.Get("/groups/{groupID}/messages", apiHandler.GroupMessagesHandler)
			r.Get("/groups/{groupID}/search", apiHandler.SearchHandler)

			r.Put("/teachers/me/availability", apiHandler.SetAvailabilityHandler)
		})
	})

	return r
}
