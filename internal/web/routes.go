package web

import (
	"github.com/go-chi/chi/v5"
	"github.com/kozaktomas/face-attendance/internal/web/handlers"
	"github.com/kozaktomas/face-attendance/internal/web/middleware"
)

func (s *Server) setupRoutes() {
	authHandler := handlers.NewAuthHandler(s.deps.Faculty, s.deps.Tokens)
	sessionsHandler := handlers.NewSessionsHandler(s.deps.Service)
	studentsHandler := handlers.NewStudentsHandler(s.deps.Students, s.deps.Detector, s.deps.Service.DescriptorDim())

	// Health check (no auth required)
	s.router.Get("/api/v1/health", handlers.HealthCheck)

	if s.config.Web.MetricsEnabled && s.deps.Metrics != nil {
		s.router.Handle("/metrics", s.deps.Metrics.Handler())
	}

	s.router.Route("/api/v1", func(r chi.Router) {
		r.Post("/auth/login", authHandler.Login)

		r.Group(func(r chi.Router) {
			r.Use(middleware.RequireAuth(s.deps.Tokens))

			// Attendance sessions
			r.Post("/sessions", sessionsHandler.Start)
			r.Get("/sessions", sessionsHandler.List)
			r.Get("/sessions/{id}", sessionsHandler.Get)
			r.Post("/sessions/{id}/mark", sessionsHandler.Mark)
			r.Post("/sessions/{id}/recognize", sessionsHandler.Recognize)

			// Enrollment
			r.Post("/students", studentsHandler.Create)
			r.Get("/students", studentsHandler.List)
			r.Put("/students/{id}/descriptor", studentsHandler.UpdateDescriptor)
		})
	})
}
