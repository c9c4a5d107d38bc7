package main

import (
	"net/http"

	"eventhub/data/images"
)

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", app.healthz)

	mux.HandleFunc("POST /auth/register", app.registerUser)
	mux.HandleFunc("POST /auth/login", app.login)
	mux.Handle("GET /auth/me", app.requireAuth(app.me))
	mux.HandleFunc("GET /auth/verify-email/{token}", app.verifyEmail)
	mux.HandleFunc("POST /auth/forgot-password", app.forgotPassword)
	mux.HandleFunc("POST /auth/reset-password/{token}", app.resetPassword)
	mux.Handle("POST /auth/update-password", app.requireAuth(app.updatePassword))
	mux.HandleFunc("POST /auth/logout", app.logout)

	mux.Handle("GET /users/profile", app.requireAuth(app.getProfile))
	mux.Handle("PUT /users/profile", app.requireAuth(app.updateProfile))

	mux.HandleFunc("GET /events", app.listEvents)
	mux.Handle("POST /events", app.requireAuth(app.createEvent))
	mux.HandleFunc("GET /events/date/{date}", app.eventsByDate)
	mux.HandleFunc("GET /events/{id}", app.getEvent)
	mux.Handle("PUT /events/{id}", app.requireAuth(app.updateEvent))
	mux.Handle("DELETE /events/{id}", app.requireAuth(app.deleteEvent))
	mux.Handle("POST /events/{id}/register", app.requireAuth(app.registerForEvent))
	mux.Handle("DELETE /events/{id}/register", app.requireAuth(app.cancelRegistration))
	mux.Handle("POST /events/{id}/comments", app.requireAuth(app.addComment))
	mux.Handle("POST /events/{id}/likes", app.requireAuth(app.toggleLike))

	mux.Handle("GET /ws", app.hub.Handler())
	mux.Handle("GET "+images.URLPrefix, app.images.Handler())

	var handler http.Handler = mux
	handler = app.authenticate(handler)
	handler = app.logRequests(handler)
	handler = app.recoverPanic(handler)
	return handler
}
