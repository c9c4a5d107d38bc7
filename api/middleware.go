package main

import (
	"bufio"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"eventhub/services/auth"

	"github.com/sirupsen/logrus"
)

var errAuthRequired = errors.New("authentication required")

// responseWriter captures the status code for the access log.
type responseWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func wrapResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, status: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	if rw.wroteHeader {
		return
	}
	rw.status = code
	rw.wroteHeader = true
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *responseWriter) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	return rw.ResponseWriter.Write(b)
}

// Hijack lets the websocket handler take over the connection.
func (rw *responseWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := rw.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, fmt.Errorf("response writer does not support hijacking")
	}
	return h.Hijack()
}

func (app *application) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := wrapResponseWriter(w)

		next.ServeHTTP(wrapped, r)

		app.log.WithFields(logrus.Fields{
			"method":   r.Method,
			"path":     r.URL.Path,
			"status":   wrapped.status,
			"duration": time.Since(start),
		}).Info("http request")
	})
}

func (app *application) recoverPanic(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if err := recover(); err != nil {
				if err == http.ErrAbortHandler {
					panic(err)
				}
				app.log.WithFields(logrus.Fields{
					"panic": err,
					"trace": string(debug.Stack()),
				}).Error("panic recovered")
				w.Header().Set("Connection", "close")
				_ = app.SendErrorJSON(w, http.StatusInternalServerError, errors.New("Internal server error"))
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// authenticate attaches the actor of a valid bearer token to the request.
// Requests without a token pass through anonymously; a bad token is rejected.
func (app *application) authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if header == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(header, "Bearer ")
		if !ok || token == "" {
			app.sendError(w, r, auth.ErrInvalidToken)
			return
		}

		claims, err := app.tokens.Verify(token, auth.PurposeAccess)
		if err != nil {
			app.sendError(w, r, err)
			return
		}
		id, err := claims.UserID()
		if err != nil {
			app.sendError(w, r, err)
			return
		}

		ctx := auth.WithActor(r.Context(), auth.Actor{UserID: id, Role: claims.Role})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (app *application) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if _, ok := auth.ActorFrom(r.Context()); !ok {
			_ = app.SendErrorJSON(w, http.StatusUnauthorized, errAuthRequired)
			return
		}
		next(w, r)
	})
}

// actor returns the caller, or the zero actor for anonymous requests.
func actor(r *http.Request) auth.Actor {
	a, _ := auth.ActorFrom(r.Context())
	return a
}
