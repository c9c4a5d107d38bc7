package main

import (
	"context"
	"errors"
	"net/http"
	"time"

	"eventhub/services/realtime"
)

func (app *application) healthz(w http.ResponseWriter, r *http.Request) {
	if app.db != nil {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		if err := app.db.PingContext(ctx); err != nil {
			app.log.WithError(err).Warn("health check failed")
			_ = app.SendErrorJSON(w, http.StatusServiceUnavailable, errors.New("database unavailable"))
			return
		}
	}
	_ = app.SendSuccessJSON(w, http.StatusOK, map[string]int{"subscribers": app.hub.Subscribers(realtime.LobbyChannel)})
}
