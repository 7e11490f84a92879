package handlers

import (
	"net/http"

	"github.com/nkiryanov/mycontacts/internal/handlers/render"
	"github.com/nkiryanov/mycontacts/internal/logger"
)

func handleHealthChecker(storage pinger, l logger.Logger) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := storage.Ping(r.Context()); err != nil {
			l.Error("Health check failed", "error", err)
			render.ServiceError(w, "Error connecting to the database", http.StatusInternalServerError)
			return
		}

		render.JSON(w, messageResponse{Message: "Welcome to mycontacts!"})
	})
}
