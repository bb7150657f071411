package main

import (
	"log/slog"
	"net/http"
)

// errorResponse is a generic helper for sending JSON-formatted error messages
// to the client with a given status code.
func errorResponse(w http.ResponseWriter, status int, message any) {
	env := envelope{"error": message}
	if err := writeJSON(w, status, env, nil); err != nil {
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (app *application) badRequestResponse(w http.ResponseWriter, err error) {
	errorResponse(w, http.StatusBadRequest, err.Error())
}

func (app *application) serverErrorResponse(w http.ResponseWriter, r *http.Request, message string, err error) {
	app.logger.Error(message,
		slog.String("method", r.Method),
		slog.String("uri", r.URL.RequestURI()),
		slog.Any("error", err),
	)
	errorResponse(w, http.StatusInternalServerError, message)
}
