package main

import "net/http"

func (app *application) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /order", authMiddleware(app.authToken, app.createOrderHandler))
	app.status.Register(mux)

	return app.recoverPanic(mux)
}
