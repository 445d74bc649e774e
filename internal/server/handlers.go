// Package server exposes HTTP handlers: the WebSocket endpoint, the health
// check, and the embedded chat landing page.
package server

import (
	_ "embed"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
)

//go:embed static/index.html
var indexHTML []byte

// HealthHandler provides a simple health check endpoint that returns server status.
// It responds with a plain text message indicating the server is running.
func HealthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	_, _ = fmt.Fprintf(w, "chatrelay is running!")
}

// IndexHandler serves the browser chat client that speaks the relay protocol
// against /ws on the same host.
func IndexHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if _, err := w.Write(indexHTML); err != nil {
		logrus.WithError(err).Warn("Error writing HTML response")
	}
}
