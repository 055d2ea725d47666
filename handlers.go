package main

import (
	"net/http"
	"strings"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// newHandler routes websocket upgrade requests to the canvas endpoint.
// Everything else, any method, any path, is a 404: this service speaks
// websocket or nothing.
func newHandler(cv *canvas, origin string) http.Handler {
	handler := mux.NewRouter()

	handler.Headers(
		// Requests with these headers will use this handler
		"Connection", "Upgrade",
		"Upgrade", "websocket",
	).Handler(newWsHandler(cv, origin))

	handler.NotFoundHandler = http.HandlerFunc(notFound)

	return handler
}

func notFound(w http.ResponseWriter, r *http.Request) {
	logger.WithFields(logrus.Fields{
		"method": r.Method,
		"path":   r.URL.Path,
	}).Debug("rejecting non-websocket request")
	http.NotFound(w, r)
}

type wsHandler struct {
	cv       *canvas
	upgrader *websocket.Upgrader
}

func newWsHandler(cv *canvas, origin string) wsHandler {
	upgrader := &websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024}
	if origin == "" {
		upgrader.CheckOrigin = func(r *http.Request) bool { return true }
	} else {
		upgrader.CheckOrigin = func(r *http.Request) bool {
			return r.Header.Get("Origin") == origin
		}
	}
	return wsHandler{cv: cv, upgrader: upgrader}
}

func (wsh wsHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if firstSegment(r.URL.Path) != endpoint {
		logger.WithField("path", r.URL.Path).Warn("wrong endpoint")
		http.NotFound(w, r)
		return
	}
	ws, err := wsh.upgrader.Upgrade(w, r, http.Header{"Server": {"tilehub"}})
	if err != nil {
		// Upgrade has already written an HTTP error response.
		logger.WithError(err).Warn("websocket upgrade failed")
		return
	}
	newSession(ws, wsh.cv).run()
}

func firstSegment(path string) string {
	path = strings.TrimPrefix(path, "/")
	if i := strings.IndexByte(path, '/'); i >= 0 {
		path = path[:i]
	}
	return path
}
