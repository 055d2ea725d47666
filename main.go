// Command tilehub serves one shared pixel canvas over websockets.
//
//	tilehub -addr=:8081 -width=64 -height=64
//
// Clients connect to ws://host:port/tile and send text frames like
//
//	{"x": 5, "y": 5, "color": 3}
//
// Every parsed write is answered with the text frame "OK", and every
// write broadcasts a binary frame holding the full canvas (row-major,
// one byte per cell) to all connected clients, the writer included.
//
// Any request that is not a websocket upgrade to /tile gets a 404.
// The canvas lives in memory for the life of the process; there is no
// persistence and no authentication.
package main

import (
	"flag"
	"net/http"
	"time"

	"github.com/facebookgo/httpdown"
)

func main() {
	// Prepare the stoppable HTTP server
	server := &http.Server{
		Addr: "127.0.0.1:8081",
	}
	hd := &httpdown.HTTP{
		StopTimeout: 10 * time.Second,
		KillTimeout: 1 * time.Second,
	}

	flag.StringVar(&server.Addr, "addr", server.Addr, "http service address")
	flag.DurationVar(&hd.StopTimeout, "stop-timeout", hd.StopTimeout, "stop timeout")
	flag.DurationVar(&hd.KillTimeout, "kill-timeout", hd.KillTimeout, "kill timeout")
	width := flag.Int("width", 64, "canvas width in pixels")
	height := flag.Int("height", 64, "canvas height in pixels")
	palette := flag.Int("palette", 16, "number of colors in the palette")
	fill := flag.Int("fill", 0, "color every cell starts with")
	origin := flag.String("origin", "", "websocket server checks Origin headers against this scheme://host[:port]")
	level := flag.String("log-level", "info", "log level: debug, info, warn or error")
	flag.Parse()

	setLogger(*level)
	startMetrics()
	defer finalMetrics()

	// The canvas must exist before the first connection is accepted.
	cv, err := newCanvas(*width, *height, *palette, *fill)
	if err != nil {
		logger.WithError(err).Fatal("invalid canvas configuration")
	}

	server.Handler = newHandler(cv, *origin)
	logger.WithField("addr", server.Addr).Info("serving shared canvas")
	if err := httpdown.ListenAndServe(server, hd); err != nil {
		logger.WithError(err).Fatal("server stopped")
	}
}
