package main

import (
	"encoding/json"

	"github.com/pkg/errors"
)

// endpoint is the first path segment websocket clients must request.
const endpoint = "tile"

// ack is the reply to every parsed pixel write.
var ack = []byte("OK")

// pixelWrite is the only message clients send: assign one pixel.
type pixelWrite struct {
	X     int
	Y     int
	Color int
}

// parsePixelWrite decodes a text frame payload. All three fields are
// required integers; anything else is a shape failure and the frame
// is dropped by the caller.
func parsePixelWrite(payload []byte) (pixelWrite, error) {
	var raw struct {
		X     *int `json:"x"`
		Y     *int `json:"y"`
		Color *int `json:"color"`
	}
	if err := json.Unmarshal(payload, &raw); err != nil {
		return pixelWrite{}, errors.Wrap(err, "unmarshal pixel write")
	}
	if raw.X == nil || raw.Y == nil || raw.Color == nil {
		return pixelWrite{}, errors.New("pixel write missing x, y or color")
	}
	return pixelWrite{X: *raw.X, Y: *raw.Y, Color: *raw.Color}, nil
}
