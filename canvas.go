package main

import (
	"sync"

	"github.com/pkg/errors"
)

// Domain errors returned by writePixel.
var (
	errOutOfBounds  = errors.New("pixel out of bounds")
	errInvalidColor = errors.New("color outside palette")
)

// notifyBacklog bounds each subscription's pending change tokens.
// Tokens carry no payload and subscribers snapshot the current grid
// when they consume one, so a token dropped on a full backlog
// coalesces with the pending ones instead of losing pixels.
const notifyBacklog = 64

// canvas owns the shared pixel grid and the subscriber registry. One
// instance exists per process and every session holds the same
// pointer. The grid cells, the registry, and nothing else are guarded
// by a single mutex.
type canvas struct {
	mux         sync.Mutex // Protects grid and subscribers
	grid        []byte
	width       int
	height      int
	palette     int
	subscribers map[*subscription]interface{}
}

// subscription delivers "canvas changed" tokens to one session via C.
// C is closed by cancel, never by the canvas fan-out.
type subscription struct {
	C    chan struct{}
	cv   *canvas
	once sync.Once
}

func newCanvas(width, height, palette, fill int) (*canvas, error) {
	if width < 1 || height < 1 {
		return nil, errors.Errorf("canvas size must be positive, got %dx%d", width, height)
	}
	if palette < 1 || palette > 256 {
		return nil, errors.Errorf("palette size must be 1-256, got %d", palette)
	}
	if fill < 0 || fill >= palette {
		return nil, errors.Wrapf(errInvalidColor, "fill color %d", fill)
	}
	grid := make([]byte, width*height)
	for i := range grid {
		grid[i] = byte(fill)
	}
	return &canvas{
		grid:        grid,
		width:       width,
		height:      height,
		palette:     palette,
		subscribers: make(map[*subscription]interface{}),
	}, nil
}

func (cv *canvas) size() (width, height int) {
	return cv.width, cv.height
}

// writePixel validates coordinates and color, mutates the cell, and
// hands every subscriber a change token. A rejected write mutates
// nothing but still notifies: subscribers are told the write call
// returned, not what it did, and they re-send the full canvas anyway.
func (cv *canvas) writePixel(x, y, color int) error {
	cv.mux.Lock()
	defer cv.mux.Unlock()
	err := cv.set(x, y, color)
	cv.notify()
	return err
}

// set requires cv.mux held.
func (cv *canvas) set(x, y, color int) error {
	if x < 0 || x >= cv.width || y < 0 || y >= cv.height {
		return errors.Wrapf(errOutOfBounds, "(%d,%d)", x, y)
	}
	if color < 0 || color >= cv.palette {
		return errors.Wrapf(errInvalidColor, "color %d", color)
	}
	cv.grid[y*cv.width+x] = byte(color)
	return nil
}

// notify requires cv.mux held. Delivery must not block here: a full
// backlog means the subscriber already has tokens to act on.
func (cv *canvas) notify() {
	for sub := range cv.subscribers {
		select {
		case sub.C <- struct{}{}:
		default:
			mark("canvas.notify.drops", 1)
		}
	}
}

// snapshot returns a row-major, one-byte-per-cell copy of the grid.
// Taken under the mutex so it never interleaves with a write.
func (cv *canvas) snapshot() []byte {
	cv.mux.Lock()
	defer cv.mux.Unlock()
	buf := make([]byte, len(cv.grid))
	copy(buf, cv.grid)
	return buf
}

func (cv *canvas) subscribe() *subscription {
	cv.mux.Lock()
	defer cv.mux.Unlock()
	sub := &subscription{
		C:  make(chan struct{}, notifyBacklog),
		cv: cv,
	}
	cv.subscribers[sub] = nil
	incr("canvas.subscribers", 1)
	return sub
}

// cancel removes the subscription and closes C. Idempotent: a second
// cancel is a no-op.
func (sub *subscription) cancel() {
	sub.once.Do(func() {
		sub.cv.mux.Lock()
		defer sub.cv.mux.Unlock()
		delete(sub.cv.subscribers, sub)
		close(sub.C)
		decr("canvas.subscribers", 1)
	})
}
