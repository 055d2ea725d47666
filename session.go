package main

import (
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// sendBacklog bounds a session's outbound queue.
const sendBacklog = 256

// pending is one queued outbound frame: the "OK" ack for a parsed
// write, or a binary snapshot of the whole canvas.
type pending struct {
	kind int // websocket.TextMessage or websocket.BinaryMessage
	data []byte
}

// session is one client's live connection. Its send queue is drained
// by a single writer goroutine, so exactly one socket write is in
// flight at a time and entries go out in FIFO order. Nothing outside
// the session touches the queue: cross-session traffic arrives as
// change tokens on sub.C and is enqueued by the session's own pump.
type session struct {
	w    websocketManager
	cv   *canvas
	sub  *subscription
	send chan pending
	log  logrus.FieldLogger
}

func newSession(ws *websocket.Conn, cv *canvas) *session {
	return &session{
		w:    websocketInteractor{ws: ws},
		cv:   cv,
		send: make(chan pending, sendBacklog),
		log:  logger.WithField("session", uuid.New().String()),
	}
}

// run subscribes to the canvas and blocks in the read loop until the
// connection dies. The subscription is released on every exit path;
// closing it is what lets the pump, and then the writer, wind down.
func (s *session) run() {
	s.sub = s.cv.subscribe()
	incr("websockets", 1)
	defer func() {
		decr("websockets", 1)
		s.sub.cancel()
	}()
	go s.pump()
	go s.writer(pingPeriod)
	s.reader()
}

func (s *session) reader() {
	s.w.wsSetReadLimit()
	s.w.wsSetReadDeadline()
	s.w.wsSetPongHandler()
	for {
		if err := s.readMessage(); err != nil {
			s.log.WithError(err).Debug("read loop ended")
			return
		}
	}
}

// readMessage handles one inbound frame. Only a transport error is
// returned; protocol garbage is logged and dropped so the session
// stays open.
func (s *session) readMessage() error {
	kind, payload, err := s.w.wsReadMessage()
	if err != nil {
		return err
	}
	incr("conn.recv", 1)
	if kind != websocket.TextMessage {
		s.log.WithField("type", kind).Warn("ignoring non-text frame")
		mark("frames.ignored", 1)
		return nil
	}
	pw, err := parsePixelWrite(payload)
	if err != nil {
		s.log.WithError(err).Warn("dropping unparseable pixel write")
		mark("writes.dropped", 1)
		return nil
	}
	// Queue the ack before the write so the client always sees "OK"
	// ahead of the snapshot its own write triggers.
	s.enqueue(pending{kind: websocket.TextMessage, data: ack})
	if err := s.cv.writePixel(pw.X, pw.Y, pw.Color); err != nil {
		// Rejected writes are still acked and still broadcast the
		// unchanged canvas.
		s.log.WithError(err).WithFields(logrus.Fields{
			"x": pw.X, "y": pw.Y, "color": pw.Color,
		}).Warn("rejected pixel write")
		mark("writes.rejected", 1)
		return nil
	}
	incr("pixels.written", 1)
	return nil
}

// pump turns canvas change tokens into queued snapshot frames, then
// closes the send queue once the subscription is cancelled. It is the
// only goroutine allowed to close send, and it runs after the reader
// has stopped enqueueing acks.
func (s *session) pump() {
	for range s.sub.C {
		s.enqueue(pending{kind: websocket.BinaryMessage, data: s.cv.snapshot()})
	}
	close(s.send)
}

// enqueue never blocks: a full queue means the client is not keeping
// up, and a later snapshot supersedes a dropped one.
func (s *session) enqueue(msg pending) {
	select {
	case s.send <- msg:
	default:
		mark("send.drops", 1)
	}
}

// writer drains the send queue one frame at a time and pings the peer
// between frames. When the queue is closed it attempts a graceful
// websocket close handshake; failures there are logged, not escalated.
func (s *session) writer(pingInterval time.Duration) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case msg, ok := <-s.send:
			if !ok {
				if err := s.w.wsWriteClose(); err != nil {
					s.log.WithError(err).Debug("close handshake failed")
				}
				s.w.wsClose()
				return
			}
			s.w.wsSetWriteDeadline()
			if err := s.w.wsWriteMessage(msg.kind, msg.data); err != nil {
				s.log.WithError(err).Debug("write failed")
				s.w.wsClose()
				return
			}
			incr("conn.send", 1)
		case <-ticker.C:
			s.w.wsSetWriteDeadline()
			if err := s.w.wsWriteMessage(websocket.PingMessage, nil); err != nil {
				s.w.wsClose()
				return
			}
		}
	}
}
