package main

import (
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
)

const (
	testWidth  = 8
	testHeight = 8
)

var server *httptest.Server

func TestMain(m *testing.M) {
	os.Exit(runServer(m))
}

func runServer(m *testing.M) int {
	cv, err := newCanvas(testWidth, testHeight, 16, 0)
	if err != nil {
		panic(err)
	}
	server = httptest.NewServer(newHandler(cv, ""))
	defer server.Close()
	return m.Run()
}

func wsURL(path string) string {
	return strings.Replace(server.URL, "http", "ws", 1) + path
}

var dialer = &websocket.Dialer{HandshakeTimeout: 3 * time.Second}

func dial(t *testing.T, path string) *websocket.Conn {
	t.Helper()
	ws, resp, err := dialer.Dial(wsURL(path), nil)
	if err != nil {
		t.Fatal("dial error:", err, "resp:", resp)
	}
	return ws
}

func readFrame(t *testing.T, ws *websocket.Conn) (int, []byte) {
	t.Helper()
	ws.SetReadDeadline(time.Now().Add(3 * time.Second))
	kind, payload, err := ws.ReadMessage()
	if err != nil {
		t.Fatal("ReadMessage:", err)
	}
	return kind, payload
}

func readBinary(t *testing.T, ws *websocket.Conn) []byte {
	t.Helper()
	for {
		kind, payload := readFrame(t, ws)
		if kind == websocket.BinaryMessage {
			return payload
		}
	}
}

func TestNonUpgradeRequestsGet404(t *testing.T) {
	for _, path := range []string{"/tile", "/", "/other", "/tile/sub"} {
		resp, err := http.Get(server.URL + path)
		if err != nil {
			t.Fatal("GET error:", err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusNotFound {
			t.Fatal("expected 404 for GET", path, "got", resp.Status)
		}
	}
}

func TestWrongEndpointRejectsHandshake(t *testing.T) {
	for _, path := range []string{"/wrong", "/", "/tiles"} {
		_, resp, err := dialer.Dial(wsURL(path), nil)
		if err == nil {
			t.Fatal("handshake unexpectedly completed for", path)
		}
		if resp == nil || resp.StatusCode != http.StatusNotFound {
			t.Fatal("expected 404 for", path, "got:", resp)
		}
	}
}

func TestHandshakeServerHeader(t *testing.T) {
	ws, resp, err := dialer.Dial(wsURL("/tile"), nil)
	if err != nil {
		t.Fatal("dial error:", err)
	}
	defer ws.Close()
	if got := resp.Header.Get("Server"); got != "tilehub" {
		t.Fatal("expected Server: tilehub, got:", got)
	}
}

func TestPixelWriteRoundTrip(t *testing.T) {
	ws := dial(t, "/tile")
	defer ws.Close()

	err := ws.WriteMessage(websocket.TextMessage, []byte(`{"x":5,"y":5,"color":3}`))
	if err != nil {
		t.Fatal("WriteMessage:", err)
	}

	kind, payload := readFrame(t, ws)
	if kind != websocket.TextMessage || string(payload) != "OK" {
		t.Fatal("expected text OK first, got type", kind, "payload", string(payload))
	}

	buf := readBinary(t, ws)
	if len(buf) != testWidth*testHeight {
		t.Fatal("snapshot length:", len(buf))
	}
	if buf[5*testWidth+5] != 3 {
		t.Fatal("pixel (5,5) =", buf[5*testWidth+5], "want 3")
	}
}

func TestMalformedWriteProducesNoReply(t *testing.T) {
	ws := dial(t, "/tile")
	defer ws.Close()

	if err := ws.WriteMessage(websocket.TextMessage, []byte(`not json`)); err != nil {
		t.Fatal("WriteMessage:", err)
	}
	// The session must survive the garbage: the next valid write is
	// acked, and that ack is the first frame we receive.
	if err := ws.WriteMessage(websocket.TextMessage, []byte(`{"x":1,"y":1,"color":2}`)); err != nil {
		t.Fatal("WriteMessage:", err)
	}

	kind, payload := readFrame(t, ws)
	if kind != websocket.TextMessage || string(payload) != "OK" {
		t.Fatal("expected OK for the valid write, got type", kind, "payload", string(payload))
	}
	buf := readBinary(t, ws)
	if buf[1*testWidth+1] != 2 {
		t.Fatal("pixel (1,1) =", buf[1*testWidth+1], "want 2")
	}
}

func TestBroadcastReachesAllClients(t *testing.T) {
	clients := make([]*websocket.Conn, 3)
	for i := range clients {
		clients[i] = dial(t, "/tile")
		defer clients[i].Close()
	}
	// Give the server time to register every subscription.
	time.Sleep(100 * time.Millisecond)

	err := clients[0].WriteMessage(websocket.TextMessage, []byte(`{"x":7,"y":0,"color":5}`))
	if err != nil {
		t.Fatal("WriteMessage:", err)
	}

	// The writer sees its ack before the snapshot its write caused.
	kind, payload := readFrame(t, clients[0])
	if kind != websocket.TextMessage || string(payload) != "OK" {
		t.Fatal("writer expected OK first, got type", kind, "payload", string(payload))
	}

	for i, ws := range clients {
		buf := readBinary(t, ws)
		if buf[7] != 5 {
			t.Fatal("client", i, "pixel (7,0) =", buf[7], "want 5")
		}
	}
}
