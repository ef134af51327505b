package handler

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/xid"
	"github.com/sakif/crono-esfera/internal/auth"
	"github.com/sakif/crono-esfera/internal/camera"
	"github.com/sakif/crono-esfera/internal/client"
)

// Websocket timings.
const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 20 // one JPEG camera frame
	maxPending     = 256     // undelivered events before the browser counts as gone
)

// DeviceCookie identifies a browser across visits. It scopes the intro flag.
const DeviceCookie = "crono_device"

const deviceCookieMaxAge = 400 * 24 * 60 * 60 // the longest browsers keep a cookie

// deviceID returns the browser's id, issuing a new one when the cookie is
// missing or malformed.
func deviceID(r *http.Request) (id string, issued *http.Cookie) {
	if c, err := r.Cookie(DeviceCookie); err == nil {
		if parsed, err := xid.FromString(c.Value); err == nil {
			return parsed.String(), nil
		}
	}
	id = xid.New().String()
	return id, &http.Cookie{
		Name:     DeviceCookie,
		Value:    id,
		Path:     "/",
		MaxAge:   deviceCookieMaxAge,
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	}
}

// LiveHandler upgrades /ws and runs one client session per connection.
//
// WIRE FORMAT:
//   - browser → server, text:   a JSON client.Command
//   - browser → server, binary: one JPEG camera frame
//   - server → browser, text:   a JSON client.Event
type LiveHandler struct {
	hub      *client.Hub
	tokens   *auth.TokenService
	upgrader websocket.Upgrader
	logger   *slog.Logger
}

// NewLiveHandler uses the upgrader's default origin check, which only
// accepts same-host pages.
func NewLiveHandler(hub *client.Hub, tokens *auth.TokenService, logger *slog.Logger) *LiveHandler {
	return &LiveHandler{
		hub:    hub,
		tokens: tokens,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
		},
		logger: logger,
	}
}

// HandleLive runs a client session until the socket closes.
//
// HTTP: GET /ws
//
// FLOW:
//  1. Read the identity from the session cookie (anonymous without one)
//  2. Pick up and clear the sign-in flash cookie, read or issue the device
//     cookie
//  3. Upgrade, start the writer goroutine and the session
//  4. Read commands and camera frames until the browser goes away
func (h *LiveHandler) HandleLive(w http.ResponseWriter, r *http.Request) {
	// An expired or forged token just means an anonymous visitor.
	id, _ := auth.FromRequest(r, h.tokens)

	var flash string
	header := http.Header{}
	if c, err := r.Cookie(FlashCookie); err == nil {
		flash = flashMessage(c.Value)
		clear := &http.Cookie{Name: FlashCookie, Value: "", Path: "/", MaxAge: -1}
		header.Add("Set-Cookie", clear.String())
	}
	device, issued := deviceID(r)
	if issued != nil {
		header.Add("Set-Cookie", issued.String())
	}

	ws, err := h.upgrader.Upgrade(w, r, header)
	if err != nil {
		// Upgrade has already written an HTTP error.
		h.logger.Warn("websocket upgrade failed", slog.String("error", err.Error()))
		return
	}

	conn := newWSConn(ws, h.logger)
	go conn.writePump()

	remote := camera.NewRemote(
		func(f camera.Facing) {
			conn.Send(client.Event{Type: client.EventCamera, Data: client.CameraRequest{Action: "open", Facing: string(f)}})
		},
		func() {
			conn.Send(client.Event{Type: client.EventCamera, Data: client.CameraRequest{Action: "close"}})
		},
		h.logger,
	)

	sess := h.hub.Connect(r.Context(), client.ConnectOptions{
		Identity: id,
		Sink:     conn,
		Device:   remote,
		DeviceID: device,
		Flash:    flash,
		OnClose:  conn.close,
	})
	defer sess.Close()

	h.readPump(conn, sess, remote)
}

// readPump blocks until the connection fails or is closed.
func (h *LiveHandler) readPump(conn *wsConn, sess *client.Session, remote *camera.Remote) {
	ws := conn.ws
	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		typ, data, err := ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				h.logger.Debug("websocket closed", slog.String("error", err.Error()))
			}
			return
		}

		switch typ {
		case websocket.BinaryMessage:
			if err := remote.Feed(data); err != nil {
				h.logger.Debug("dropping camera frame", slog.String("error", err.Error()))
			}
		case websocket.TextMessage:
			var cmd client.Command
			if err := json.Unmarshal(data, &cmd); err != nil {
				h.logger.Debug("ignoring malformed command", slog.String("error", err.Error()))
				continue
			}
			switch cmd.Type {
			case client.CmdCameraGranted:
				remote.Grant()
			case client.CmdCameraDenied:
				remote.Deny(cmd.Reason)
			default:
				sess.Dispatch(cmd)
			}
		}
	}
}

// wsConn is the session's Sink. gorilla/websocket allows one concurrent
// writer, so every write goes through writePump.
//
// Events that client.Coalesces (camera frames, loop progress) live in a
// one-slot mailbox per type, where a newer one replaces the unsent one.
// Everything else is queued in order and never dropped; a browser that lets
// maxPending of those pile up is disconnected.
type wsConn struct {
	ws     *websocket.Conn
	wake   chan struct{}
	done   chan struct{}
	once   sync.Once
	logger *slog.Logger

	mu     sync.Mutex
	queue  [][]byte
	latest map[string][]byte
}

// Mailbox types, drained in this order after the queue.
var coalescedTypes = []string{client.EventProgress, client.EventFrame}

func newWSConn(ws *websocket.Conn, logger *slog.Logger) *wsConn {
	return &wsConn{
		ws:     ws,
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
		logger: logger,
		latest: make(map[string][]byte),
	}
}

func (c *wsConn) Send(ev client.Event) {
	b, err := json.Marshal(ev)
	if err != nil {
		c.logger.Error("encoding event failed", slog.String("type", ev.Type), slog.String("error", err.Error()))
		return
	}

	select {
	case <-c.done:
		return
	default:
	}

	c.mu.Lock()
	overflow := false
	if client.Coalesces(ev.Type) {
		c.latest[ev.Type] = b
	} else if len(c.queue) < maxPending {
		c.queue = append(c.queue, b)
	} else {
		overflow = true
	}
	c.mu.Unlock()

	if overflow {
		c.logger.Warn("browser not reading, closing websocket", slog.Int("pending", maxPending))
		c.close()
		return
	}
	select {
	case c.wake <- struct{}{}:
	default:
	}
}

// next pops the next message to write: queued events first, then the
// mailboxes.
func (c *wsConn) next() ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.queue) > 0 {
		b := c.queue[0]
		c.queue[0] = nil
		c.queue = c.queue[1:]
		return b, true
	}
	for _, t := range coalescedTypes {
		if b, ok := c.latest[t]; ok {
			delete(c.latest, t)
			return b, true
		}
	}
	return nil, false
}

func (c *wsConn) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-c.wake:
			for b, ok := c.next(); ok; b, ok = c.next() {
				_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
				if err := c.ws.WriteMessage(websocket.TextMessage, b); err != nil {
					c.close()
					return
				}
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
		}
	}
}

// close stops the writer and closes the socket, which also ends readPump.
func (c *wsConn) close() {
	c.once.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}
