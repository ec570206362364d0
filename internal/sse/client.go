package sse

import (
	"context"
	"net/http"
	"time"
)

const (
	// Time between keepalive comments
	pingPeriod = 15 * time.Second

	// Buffer size for outgoing messages
	sendBufferSize = 64
)

// Client represents a connected SSE client
type Client struct {
	send        chan []byte
	connectedAt time.Time
}

// NewClient creates a new SSE client
func NewClient() *Client {
	return &Client{
		send:        make(chan []byte, sendBufferSize),
		connectedAt: time.Now(),
	}
}

// Backlog returns the frames a new client should see before live events.
// done reports that the game has finished and no live events will follow.
type Backlog func(ctx context.Context) (frames [][]byte, done bool, err error)

// ServeSSE streams a game to the client. The client is registered before
// the backlog is read so no event falls in between; an event may then be
// sent twice and clients should skip ids they have already seen.
func ServeSSE(w http.ResponseWriter, r *http.Request, hubs *HubManager, hub *Hub, backlog Backlog) {
	// Check if SSE is supported
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	client := NewClient()
	for !hub.Register(client) {
		// the janitor closed the hub between lookup and registration
		hub = hubs.GetOrCreateHub(hub.gameID)
	}
	defer hub.Unregister(client)

	// Streams outlive the server's write timeout
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	// Set SSE headers
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering
	w.WriteHeader(http.StatusOK)

	frames, done, err := backlog(r.Context())
	if err != nil {
		_, _ = w.Write(formatSSEMessage("", "error", err.Error()))
		flusher.Flush()
		return
	}
	for _, frame := range frames {
		if _, err := w.Write(frame); err != nil {
			return
		}
	}
	flusher.Flush()
	if done {
		return
	}

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-client.send:
			if !ok {
				// Hub closed the channel
				return
			}
			if _, err := w.Write(message); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := w.Write([]byte(": keepalive\n\n")); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			// Client disconnected
			return
		}
	}
}
