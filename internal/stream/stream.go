// Package stream pushes service events to browsers over SSE
package stream

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"sync"
	"time"

	"oltscope/internal/service"
)

// keepAlive is the interval between SSE comment frames that hold idle
// connections open through proxies
const keepAlive = 30 * time.Second

// Stream fans service events out to connected SSE clients. Each event
// is sent as a named SSE event whose name is the service event type.
type Stream struct {
	mu        sync.RWMutex
	clients   map[chan []byte]struct{}
	broadcast chan service.Event
}

// New creates a new Stream
func New() *Stream {
	return &Stream{
		clients:   make(map[chan []byte]struct{}),
		broadcast: make(chan service.Event, 256),
	}
}

// Run drains the broadcast channel and fans frames out; it returns
// when Close is called
func (s *Stream) Run() {
	for event := range s.broadcast {
		data, err := json.Marshal(event.Payload)
		if err != nil {
			log.Printf("Failed to marshal %s event: %v", event.Type, err)
			continue
		}
		frame := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", event.Type, data))

		s.mu.RLock()
		for ch := range s.clients {
			select {
			case ch <- frame:
			default:
				// client is not keeping up, drop the frame for it
			}
		}
		s.mu.RUnlock()
	}
}

// Close stops the fan-out loop
func (s *Stream) Close() {
	close(s.broadcast)
}

// Broadcast queues an event for all connected clients
func (s *Stream) Broadcast(event service.Event) {
	select {
	case s.broadcast <- event:
	default:
		log.Printf("Broadcast queue full, dropping %s event", event.Type)
	}
}

// ClientCount returns the number of connected clients
func (s *Stream) ClientCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

func (s *Stream) add(ch chan []byte) {
	s.mu.Lock()
	s.clients[ch] = struct{}{}
	n := len(s.clients)
	s.mu.Unlock()
	log.Printf("SSE client connected (total: %d)", n)
}

func (s *Stream) remove(ch chan []byte) {
	s.mu.Lock()
	delete(s.clients, ch)
	n := len(s.clients)
	s.mu.Unlock()
	log.Printf("SSE client disconnected (total: %d)", n)
}

// ServeHTTP handles one SSE connection until the client goes away
func (s *Stream) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "SSE not supported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no") // Disable nginx buffering

	ch := make(chan []byte, 64)
	s.add(ch)
	defer s.remove(ch)

	fmt.Fprintf(w, ": connected\n\n")
	flusher.Flush()

	ticker := time.NewTicker(keepAlive)
	defer ticker.Stop()

	for {
		select {
		case frame := <-ch:
			if _, err := w.Write(frame); err != nil {
				return
			}
			flusher.Flush()

		case <-ticker.C:
			if _, err := fmt.Fprintf(w, ": keepalive\n\n"); err != nil {
				return
			}
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
