package server

import (
	"encoding/json"
	"net/http"
)

// handleOrder serves the last successful order as JSON.
func (s *Server) handleOrder(w http.ResponseWriter, r *http.Request) {
	s.mu.RLock()
	result := s.cached
	s.mu.RUnlock()

	if result == nil {
		http.Error(w, "history not scanned yet", http.StatusServiceUnavailable)
		return
	}
	writeJSON(w, result)
}

// handleRepository serves repository metadata. Used for initial page load and debugging.
func (s *Server) handleRepository(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]interface{}{
		"name":   s.repo.Name(),
		"gitDir": s.repo.GitDir(),
	})
}

// handleWebSocket sends a client the current order, registers it for
// updates, then waits for it to disconnect.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade error", "err", err)
		return
	}

	c := &client{conn: conn}

	// Sending the snapshot and registering under the read lock means any
	// newer order is cached after registration and reaches c as a broadcast.
	s.mu.RLock()
	initial := s.cached
	if initial != nil {
		if err := c.send(UpdateMessage{Type: MessageTypeOrder, Data: initial}); err != nil {
			s.mu.RUnlock()
			s.logger.Debug("error sending initial state", "err", err)
			conn.Close()
			return
		}
	}
	total := s.addClient(c)
	s.mu.RUnlock()
	s.logger.Debug("websocket client connected", "clients", total)

	// Reads only detect disconnection; clients never send anything useful.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			total = s.removeClient(c)
			s.logger.Debug("websocket client disconnected", "clients", total)
			return
		}
	}
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, "Failed to encode response", http.StatusInternalServerError)
	}
}
