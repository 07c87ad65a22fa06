package api

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
)

const (
	logPollInterval = 200 * time.Millisecond
	wsWriteTimeout  = 5 * time.Second
	wsPingInterval  = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StreamJobLogs sends a job's log lines as text frames, starting at the
// optional ?offset= line, and closes with the job's final status once the
// job is done and every line has been delivered.
func (s *Server) StreamJobLogs(w http.ResponseWriter, r *http.Request) {
	job := s.Jobs.Get(chi.URLParam(r, "id"))
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}
	offset := 0
	if v := r.URL.Query().Get("offset"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			http.Error(w, "offset must be a non-negative integer", http.StatusBadRequest)
			return
		}
		offset = n
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger().Debug("websocket upgrade failed", "job", job.ID, "error", err)
		return
	}
	defer conn.Close()

	// Drain client frames so a closed browser tab ends the stream.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.NextReader(); err != nil {
				return
			}
		}
	}()

	poll := time.NewTicker(logPollInterval)
	defer poll.Stop()
	ping := time.NewTicker(wsPingInterval)
	defer ping.Stop()

	send := func(msgType int, data []byte) bool {
		conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
		return conn.WriteMessage(msgType, data) == nil
	}

	for {
		select {
		case <-r.Context().Done():
			return
		case <-gone:
			return
		case <-ping.C:
			if !send(websocket.PingMessage, nil) {
				return
			}
		case <-poll.C:
			finished := job.Done()
			lines := job.LogsSince(offset)
			for _, line := range lines {
				if !send(websocket.TextMessage, []byte(line)) {
					return
				}
				offset++
			}
			if finished && len(lines) == 0 {
				send(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, job.CurrentStatus()))
				return
			}
		}
	}
}
