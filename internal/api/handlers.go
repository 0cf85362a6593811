package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/npezzotti/go-roomcast/internal/server"
	"github.com/npezzotti/go-roomcast/internal/types"
)

const maxBroadcastBody = 1 << 20

func (s *RoomcastApp) writeJson(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if v == nil {
		return
	}

	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Printf("json encode: %v", err)
	}
}

func (s *RoomcastApp) broadcastError(w http.ResponseWriter, statusCode int, msg string) {
	s.writeJson(w, statusCode, types.BroadcastResponse{
		Success: false,
		Error:   msg,
	})
}

func (s *RoomcastApp) broadcast(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}

	var req types.BroadcastRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBroadcastBody)).Decode(&req); err != nil {
		s.log.Printf("decode broadcast request: %v", err)
		s.broadcastError(w, http.StatusInternalServerError, err.Error())
		return
	}

	if req.EventType == "" {
		s.broadcastError(w, http.StatusBadRequest, "Missing eventType")
		return
	}

	projectId := r.PathValue("projectId")
	n, err := s.bc.Broadcast(r.Context(), projectId, req)
	if err != nil {
		s.log.Printf("broadcast %s to %q: %v", req.EventType, projectId, err)
		status := http.StatusInternalServerError
		if errors.Is(err, server.ErrShuttingDown) {
			status = http.StatusServiceUnavailable
		}
		s.broadcastError(w, status, err.Error())
		return
	}

	s.writeJson(w, http.StatusOK, types.BroadcastResponse{
		Success:    true,
		Message:    "Broadcast sent",
		Recipients: &n,
	})
}

func (s *RoomcastApp) serveWs(w http.ResponseWriter, r *http.Request) {
	projectId := r.PathValue("projectId")
	if projectId == "" {
		errResp := NewBadRequestError()
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	q := r.URL.Query()
	user := types.User{
		Id:   q.Get("userId"),
		Name: q.Get("userName"),
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Println("error upgrading connection:", err)
		return
	}

	client, err := server.NewClient(user, conn, s.log)
	if err != nil {
		s.log.Println("new client:", err)
		conn.Close()
		return
	}

	if err := s.bc.Connect(projectId, client); err != nil {
		s.log.Printf("connect to %q: %v", projectId, err)
		conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseTryAgainLater, err.Error()))
		conn.Close()
		return
	}

	go client.Write()
	go client.Read()
}

func (s *RoomcastApp) roomStats(w http.ResponseWriter, r *http.Request) {
	st, err := s.bc.RoomStats(r.Context(), r.PathValue("projectId"))
	if err != nil {
		errResp := NewInternalServerError(err)
		s.writeJson(w, errResp.StatusCode, errResp)
		return
	}

	s.writeJson(w, http.StatusOK, st)
}

func (s *RoomcastApp) healthCheck(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}
