package server

import (
	"encoding/json"
	"net/http"
)

type serviceInfo struct {
	Service     string `json:"service"`
	Description string `json:"description"`
	Endpoint    string `json:"endpoint"`
}

func (s *Server) handleRoot(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(serviceInfo{
		Service:     "asr-demo",
		Description: "Streaming voice agent over websocket",
		Endpoint:    "/ws/asr",
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "UP"})
}
