package http

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"

	"quizroom-service/internal/app"
	"quizroom-service/internal/domain"
)

// RoomsHandler exposes room creation; everything after creation flows over the
// websocket.
type RoomsHandler struct {
	service *app.RoomService
}

func NewRoomsHandler(service *app.RoomService) *RoomsHandler {
	return &RoomsHandler{service: service}
}

type createRoomRequest struct {
	HostID          string `json:"hostId"`
	HostName        string `json:"hostName"`
	HostAvatar      string `json:"hostAvatar,omitempty"`
	HostScope       string `json:"hostScope,omitempty"`
	BankID          string `json:"bankId"`
	Subject         string `json:"subject,omitempty"`
	Grade           string `json:"grade,omitempty"`
	TimePerQuestion int    `json:"timePerQuestion,omitempty"`
	ScopeID         string `json:"scopeId,omitempty"`
}

func (h *RoomsHandler) CreateRoom(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req createRoomRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.HostID == "" || req.HostName == "" || req.BankID == "" {
		http.Error(w, "missing hostId, hostName, or bankId", http.StatusBadRequest)
		return
	}

	host := domain.Identity{
		ID:        req.HostID,
		Name:      req.HostName,
		AvatarRef: req.HostAvatar,
		Scope:     req.HostScope,
	}
	state, err := h.service.CreateRoom(r.Context(), host, app.RoomSpec{
		BankID:          req.BankID,
		Subject:         req.Subject,
		Grade:           req.Grade,
		TimePerQuestion: req.TimePerQuestion,
		ScopeID:         req.ScopeID,
	})
	if err != nil {
		log.Error().Err(err).Str("bank", req.BankID).Msg("room creation failed")
		http.Error(w, err.Error(), statusFromError(err))
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	_ = json.NewEncoder(w).Encode(state)
}
