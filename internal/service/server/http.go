package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/model"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/service/relay"
	"github.com/AhmedAmineBejaoui/chat-e2ee/internal/utils/log"

	"go.uber.org/zap"
)

type (
	sharePublicKeyRequest struct {
		AESKey    string `json:"aesKey"`
		PublicKey string `json:"publicKey"`
		Sender    string `json:"sender"`
		Channel   string `json:"channel"`
	}

	groupPublicKeysResponse struct {
		PublicKeys map[string]*model.PublicKeyResponse `json:"publicKeys"`
		Members    []string                            `json:"members"`
	}

	channelUser struct {
		UUID string `json:"uuid"`
	}

	usersInChannelResponse struct {
		Users      []channelUser     `json:"users"`
		Count      int               `json:"count"`
		Mode       model.ChannelMode `json:"mode"`
		MaxMembers int               `json:"maxMembers"`
	}

	channelInfoResponse struct {
		ChannelID   string            `json:"channelId"`
		Mode        model.ChannelMode `json:"mode"`
		MemberCount int               `json:"memberCount"`
		Members     []string          `json:"members"`
		MaxMembers  int               `json:"maxMembers"`
	}
)

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func (s *HttpServer) HandleMessage() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req model.MessageRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Malformed body"})
			return
		}

		res, err := s.relay.SendMessage(r.Context(), &req)
		if err != nil {
			s.writeRelayError(w, err)
			return
		}

		resp := &model.MessageResponse{
			Message:   "message sent",
			ID:        res.ID,
			Timestamp: res.Timestamp,
		}
		if res.Group {
			resp.DeliveredTo = &res.DeliveredTo
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *HttpServer) writeRelayError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, relay.ErrEmptyMessage):
		writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Message content missing"})
	case errors.Is(err, relay.ErrChannelNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, relay.ErrPermissionDenied):
		writeJSON(w, http.StatusUnauthorized, map[string]string{"error": "Permission denied"})
	case errors.Is(err, relay.ErrNoRecipients):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "No other members in the group"})
	case errors.Is(err, relay.ErrReceiverUnavailable):
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"message": "Receiver is not connected"})
	case errors.Is(err, relay.ErrNotGroupChannel):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "Not a group channel"})
	default:
		log.Error("relay failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
	}
}

func (s *HttpServer) HandleSharePublicKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req sharePublicKeyRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"message": "Malformed body"})
			return
		}

		err := s.relay.SharePublicKey(r.Context(), &model.KeyExchangeRecord{
			Channel:   req.Channel,
			User:      req.Sender,
			PublicKey: req.PublicKey,
			AESKey:    req.AESKey,
		})
		if err != nil {
			s.writeRelayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func (s *HttpServer) HandleGetPublicKey() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		channel := r.URL.Query().Get("channel")

		resp, err := s.relay.GetPublicKey(r.Context(), channel, userID)
		if err != nil {
			s.writeRelayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *HttpServer) HandleGetGroupPublicKeys() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("userId")
		channel := r.URL.Query().Get("channel")

		publicKeys, members, err := s.relay.GetGroupPublicKeys(r.Context(), channel, userID)
		if err != nil {
			s.writeRelayError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, &groupPublicKeysResponse{
			PublicKeys: publicKeys,
			Members:    members,
		})
	}
}

func (s *HttpServer) HandleUsersInChannel() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := r.URL.Query().Get("channel")
		if !s.validateChannel(w, r, channel) {
			return
		}

		members := s.registry.MembersOf(channel)
		users := make([]channelUser, 0, len(members))
		for _, id := range members {
			users = append(users, channelUser{UUID: id})
		}
		mode := s.registry.ModeOf(channel)

		writeJSON(w, http.StatusOK, &usersInChannelResponse{
			Users:      users,
			Count:      len(users),
			Mode:       mode,
			MaxMembers: mode.MaxMembers(),
		})
	}
}

func (s *HttpServer) HandleChannelInfo() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		channel := r.URL.Query().Get("channel")
		if !s.validateChannel(w, r, channel) {
			return
		}

		mode := s.registry.ModeOf(channel)
		members := s.registry.MembersOf(channel)

		writeJSON(w, http.StatusOK, &channelInfoResponse{
			ChannelID:   channel,
			Mode:        mode,
			MemberCount: len(members),
			Members:     members,
			MaxMembers:  mode.MaxMembers(),
		})
	}
}

func (s *HttpServer) validateChannel(w http.ResponseWriter, r *http.Request, channel string) bool {
	valid, err := s.relay.ValidateChannel(r.Context(), channel)
	if err != nil {
		log.Error("channel validation failed", zap.Error(err))
		w.WriteHeader(http.StatusInternalServerError)
		return false
	}
	if !valid {
		w.WriteHeader(http.StatusNotFound)
		return false
	}
	return true
}
