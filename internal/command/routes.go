package command

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ziadkadry99/relaybot/internal/store"
)

// RegisterRoutes mounts the conversation inspection endpoint. The stored
// state blob is decoded before it goes out, so callers see the settings
// themselves rather than an opaque byte string.
func RegisterRoutes(r chi.Router, st store.Store) {
	r.Get("/api/conversations/{id}", handleGetConversation(st))
}

func handleGetConversation(st store.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")

		conv, err := st.GetConversation(r.Context(), id)
		if err != nil {
			if errors.Is(err, store.ErrNotFound) {
				http.Error(w, "conversation not found", http.StatusNotFound)
				return
			}
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		state, err := DecodeState(conv.Data)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}

		resp := struct {
			ConversationID string
			Version        int64
			State          *State
		}{
			ConversationID: conv.ConversationID,
			Version:        conv.Version,
			State:          state,
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
