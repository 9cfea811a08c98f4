package handlers

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/cbodonnell/herosync/pkg/game"
	"github.com/cbodonnell/herosync/pkg/log"
	"github.com/cbodonnell/herosync/pkg/messages"
	"github.com/cbodonnell/herosync/pkg/repositories"
	"github.com/cbodonnell/herosync/pkg/state"
)

// MaxSyncBodySize bounds the body of POST /sync
const MaxSyncBodySize = messages.MessageBufferSize

// HandleGetSync returns the current snapshot.
func HandleGetSync(store state.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeSync(w, http.StatusOK, &messages.SyncResponse{
			Success: true,
			Data:    store.Snapshot(),
		})
	}
}

// HandlePostSync applies an action and returns the snapshot taken after it.
func HandlePostSync(store state.Store, dispatcher *game.Dispatcher) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		req := &messages.SyncRequest{}
		if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxSyncBodySize)).Decode(req); err != nil {
			writeSync(w, http.StatusBadRequest, &messages.SyncResponse{Error: "invalid request body"})
			return
		}

		result, err := dispatcher.Dispatch(req.Action, req.Payload)
		if err != nil {
			status := http.StatusConflict
			if game.IsClientError(err) {
				status = http.StatusBadRequest
			}
			log.Debug("Rejected %s: %v", req.Action, err)
			writeSync(w, status, &messages.SyncResponse{Error: err.Error()})
			return
		}

		writeSync(w, http.StatusOK, &messages.SyncResponse{
			Success: true,
			Data:    store.Snapshot(),
			Battle:  result.Battle,
			Match:   result.Match,
		})
	}
}

// HandleSyncOptions answers CORS preflight requests.
func HandleSyncOptions() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}
}

type healthResponse struct {
	Status string      `json:"status"`
	Stats  state.Stats `json:"stats"`
}

func HandleHealth(store state.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(healthResponse{Status: "ok", Stats: store.Stats()}); err != nil {
			log.Error("failed to encode health response: %v", err)
		}
	}
}

// HandleListResults lists recorded battle results, newest first.
func HandleListResults(repository repositories.ResultRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := 50
		if raw := r.URL.Query().Get("limit"); raw != "" {
			parsed, err := strconv.Atoi(raw)
			if err != nil || parsed < 0 {
				http.Error(w, "Invalid limit", http.StatusBadRequest)
				return
			}
			limit = parsed
		}

		results, err := repository.ListResults(r.Context(), limit)
		if err != nil {
			log.Error("failed to list results: %v", err)
			http.Error(w, "Failed to list results", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(results); err != nil {
			log.Error("failed to encode results: %v", err)
			http.Error(w, "Failed to encode results", http.StatusInternalServerError)
			return
		}
	}
}

func writeSync(w http.ResponseWriter, status int, resp *messages.SyncResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		log.Error("failed to encode sync response: %v", err)
	}
}
