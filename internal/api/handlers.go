package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/dokzlo13/hubspaced/internal/accessory"
	"github.com/dokzlo13/hubspaced/internal/host"
	"github.com/dokzlo13/hubspaced/internal/ledger"
)

// StatusCommunicationFailure is the HAP status reported for accessories that
// do not respond.
const StatusCommunicationFailure = -70402

const defaultEventLimit = 50

type errorResponse struct {
	Status int    `json:"status"`
	Error  string `json:"error"`
}

type valueBody struct {
	Value any `json:"value"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		if err := json.NewEncoder(w).Encode(v); err != nil {
			log.Debug().Err(err).Msg("Failed to write response")
		}
	}
}

// writeError maps host and accessory errors to HTTP statuses.
func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, accessory.ErrNotResponding):
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Status: StatusCommunicationFailure, Error: err.Error()})
	case errors.Is(err, host.ErrUnknownAccessory), errors.Is(err, accessory.ErrUnknownCharacteristic):
		writeJSON(w, http.StatusNotFound, errorResponse{Status: http.StatusNotFound, Error: err.Error()})
	case errors.Is(err, accessory.ErrInvalidValue):
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: http.StatusBadRequest, Error: err.Error()})
	default:
		log.Error().Err(err).Msg("Request failed")
		writeJSON(w, http.StatusInternalServerError, errorResponse{Status: http.StatusInternalServerError, Error: err.Error()})
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

// handleReady reports ready once a discovery cycle has succeeded.
func (s *Server) handleReady(w http.ResponseWriter, _ *http.Request) {
	st := s.discoverer.Last()
	body := map[string]any{
		"accessories": len(s.accessories.List()),
		"discovered":  st.Ran,
	}
	switch {
	case !st.Ran:
		body["status"] = "starting"
		writeJSON(w, http.StatusServiceUnavailable, body)
	case st.Err != nil:
		body["status"] = "degraded"
		body["error"] = st.Err.Error()
		writeJSON(w, http.StatusServiceUnavailable, body)
	default:
		body["status"] = "ready"
		body["lastCycle"] = st.Result.CycleID
		writeJSON(w, http.StatusOK, body)
	}
}

func (s *Server) handleListAccessories(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.accessories.List())
}

func (s *Server) handleGetAccessory(w http.ResponseWriter, r *http.Request) {
	snap, err := s.accessories.Describe(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, snap)
}

func (s *Server) handleGetCharacteristic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c := accessory.Characteristic(chi.URLParam(r, "name"))

	v, err := s.accessories.Get(r.Context(), id, c)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, valueBody{Value: v})
}

func (s *Server) handleSetCharacteristic(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	c := accessory.Characteristic(chi.URLParam(r, "name"))

	var body valueBody
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, 4096))
	dec.UseNumber()
	if err := dec.Decode(&body); err != nil || body.Value == nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: http.StatusBadRequest, Error: "body must be {\"value\": ...}"})
		return
	}

	if err := s.accessories.Set(r.Context(), id, c, body.Value); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleDiscover(w http.ResponseWriter, r *http.Request) {
	// The cycle may be shared with other callers; a dropped client must not
	// cancel it.
	res, err := s.discoverer.Discover(context.WithoutCancel(r.Context()))
	if err != nil {
		writeJSON(w, http.StatusBadGateway, errorResponse{Status: http.StatusBadGateway, Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (s *Server) handleLastDiscovery(w http.ResponseWriter, _ *http.Request) {
	st := s.discoverer.Last()
	if !st.Ran {
		writeJSON(w, http.StatusNotFound, errorResponse{Status: http.StatusNotFound, Error: "no discovery has run yet"})
		return
	}
	body := map[string]any{"result": st.Result}
	if st.Err != nil {
		body["error"] = st.Err.Error()
	}
	writeJSON(w, http.StatusOK, body)
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []*ledger.Entry{})
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries, err := s.history.Recent(ledger.EventType(r.URL.Query().Get("type")), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func (s *Server) handleAccessoryEvents(w http.ResponseWriter, r *http.Request) {
	if s.history == nil {
		writeJSON(w, http.StatusOK, []*ledger.Entry{})
		return
	}
	limit, ok := parseLimit(w, r)
	if !ok {
		return
	}
	entries, err := s.history.ForAccessory(chi.URLParam(r, "id"), limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nonNil(entries))
}

func parseLimit(w http.ResponseWriter, r *http.Request) (int, bool) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return defaultEventLimit, true
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		writeJSON(w, http.StatusBadRequest, errorResponse{Status: http.StatusBadRequest, Error: "limit must be a positive integer"})
		return 0, false
	}
	return n, true
}

func nonNil(entries []*ledger.Entry) []*ledger.Entry {
	if entries == nil {
		return []*ledger.Entry{}
	}
	return entries
}
