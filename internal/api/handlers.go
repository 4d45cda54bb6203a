package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/rs/zerolog"

	"github.com/lexiqai/voice-relay/internal/errx"
	"github.com/lexiqai/voice-relay/internal/relay"
	"github.com/lexiqai/voice-relay/internal/resilience"
)

const tagBadRequest = "badRequest"

func (s *Server) handleIntro(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.relay.Intro(r.Context(), req.ClientID)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTurn(resp))
}

func (s *Server) handleReply(w http.ResponseWriter, r *http.Request) {
	var req replyRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.relay.Reply(r.Context(), req.ClientID, req.Text, req.Speaking)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, replyResponse{turnResponse: toTurn(resp), Interrupt: resp.Interrupt})
}

func (s *Server) handleAdjacent(w http.ResponseWriter, r *http.Request) {
	var req adjacentRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	resp, err := s.relay.Adjacent(r.Context(), req.ClientID, req.Prefix, req.Speaking)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTurn(resp))
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	var req clientRequest
	if err := decodeBody(w, r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}

	if err := s.relay.Reset(r.Context(), req.ClientID); err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, okResponse{OK: true})
}

func (s *Server) handlePing(w http.ResponseWriter, r *http.Request) {
	res, err := s.relay.Ping(r.Context(), r.URL.Query().Get("clientId"))
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, pingResponse{
		OK:          true,
		TS:          res.TS.Unix(),
		IntroSent:   res.IntroSent,
		LastSpeaker: string(res.LastSpeaker),
	})
}

func (s *Server) handleTestLLM(w http.ResponseWriter, r *http.Request) {
	if s.model == nil {
		writeJSON(w, http.StatusServiceUnavailable, probeResponse{OK: false, Error: "no language model configured"})
		return
	}
	if err := s.model.Probe(r.Context()); err != nil {
		zerolog.Ctx(r.Context()).Warn().Err(err).Str("provider", s.model.Name()).Msg("Language model probe failed")
		msg := err.Error()
		if len(msg) > 200 {
			msg = msg[:200]
		}
		writeJSON(w, http.StatusInternalServerError, probeResponse{OK: false, Provider: s.model.Name(), Error: msg})
		return
	}
	if s.breaker != nil && s.breaker.GetState() != resilience.StateClosed {
		zerolog.Ctx(r.Context()).Info().Str("provider", s.model.Name()).Msg("Language model probe succeeded; closing circuit")
		s.breaker.Reset()
	}
	writeJSON(w, http.StatusOK, probeResponse{OK: true, Provider: s.model.Name()})
}

// decodeBody reads an optional JSON body. An empty body decodes to the zero value.
func decodeBody(w http.ResponseWriter, r *http.Request, v interface{}) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return errx.BadRequest(err, tagBadRequest)
	}
	return nil
}

func toTurn(resp relay.Response) turnResponse {
	return turnResponse{
		Reply:    resp.Reply,
		Audio:    resp.Audio,
		TTSError: resp.TTSError,
		Dbg:      resp.Dbg,
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errx.StatusOf(err)
	logger := zerolog.Ctx(r.Context())
	if status >= http.StatusInternalServerError {
		logger.Error().Err(err).Str("path", r.URL.Path).Msg("Request failed")
	} else {
		logger.Debug().Err(err).Str("path", r.URL.Path).Msg("Request rejected")
	}
	writeJSON(w, status, errorResponse{
		turnResponse: turnResponse{Dbg: errx.TagOf(err)},
		Error:        strings.TrimSpace(errx.MessageOf(err)),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
