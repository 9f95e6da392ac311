package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/dmitrijs2005/ledgersync/internal/common"
	"github.com/dmitrijs2005/ledgersync/internal/server/services"
	"github.com/dmitrijs2005/ledgersync/internal/server/wire"
	"github.com/dmitrijs2005/ledgersync/internal/storepb"
	"github.com/go-chi/chi/v5"
)

const maxBodyBytes = 1 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, body storepb.ErrorBody) {
	writeJSON(w, status, body)
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: malformed body: %v", common.ErrorValidation, err)
	}
	return nil
}

// fail maps service errors onto the statuses and codes the client
// classifies.
func (s *HTTPServer) fail(ctx context.Context, w http.ResponseWriter, err error) {
	var ce *services.ConflictError
	switch {
	case errors.As(err, &ce):
		s.logger.Warn(ctx, "write conflict", "table", ce.Current.Table, "id", ce.Current.ID)
		row := wire.ToRow(ce.Current)
		writeError(w, http.StatusConflict, storepb.ErrorBody{Code: storepb.CodeConflict, Message: err.Error(), Row: &row})
	case errors.Is(err, common.ErrIdentityCollision):
		writeError(w, http.StatusConflict, storepb.ErrorBody{Code: storepb.CodeIdentityCollision, Message: err.Error()})
	case errors.Is(err, common.ErrUserAlreadyExists):
		writeError(w, http.StatusUnprocessableEntity, storepb.ErrorBody{Code: storepb.CodeValidation, Message: err.Error()})
	case errors.Is(err, common.ErrorValidation),
		errors.Is(err, common.ErrorUnknownTable),
		errors.Is(err, common.ErrUnknownProvider):
		writeError(w, http.StatusBadRequest, storepb.ErrorBody{Code: storepb.CodeValidation, Message: err.Error()})
	case errors.Is(err, common.ErrorNotFound):
		writeError(w, http.StatusNotFound, storepb.ErrorBody{Code: storepb.CodeNotFound, Message: err.Error()})
	case errors.Is(err, common.ErrInvalidCredentials),
		errors.Is(err, common.ErrInvalidToken),
		errors.Is(err, common.ErrRefreshTokenExpired),
		errors.Is(err, common.ErrorUnauthorized):
		writeError(w, http.StatusUnauthorized, storepb.ErrorBody{Code: storepb.CodeUnauthorized, Message: err.Error()})
	default:
		s.logger.Error(ctx, err.Error())
		writeError(w, http.StatusInternalServerError, storepb.ErrorBody{Code: storepb.CodeInternal, Message: "internal error"})
	}
}

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, storepb.PingResponse{Status: "OK"})
}

func (s *HTTPServer) handleSignUp(w http.ResponseWriter, r *http.Request) {
	var in storepb.RegisterRequest
	if err := decodeBody(w, r, &in); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	pair, err := s.users.Register(r.Context(), in.Username, in.Password)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	s.logger.Info(r.Context(), "Registered", "username", in.Username)
	writeJSON(w, http.StatusCreated, wire.ToTokenResponse(pair))
}

func (s *HTTPServer) handleToken(w http.ResponseWriter, r *http.Request) {
	var (
		pair *services.TokenPair
		err  error
	)
	switch grant := r.URL.Query().Get("grant_type"); grant {
	case "password":
		var in storepb.SignInRequest
		if err = decodeBody(w, r, &in); err == nil {
			pair, err = s.users.SignIn(r.Context(), in.Provider, in.Username, in.Password)
		}
	case "refresh_token":
		var in storepb.RefreshRequest
		if err = decodeBody(w, r, &in); err == nil {
			pair, err = s.users.RefreshToken(r.Context(), in.RefreshToken)
		}
	default:
		err = fmt.Errorf("%w: unsupported grant_type %q", common.ErrorValidation, grant)
	}
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.ToTokenResponse(pair))
}

func (s *HTTPServer) handleInsert(w http.ResponseWriter, r *http.Request) {
	var row storepb.Row
	if err := decodeBody(w, r, &row); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	rec, err := s.records.Insert(r.Context(), userIDFromContext(r.Context()), wire.FromRow(chi.URLParam(r, "table"), row))
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusCreated, wire.ToRow(rec))
}

func (s *HTTPServer) handleUpdate(w http.ResponseWriter, r *http.Request) {
	var patch storepb.Patch
	if err := decodeBody(w, r, &patch); err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	rec, err := s.records.Update(r.Context(), userIDFromContext(r.Context()),
		chi.URLParam(r, "table"), chi.URLParam(r, "id"), wire.FromPatch(patch))
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.ToRow(rec))
}

func (s *HTTPServer) handleSelect(w http.ResponseWriter, r *http.Request) {
	includeDeleted := false
	if v := r.URL.Query().Get("include_deleted"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			s.fail(r.Context(), w, fmt.Errorf("%w: include_deleted: %v", common.ErrorValidation, err))
			return
		}
		includeDeleted = b
	}
	recs, err := s.records.List(r.Context(), userIDFromContext(r.Context()), chi.URLParam(r, "table"), includeDeleted)
	if err != nil {
		s.fail(r.Context(), w, err)
		return
	}
	writeJSON(w, http.StatusOK, wire.ToRows(recs))
}
