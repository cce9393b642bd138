package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ferreirogomes/artmarket/ledger"
	"github.com/ferreirogomes/artmarket/services"
	"github.com/ferreirogomes/artmarket/session"
	"github.com/ferreirogomes/artmarket/signer"
)

type errorResponse struct {
	Error  string   `json:"error"`
	Fields []string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Falha ao escrever resposta")
	}
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "corpo inválido: " + err.Error()})
		return false
	}
	return true
}

// statusOf traduz os erros do domínio em status HTTP. A causa mais específica vence.
func statusOf(err error) int {
	switch {
	case errors.Is(err, session.ErrNotConnected):
		return http.StatusUnauthorized
	case errors.IsAny(err, ledger.ErrNotOwner, session.ErrAuthorizationDenied):
		return http.StatusForbidden
	case errors.IsAny(err, ledger.ErrStaleListing, ledger.ErrAlreadyOwned,
		services.ErrDuplicatePending, services.ErrNotCancellable, services.ErrSessionChanged, signer.ErrNoAuthorizationWaiter):
		return http.StatusConflict
	case errors.IsAny(err, ledger.ErrNotFound, services.ErrPendingNotFound, signer.ErrUnknownRequest):
		return http.StatusNotFound
	case errors.Is(err, services.ErrRateLimited):
		return http.StatusTooManyRequests
	case errors.IsAny(err, ledger.ErrValidation, services.ErrInvalidIntent,
		session.ErrInvalidIdentity, session.ErrMissingCredentials):
		return http.StatusBadRequest
	case errors.Is(err, signer.ErrSignerUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, signer.ErrTransportError):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, err error) {
	status := statusOf(err)
	resp := errorResponse{Error: err.Error()}
	var verr *ledger.ValidationError
	if errors.As(err, &verr) {
		resp.Fields = verr.Fields
	}
	if status == http.StatusInternalServerError {
		log.WithError(err).Error("Erro inesperado")
	}
	writeJSON(w, status, resp)
}
