package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ferreirogomes/artmarket/models"
	"github.com/ferreirogomes/artmarket/services"
)

// IntentHandler recebe as intenções do usuário e expõe o estado das pendentes.
type IntentHandler struct {
	Service *services.TransactionService
}

func NewIntentHandler(s *services.TransactionService) *IntentHandler {
	return &IntentHandler{Service: s}
}

// Submit registra uma intenção. A resposta é 202: a liquidação é assíncrona.
// POST /intents
func (h *IntentHandler) Submit(w http.ResponseWriter, r *http.Request) {
	var in models.Intent
	if !decodeBody(w, r, &in) {
		return
	}
	tx, err := h.Service.Submit(r.Context(), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, tx)
}

// GET /intents
func (h *IntentHandler) List(w http.ResponseWriter, r *http.Request) {
	txs := h.Service.List()
	if txs == nil {
		txs = []models.PendingTransaction{}
	}
	writeJSON(w, http.StatusOK, txs)
}

// GET /intents/{id}
func (h *IntentHandler) Get(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Service.Status(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}

// Cancel pede o cancelamento. Depois da assinatura só marca o pedido.
// POST /intents/{id}/cancel
func (h *IntentHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	tx, err := h.Service.Cancel(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tx)
}
