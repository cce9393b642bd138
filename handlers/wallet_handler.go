package handlers

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ferreirogomes/artmarket/signer"
)

// WalletHandler é o lado HTTP da ponte com a extensão da carteira: ela busca os
// pedidos de assinatura, devolve a transação assinada e relata trocas de conta e rede.
type WalletHandler struct {
	Bridge *signer.Bridge
}

func NewWalletHandler(b *signer.Bridge) *WalletHandler {
	return &WalletHandler{Bridge: b}
}

type authorizationRequest struct {
	Accounts []string `json:"accounts"`
}

type authorizationResponse struct {
	Pending bool `json:"pending"`
}

// GetAuthorization informa se há um pedido de conexão aguardando a carteira.
// GET /wallet/authorization
func (h *WalletHandler) GetAuthorization(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, authorizationResponse{Pending: h.Bridge.AuthorizationPending()})
}

// Authorize entrega as contas liberadas pelo usuário. Lista vazia é recusa.
// POST /wallet/authorization
func (h *WalletHandler) Authorize(w http.ResponseWriter, r *http.Request) {
	var req authorizationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Bridge.ProvideAccounts(req.Accounts); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DenyAuthorization recusa o pedido de conexão.
// POST /wallet/authorization/deny
func (h *WalletHandler) DenyAuthorization(w http.ResponseWriter, r *http.Request) {
	if err := h.Bridge.DenyAuthorization(); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// GetRequests lista as transações aguardando assinatura.
// GET /wallet/requests
func (h *WalletHandler) GetRequests(w http.ResponseWriter, r *http.Request) {
	reqs := h.Bridge.Requests()
	if reqs == nil {
		reqs = []signer.SigningRequest{}
	}
	writeJSON(w, http.StatusOK, reqs)
}

type approveRequest struct {
	SignedTransaction string `json:"signed_transaction"` // base64 (Solana) ou hex (EVM)
}

// Approve envia a transação assinada pelo usuário para a rede.
// POST /wallet/requests/{id}/approve
func (h *WalletHandler) Approve(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if err := h.Bridge.Approve(chi.URLParam(r, "id"), req.SignedTransaction); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Reject registra a recusa do usuário.
// POST /wallet/requests/{id}/reject
func (h *WalletHandler) Reject(w http.ResponseWriter, r *http.Request) {
	if err := h.Bridge.Reject(chi.URLParam(r, "id")); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type walletEvent struct {
	Type     string   `json:"type"` // accountsChanged | chainChanged
	Accounts []string `json:"accounts,omitempty"`
	ChainID  string   `json:"chain_id,omitempty"`
}

// Event repassa os eventos da extensão para a sessão.
// POST /wallet/events
func (h *WalletHandler) Event(w http.ResponseWriter, r *http.Request) {
	var ev walletEvent
	if !decodeBody(w, r, &ev) {
		return
	}
	switch ev.Type {
	case "accountsChanged":
		h.Bridge.EmitAccountsChanged(ev.Accounts)
	case "chainChanged":
		h.Bridge.EmitNetworkChanged(ev.ChainID)
	default:
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "evento desconhecido: " + ev.Type})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
