package handlers

import (
	"net/http"

	"github.com/ferreirogomes/artmarket/services"
	"github.com/ferreirogomes/artmarket/session"
)

// UserHandler lida com a sessão do usuário e o painel.
type UserHandler struct {
	Session *session.Session
	Views   *services.ViewService
}

// NewUserHandler cria uma nova instância do handler de usuários.
func NewUserHandler(sess *session.Session, views *services.ViewService) *UserHandler {
	return &UserHandler{Session: sess, Views: views}
}

// Connect abre a sessão por carteira, credenciais ou provedor social.
// Pela carteira, a resposta só sai quando a extensão decide em /wallet/authorization.
// POST /session/connect
func (h *UserHandler) Connect(w http.ResponseWriter, r *http.Request) {
	var req session.Request
	if !decodeBody(w, r, &req) {
		return
	}
	st, err := h.Session.Connect(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// Disconnect encerra a sessão.
// POST /session/disconnect
func (h *UserHandler) Disconnect(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Session.Disconnect())
}

// GetSession devolve a identidade atual.
// GET /session
func (h *UserHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.Session.State())
}

// GetDashboard conta os ativos possuídos e criados pelo usuário conectado.
// GET /dashboard
func (h *UserHandler) GetDashboard(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.Session.Current()
	if !ok {
		writeError(w, session.ErrNotConnected)
		return
	}
	writeJSON(w, http.StatusOK, h.Views.Dashboard(identity))
}
