package handlers

import (
	"context"
	"iter"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/ferreirogomes/artmarket/ledger"
	"github.com/ferreirogomes/artmarket/models"
	"github.com/ferreirogomes/artmarket/services"
	"github.com/ferreirogomes/artmarket/session"
)

// Clearer apaga todos os ativos.
type Clearer interface {
	ClearAll(ctx context.Context) error
}

// AssetHandler lida com requisições HTTP de leitura de ativos.
type AssetHandler struct {
	Ledger  *ledger.Ledger
	Views   *services.ViewService
	Session *session.Session
	Clearer Clearer
}

// NewAssetHandler cria uma nova instância do handler de ativos.
func NewAssetHandler(l *ledger.Ledger, views *services.ViewService, sess *session.Session, c Clearer) *AssetHandler {
	return &AssetHandler{Ledger: l, Views: views, Session: sess, Clearer: c}
}

func collect(seq iter.Seq[models.Asset]) []models.Asset {
	out := []models.Asset{}
	for a := range seq {
		out = append(out, a)
	}
	return out
}

// GetAssetByID obtém um ativo pelo ID.
// GET /assets/{id}
func (h *AssetHandler) GetAssetByID(w http.ResponseWriter, r *http.Request) {
	asset, found := h.Ledger.Get(chi.URLParam(r, "id"))
	if !found {
		writeError(w, ledger.ErrNotFound)
		return
	}
	writeJSON(w, http.StatusOK, asset)
}

// GetOwned lista os NFTs do usuário conectado.
// GET /assets/owned
func (h *AssetHandler) GetOwned(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.Session.Current()
	if !ok {
		writeError(w, session.ErrNotConnected)
		return
	}
	writeJSON(w, http.StatusOK, collect(h.Views.OwnedBy(identity)))
}

// GetCreated lista os NFTs criados pelo usuário conectado, inclusive os vendidos.
// GET /assets/created
func (h *AssetHandler) GetCreated(w http.ResponseWriter, r *http.Request) {
	identity, ok := h.Session.Current()
	if !ok {
		writeError(w, session.ErrNotConnected)
		return
	}
	writeJSON(w, http.StatusOK, collect(h.Views.CreatedBy(identity)))
}

// GetMarketplace lista os ativos à venda.
// GET /marketplace?category=Painting&q=sun
func (h *AssetHandler) GetMarketplace(w http.ResponseWriter, r *http.Request) {
	category := models.CategoryAll
	if raw := r.URL.Query().Get("category"); raw != "" {
		c, ok := models.ParseCategory(raw)
		if !ok {
			writeError(w, &ledger.ValidationError{Fields: []string{"category"}})
			return
		}
		category = c
	}
	writeJSON(w, http.StatusOK, collect(h.Views.ForSale(category, r.URL.Query().Get("q"))))
}

// GetCategories devolve as categorias aceitas na criação.
// GET /categories
func (h *AssetHandler) GetCategories(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, models.Categories)
}

// ClearAll apaga todos os ativos.
// DELETE /assets
func (h *AssetHandler) ClearAll(w http.ResponseWriter, r *http.Request) {
	if err := h.Clearer.ClearAll(r.Context()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
