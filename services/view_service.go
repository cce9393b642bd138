package services

import (
	"iter"

	"github.com/ferreirogomes/artmarket/ledger"
	"github.com/ferreirogomes/artmarket/models"
)

// ViewService deriva as telas de leitura direto do ledger, sem cache próprio.
type ViewService struct {
	Ledger *ledger.Ledger
}

func NewViewService(l *ledger.Ledger) *ViewService {
	return &ViewService{Ledger: l}
}

// Dashboard são os contadores do painel do usuário.
type Dashboard struct {
	Identity string `json:"identity"`
	Owned    int    `json:"owned"`
	Created  int    `json:"created"`
}

// OwnedBy lista os ativos cujo dono é identity.
func (v *ViewService) OwnedBy(identity string) iter.Seq[models.Asset] {
	return v.Ledger.Query(ledger.OwnedBy(identity))
}

// CreatedBy lista os ativos criados por identity, mesmo os já vendidos.
func (v *ViewService) CreatedBy(identity string) iter.Seq[models.Asset] {
	return v.Ledger.Query(ledger.CreatedBy(identity))
}

// ForSale é a vitrine: ativos à venda filtrados por categoria e por texto no nome.
func (v *ViewService) ForSale(category models.Category, search string) iter.Seq[models.Asset] {
	return v.Ledger.Query(ledger.All(ledger.ForSale(), ledger.InCategory(category), ledger.NameContains(search)))
}

// Dashboard conta os ativos do usuário numa única passada.
func (v *ViewService) Dashboard(identity string) Dashboard {
	d := Dashboard{Identity: identity}
	if identity == "" {
		return d
	}
	for a := range v.Ledger.Query(nil) {
		if a.Owner == identity {
			d.Owned++
		}
		if a.Creator == identity {
			d.Created++
		}
	}
	return d
}
