// Package ledger mantém os registros de ativos: quem é o dono, quem criou e o que
// está à venda. Mutações no mesmo ativo são serializadas por um mutex próprio do
// ativo; ativos distintos não disputam lock entre si.
package ledger

import (
	"iter"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/ferreirogomes/artmarket/models"
)

type entry struct {
	mu      sync.Mutex
	asset   models.Asset
	removed bool
}

// Ledger é a fonte única da verdade sobre posse e status de venda.
type Ledger struct {
	mu      sync.RWMutex
	entries map[string]*entry
	order   []*entry
	epoch   uint64

	now   func() time.Time
	newID func() string
}

// New cria um ledger vazio.
func New() *Ledger {
	return &Ledger{
		entries: make(map[string]*entry),
		now:     func() time.Time { return time.Now().UTC() },
		newID:   func() string { return uuid.Must(uuid.NewV7()).String() },
	}
}

// ValidateDraft confere os campos obrigatórios e devolve o preço já convertido.
func ValidateDraft(d models.Draft) (decimal.Decimal, error) {
	var fields []string
	if strings.TrimSpace(d.Name) == "" {
		fields = append(fields, "name")
	}
	price, err := decimal.NewFromString(strings.TrimSpace(d.Price))
	if err != nil || !price.IsPositive() {
		fields = append(fields, "price")
	}
	if !d.Category.Valid() {
		fields = append(fields, "category")
	}
	if d.Image.Empty() {
		fields = append(fields, "image")
	}
	if len(fields) > 0 {
		return decimal.Zero, &ValidationError{Fields: fields}
	}
	return price, nil
}

// Create registra um novo ativo com creator = owner = creator.
func (l *Ledger) Create(d models.Draft, creator, chainRef string) (models.Asset, error) {
	price, err := ValidateDraft(d)
	if err != nil {
		return models.Asset{}, err
	}
	if strings.TrimSpace(creator) == "" {
		return models.Asset{}, &ValidationError{Fields: []string{"creator"}}
	}

	asset := models.Asset{
		Name:        strings.TrimSpace(d.Name),
		Description: strings.TrimSpace(d.Description),
		Category:    d.Category,
		Price:       price,
		Image:       d.Image,
		Creator:     creator,
		Owner:       creator,
		ForSale:     d.List,
		ChainRef:    chainRef,
		CreatedAt:   l.now(),
	}
	asset = asset.Clone()

	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		asset.ID = l.newID()
		if _, taken := l.entries[asset.ID]; !taken {
			break
		}
	}
	e := &entry{asset: asset}
	l.entries[asset.ID] = e
	l.order = append(l.order, e)
	return asset.Clone(), nil
}

// Get devolve uma cópia do ativo.
func (l *Ledger) Get(id string) (models.Asset, bool) {
	e := l.lookup(id)
	if e == nil {
		return models.Asset{}, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return models.Asset{}, false
	}
	return e.asset.Clone(), true
}

// ListForSale coloca o ativo à venda pelo preço informado.
func (l *Ledger) ListForSale(id, actor string, price decimal.Decimal) (models.Asset, error) {
	if !price.IsPositive() {
		return models.Asset{}, &ValidationError{Fields: []string{"price"}}
	}
	return l.mutate(id, func(a *models.Asset) error {
		if a.Owner != actor {
			return ErrNotOwner
		}
		a.ForSale = true
		a.Price = price
		return nil
	})
}

// CancelListing retira o ativo da vitrine.
func (l *Ledger) CancelListing(id, actor string) (models.Asset, error) {
	return l.mutate(id, func(a *models.Asset) error {
		if a.Owner != actor {
			return ErrNotOwner
		}
		a.ForSale = false
		return nil
	})
}

// Transfer troca o dono se, e somente se, o anúncio ainda for o mesmo capturado
// no momento do pedido: à venda, do mesmo dono e pelo mesmo preço.
func (l *Ledger) Transfer(id, fromOwner, toOwner string, expectedPrice decimal.Decimal) (models.Asset, error) {
	return l.mutate(id, func(a *models.Asset) error {
		if a.Owner == toOwner {
			return ErrAlreadyOwned
		}
		if !a.ForSale || a.Owner != fromOwner || !a.Price.Equal(expectedPrice) {
			return ErrStaleListing
		}
		a.Owner = toOwner
		a.ForSale = false
		return nil
	})
}

func (l *Ledger) mutate(id string, fn func(*models.Asset) error) (models.Asset, error) {
	e := l.lookup(id)
	if e == nil {
		return models.Asset{}, ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.removed {
		return models.Asset{}, ErrNotFound
	}
	next := e.asset
	if err := fn(&next); err != nil {
		return models.Asset{}, err
	}
	next.Creator = e.asset.Creator
	e.asset = next
	return next.Clone(), nil
}

func (l *Ledger) lookup(id string) *entry {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.entries[id]
}

// Query percorre, em ordem de inserção, os ativos aceitos pelo predicado.
// Cada iteração tira um novo retrato do ledger, então a sequência pode ser reiniciada.
func (l *Ledger) Query(pred Predicate) iter.Seq[models.Asset] {
	return func(yield func(models.Asset) bool) {
		l.mu.RLock()
		entries := append([]*entry(nil), l.order...)
		l.mu.RUnlock()

		for _, e := range entries {
			e.mu.Lock()
			asset, removed := e.asset, e.removed
			e.mu.Unlock()
			if removed || (pred != nil && !pred(asset)) {
				continue
			}
			if !yield(asset.Clone()) {
				return
			}
		}
	}
}

// Snapshot devolve todos os ativos em ordem de inserção.
func (l *Ledger) Snapshot() []models.Asset {
	var out []models.Asset
	for a := range l.Query(nil) {
		out = append(out, a)
	}
	return out
}

// Len conta os ativos vivos.
func (l *Ledger) Len() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.order)
}

// Epoch muda a cada Clear ou Replace. Quem capturou uma época anterior deve descartar o trabalho.
func (l *Ledger) Epoch() uint64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.epoch
}

// Clear apaga todos os ativos ("Clear All Data").
func (l *Ledger) Clear() {
	l.replace(nil)
}

func (l *Ledger) replace(assets []models.Asset) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, e := range l.order {
		e.mu.Lock()
		e.removed = true
		e.mu.Unlock()
	}
	l.entries = make(map[string]*entry, len(assets))
	l.order = make([]*entry, 0, len(assets))
	for _, a := range assets {
		e := &entry{asset: a.Clone()}
		l.entries[a.ID] = e
		l.order = append(l.order, e)
	}
	l.epoch++
}
