package ledger

import (
	"strings"

	"github.com/ferreirogomes/artmarket/models"
)

// Predicate seleciona ativos numa Query. Nil aceita tudo.
type Predicate func(models.Asset) bool

func OwnedBy(identity string) Predicate {
	return func(a models.Asset) bool { return a.Owner == identity }
}

func CreatedBy(identity string) Predicate {
	return func(a models.Asset) bool { return a.Creator == identity }
}

func ForSale() Predicate {
	return func(a models.Asset) bool { return a.ForSale }
}

// InCategory aceita a categoria informada; CategoryAll não filtra.
func InCategory(c models.Category) Predicate {
	return func(a models.Asset) bool { return c == models.CategoryAll || c == "" || a.Category == c }
}

// NameContains compara sem diferenciar maiúsculas. Texto vazio não filtra.
func NameContains(text string) Predicate {
	needle := strings.ToLower(strings.TrimSpace(text))
	return func(a models.Asset) bool {
		return needle == "" || strings.Contains(strings.ToLower(a.Name), needle)
	}
}

// All combina predicados com E lógico.
func All(preds ...Predicate) Predicate {
	return func(a models.Asset) bool {
		for _, p := range preds {
			if p != nil && !p(a) {
				return false
			}
		}
		return true
	}
}
