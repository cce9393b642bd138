package ledger

import (
	"strings"

	"github.com/cockroachdb/errors"
)

var (
	ErrNotFound     = errors.New("ativo não encontrado")
	ErrNotOwner     = errors.New("o ator não é o dono do ativo")
	ErrAlreadyOwned = errors.New("o comprador já é o dono do ativo")
	ErrStaleListing = errors.New("anúncio desatualizado")
	ErrValidation   = errors.New("dados do ativo inválidos")
)

// ValidationError lista os campos ausentes ou inválidos de um rascunho.
type ValidationError struct {
	Fields []string
}

func (e *ValidationError) Error() string {
	return "campos inválidos: " + strings.Join(e.Fields, ", ")
}

func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}
