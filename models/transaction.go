package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Kind é a operação pedida pelo usuário.
type Kind string

const (
	KindMint   Kind = "mint"
	KindList   Kind = "list"
	KindBuy    Kind = "buy"
	KindCancel Kind = "cancel"
)

// Valid informa se o tipo é conhecido.
func (k Kind) Valid() bool {
	switch k {
	case KindMint, KindList, KindBuy, KindCancel:
		return true
	}
	return false
}

// Status é o estado de uma transação pendente.
type Status string

const (
	StatusSubmitted            Status = "submitted"
	StatusAwaitingConfirmation Status = "awaiting-confirmation"
	StatusSettled              Status = "settled"
	StatusRejected             Status = "rejected"
	StatusFailed               Status = "failed"
)

// Terminal informa se o status não admite mais transições.
func (s Status) Terminal() bool {
	return s == StatusSettled || s == StatusRejected || s == StatusFailed
}

// Intent é um pedido do usuário ainda não confirmado.
type Intent struct {
	Kind    Kind   `json:"kind"`
	AssetID string `json:"asset_id,omitempty"` // vazio para mint
	Draft   *Draft `json:"draft,omitempty"`    // só para mint
	Price   string `json:"price,omitempty"`    // só para list
}

// PendingTransaction acompanha um Intent do envio ao estado terminal.
type PendingTransaction struct {
	ID              string          `json:"id"`
	Kind            Kind            `json:"kind"`
	AssetID         string          `json:"asset_id,omitempty"`
	Actor           string          `json:"actor"`
	Revision        uint64          `json:"revision"`
	Status          Status          `json:"status"`
	Reason          string          `json:"reason,omitempty"`
	Reference       string          `json:"reference,omitempty"`
	ExpectedPrice   decimal.Decimal `json:"expected_price"`
	CancelRequested bool            `json:"cancel_requested,omitempty"`
	SubmittedAt     time.Time       `json:"submitted_at"`
	UpdatedAt       time.Time       `json:"updated_at"`
}
