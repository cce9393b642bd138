// Package mock oferece uma carteira roteirizada para testes: cada submissão fica
// parada até o teste aprovar, recusar ou liquidar.
package mock

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ferreirogomes/artmarket/signer"
)

// Call é uma submissão recebida pela carteira.
type Call struct {
	Payload signer.Payload
	Ref     signer.Reference

	submit chan error
	settle chan error
}

// Approve faz a carteira devolver a referência.
func (c *Call) Approve() { c.submit <- nil }

// Fail faz SubmitTransaction falhar com err.
func (c *Call) Fail(err error) { c.submit <- err }

// Settle entrega o sinal de liquidação. Nil significa confirmada.
func (c *Call) Settle(err error) { c.settle <- err }

// Signer implementa signer.Signer.
type Signer struct {
	Account    string
	AuthErr    error
	OnChain    bool
	SubmitErr  error // devolvido na hora, sem criar Call
	AutoSettle bool  // AwaitSettlement confirma sem esperar Settle

	mu        sync.Mutex
	seq       int
	calls     map[string]*Call
	pending   chan *Call
	listeners []signer.Listener
}

func New(account string) *Signer {
	return &Signer{
		Account: account,
		calls:   make(map[string]*Call),
		pending: make(chan *Call, 64),
	}
}

func (s *Signer) RequestAuthorization(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Account, s.AuthErr
}

func (s *Signer) SubmitTransaction(ctx context.Context, p signer.Payload) (signer.Reference, error) {
	s.mu.Lock()
	if s.SubmitErr != nil {
		err := s.SubmitErr
		s.mu.Unlock()
		return signer.Reference{}, err
	}
	s.seq++
	c := &Call{
		Payload: p,
		Ref:     signer.Reference{ID: fmt.Sprintf("mock-%d", s.seq), OnChain: s.OnChain},
		submit:  make(chan error, 1),
		settle:  make(chan error, 4),
	}
	s.calls[c.Ref.ID] = c
	s.mu.Unlock()
	s.pending <- c

	select {
	case err := <-c.submit:
		if err != nil {
			return signer.Reference{}, err
		}
		return c.Ref, nil
	case <-ctx.Done():
		return signer.Reference{}, ctx.Err()
	}
}

func (s *Signer) AwaitSettlement(ctx context.Context, ref signer.Reference) error {
	s.mu.Lock()
	c, ok := s.calls[ref.ID]
	auto := s.AutoSettle
	s.mu.Unlock()
	if !ok {
		return signer.ErrTransportError
	}
	if auto {
		return nil
	}
	select {
	case err := <-c.settle:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (s *Signer) Subscribe(l signer.Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
	i := len(s.listeners) - 1
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.listeners[i] = signer.Listener{}
	}
}

// SwitchAccount simula o evento accountsChanged.
func (s *Signer) SwitchAccount(accounts ...string) {
	s.mu.Lock()
	ls := append([]signer.Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range ls {
		if l.OnAccountsChanged != nil {
			l.OnAccountsChanged(accounts)
		}
	}
}

// SwitchNetwork simula o evento chainChanged.
func (s *Signer) SwitchNetwork(chainID string) {
	s.mu.Lock()
	ls := append([]signer.Listener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range ls {
		if l.OnNetworkChanged != nil {
			l.OnNetworkChanged(chainID)
		}
	}
}

// Submissions conta as chamadas a SubmitTransaction que criaram Call.
func (s *Signer) Submissions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.seq
}

// Next espera a próxima submissão ou falha o teste.
func (s *Signer) Next(t testing.TB) *Call {
	t.Helper()
	select {
	case c := <-s.pending:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("nenhuma transação submetida à carteira")
		return nil
	}
}
