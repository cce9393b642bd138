package signer

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
)

var (
	ErrUnknownRequest        = errors.New("pedido de assinatura desconhecido")
	ErrNoAuthorizationWaiter = errors.New("nenhum pedido de autorização em aberto")
)

// Broadcaster envia o artefato assinado pela carteira e consulta sua confirmação.
type Broadcaster interface {
	Broadcast(ctx context.Context, p Payload, signed string) (Reference, error)
	// Confirm devolve true quando a transação está confirmada e erro quando ela
	// falhou de vez. (false, nil) significa ainda pendente.
	Confirm(ctx context.Context, ref Reference) (bool, error)
}

// SigningRequest é uma transação aguardando a decisão do usuário na carteira.
type SigningRequest struct {
	ID        string    `json:"id"`
	Payload   Payload   `json:"payload"`
	CreatedAt time.Time `json:"created_at"`
}

type decision struct {
	signed string
	err    error
}

type openRequest struct {
	req SigningRequest
	ch  chan decision
}

type authDecision struct {
	identity string
	err      error
}

// Bridge retransmite pedidos entre o núcleo e a carteira do navegador pela API
// HTTP: o front busca os pedidos abertos, assina na carteira e devolve o artefato.
type Bridge struct {
	broadcaster  Broadcaster
	pollInterval time.Duration

	mu        sync.Mutex
	auth      []chan authDecision
	open      map[string]*openRequest
	order     []string
	listeners map[int]Listener
	nextID    int
}

// NewBridge cria a ponte. Sem broadcaster a ponte recusa transações com ErrSignerUnavailable.
func NewBridge(b Broadcaster, pollInterval time.Duration) *Bridge {
	if pollInterval <= 0 {
		pollInterval = 2 * time.Second
	}
	return &Bridge{
		broadcaster:  b,
		pollInterval: pollInterval,
		open:         make(map[string]*openRequest),
		listeners:    make(map[int]Listener),
	}
}

// RequestAuthorization espera o front responder com ProvideAccounts ou DenyAuthorization.
func (b *Bridge) RequestAuthorization(ctx context.Context) (string, error) {
	ch := make(chan authDecision, 1)
	b.mu.Lock()
	b.auth = append(b.auth, ch)
	b.mu.Unlock()

	select {
	case d := <-ch:
		return d.identity, d.err
	case <-ctx.Done():
		b.mu.Lock()
		for i, c := range b.auth {
			if c == ch {
				b.auth = append(b.auth[:i], b.auth[i+1:]...)
				break
			}
		}
		b.mu.Unlock()
		return "", ctx.Err()
	}
}

// AuthorizationPending informa se alguém espera a carteira liberar contas.
func (b *Bridge) AuthorizationPending() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.auth) > 0
}

// ProvideAccounts responde aos pedidos de autorização abertos com a primeira conta.
func (b *Bridge) ProvideAccounts(accounts []string) error {
	if len(accounts) == 0 {
		return b.resolveAuth(authDecision{err: errors.Wrap(ErrUserRejected, "carteira não liberou contas")})
	}
	return b.resolveAuth(authDecision{identity: accounts[0]})
}

// DenyAuthorization recusa os pedidos de autorização abertos.
func (b *Bridge) DenyAuthorization() error {
	return b.resolveAuth(authDecision{err: ErrUserRejected})
}

func (b *Bridge) resolveAuth(d authDecision) error {
	b.mu.Lock()
	waiters := b.auth
	b.auth = nil
	b.mu.Unlock()
	if len(waiters) == 0 {
		return ErrNoAuthorizationWaiter
	}
	for _, ch := range waiters {
		ch <- d
	}
	return nil
}

// SubmitTransaction publica um pedido de assinatura e suspende até o usuário decidir.
func (b *Bridge) SubmitTransaction(ctx context.Context, p Payload) (Reference, error) {
	if b.broadcaster == nil {
		return Reference{}, ErrSignerUnavailable
	}
	r := &openRequest{
		req: SigningRequest{ID: uuid.New().String(), Payload: p, CreatedAt: time.Now().UTC()},
		ch:  make(chan decision, 1),
	}
	b.mu.Lock()
	b.open[r.req.ID] = r
	b.order = append(b.order, r.req.ID)
	b.mu.Unlock()
	defer b.drop(r.req.ID)

	log.WithFields(log.Fields{"request_id": r.req.ID, "kind": p.Kind, "asset_id": p.AssetID}).
		Info("Pedido de assinatura aguardando a carteira")

	var d decision
	select {
	case d = <-r.ch:
	case <-ctx.Done():
		return Reference{}, ctx.Err()
	}
	if d.err != nil {
		return Reference{}, d.err
	}

	ref, err := b.broadcaster.Broadcast(ctx, p, d.signed)
	if err != nil {
		return Reference{}, Classify(errors.Wrap(err, "falha ao transmitir transação assinada"))
	}
	return ref, nil
}

// Requests lista os pedidos de assinatura abertos, do mais antigo ao mais novo.
func (b *Bridge) Requests() []SigningRequest {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]SigningRequest, 0, len(b.order))
	for _, id := range b.order {
		out = append(out, b.open[id].req)
	}
	return out
}

// Approve entrega o artefato assinado pela carteira.
func (b *Bridge) Approve(id, signed string) error {
	return b.decide(id, decision{signed: signed})
}

// Reject registra a recusa do usuário.
func (b *Bridge) Reject(id string) error {
	return b.decide(id, decision{err: ErrUserRejected})
}

func (b *Bridge) decide(id string, d decision) error {
	b.mu.Lock()
	r, ok := b.open[id]
	if ok {
		b.removeLocked(id)
	}
	b.mu.Unlock()
	if !ok {
		return errors.Wrapf(ErrUnknownRequest, "%s", id)
	}
	r.ch <- d
	return nil
}

func (b *Bridge) drop(id string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.removeLocked(id)
}

func (b *Bridge) removeLocked(id string) {
	if _, ok := b.open[id]; !ok {
		return
	}
	delete(b.open, id)
	for i, v := range b.order {
		if v == id {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}

// Confirm consulta o broadcaster uma única vez.
func (b *Bridge) Confirm(ctx context.Context, ref Reference) (bool, error) {
	if b.broadcaster == nil {
		return false, ErrSignerUnavailable
	}
	done, err := b.broadcaster.Confirm(ctx, ref)
	if err != nil {
		return false, Classify(err)
	}
	return done, nil
}

// AwaitSettlement consulta o broadcaster a cada pollInterval até o resultado final.
// Falhas de leitura do RPC só adiam a próxima consulta: a transação pode ainda
// ser finalizada, e quem limita a espera é ctx.
func (b *Bridge) AwaitSettlement(ctx context.Context, ref Reference) error {
	ticker := time.NewTicker(b.pollInterval)
	defer ticker.Stop()
	for {
		done, err := b.Confirm(ctx, ref)
		switch {
		case done:
			return nil
		case errors.IsAny(err, ErrSettlementFailed, ErrSignerUnavailable):
			return err
		case err != nil:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			log.WithError(err).WithField("reference", ref.ID).Warn("Falha ao consultar a rede, tentando de novo")
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Subscribe registra ouvintes para eventos da carteira.
func (b *Bridge) Subscribe(l Listener) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.listeners[id] = l
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.listeners, id)
			b.mu.Unlock()
		})
	}
}

func (b *Bridge) snapshotListeners() []Listener {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := make([]Listener, 0, len(b.listeners))
	for i := 0; i < b.nextID; i++ {
		if l, ok := b.listeners[i]; ok {
			out = append(out, l)
		}
	}
	return out
}

// EmitAccountsChanged repassa o evento accountsChanged da carteira.
func (b *Bridge) EmitAccountsChanged(accounts []string) {
	for _, l := range b.snapshotListeners() {
		if l.OnAccountsChanged != nil {
			l.OnAccountsChanged(append([]string(nil), accounts...))
		}
	}
}

// EmitNetworkChanged repassa o evento chainChanged da carteira.
func (b *Bridge) EmitNetworkChanged(chainID string) {
	for _, l := range b.snapshotListeners() {
		if l.OnNetworkChanged != nil {
			l.OnNetworkChanged(chainID)
		}
	}
}

// LocalBroadcaster aceita qualquer artefato e confirma na hora. Serve ao modo
// sem blockchain, em que o ledger local é a única fonte.
type LocalBroadcaster struct{}

func (LocalBroadcaster) Broadcast(_ context.Context, _ Payload, _ string) (Reference, error) {
	return Reference{ID: "local-" + uuid.New().String()}, nil
}

func (LocalBroadcaster) Confirm(context.Context, Reference) (bool, error) {
	return true, nil
}
