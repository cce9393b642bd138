package services

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/ferreirogomes/artmarket/ledger"
	"github.com/ferreirogomes/artmarket/models"
	"github.com/ferreirogomes/artmarket/session"
	"github.com/ferreirogomes/artmarket/signer"
)

var (
	ErrInvalidIntent     = errors.New("intenção inválida")
	ErrDuplicatePending  = errors.New("já existe uma transação pendente para este ativo")
	ErrPendingNotFound   = errors.New("transação pendente não encontrada")
	ErrNotCancellable    = errors.New("a transação já terminou")
	ErrSessionChanged    = errors.New("a sessão mudou antes da liquidação")
	ErrRateLimited       = errors.New("muitas intenções em pouco tempo")
	ErrSettlementTimeout = errors.New("tempo esgotado aguardando a liquidação")
)

// Motivos gravados em PendingTransaction.Reason.
const (
	ReasonUserRejected      = "UserRejected"
	ReasonSignerUnavailable = "SignerUnavailable"
	ReasonTransportError    = "TransportError"
	ReasonSessionChanged    = "SessionChanged"
	ReasonCancelled         = "Cancelled"
	ReasonTimeout           = "Timeout"
	ReasonStaleListing      = "StaleListing"
	ReasonNotOwner          = "NotOwner"
	ReasonAlreadyOwned      = "AlreadyOwned"
	ReasonValidation        = "ValidationError"
)

const maxHistory = 256

// Observer é chamado, fora do lock, depois de cada transição.
type Observer func(prev models.Status, tx models.PendingTransaction)

type dedupeKey struct {
	target string
	kind   models.Kind
}

type pendingTx struct {
	tx     models.PendingTransaction
	key    dedupeKey
	ref    signer.Reference
	epoch  uint64
	draft  models.Draft
	seller string
	price  decimal.Decimal

	ctx      context.Context
	cancel   context.CancelFunc
	applying bool
	done     chan struct{}
}

// TransactionService conduz cada intenção do envio à carteira até um estado
// terminal e aplica no ledger no máximo uma mutação por transação.
// Há um serviço por sessão; vários serviços podem compartilhar o mesmo ledger.
type TransactionService struct {
	Ledger  *ledger.Ledger
	Session *session.Session
	Signer  signer.Signer

	content           ContentStore
	limiter           *IntentLimiter
	settlementTimeout time.Duration

	mu        sync.Mutex
	pending   map[string]*pendingTx
	order     []string
	byRef     map[string]*pendingTx
	active    map[dedupeKey]string
	observers []Observer
	wg        sync.WaitGroup
	now       func() time.Time

	beforeRegister func() // só em testes
}

// Option ajusta o TransactionService.
type Option func(*TransactionService)

// WithContentStore faz o mint fixar imagem e metadados antes de chamar a carteira.
func WithContentStore(c ContentStore) Option {
	return func(s *TransactionService) { s.content = c }
}

func WithLimiter(l *IntentLimiter) Option {
	return func(s *TransactionService) { s.limiter = l }
}

// WithSettlementTimeout limita a espera pela confirmação depois que a carteira assinou.
func WithSettlementTimeout(d time.Duration) Option {
	return func(s *TransactionService) { s.settlementTimeout = d }
}

// NewTransactionService cria o orquestrador e o liga às trocas de revisão da sessão.
func NewTransactionService(l *ledger.Ledger, sess *session.Session, sig signer.Signer, opts ...Option) *TransactionService {
	s := &TransactionService{
		Ledger:  l,
		Session: sess,
		Signer:  sig,
		pending: make(map[string]*pendingTx),
		byRef:   make(map[string]*pendingTx),
		active:  make(map[dedupeKey]string),
		now:     func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(s)
	}
	sess.Watch(s.onSessionChange)
	return s
}

// Observe registra um observador de transições.
func (s *TransactionService) Observe(o Observer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observers = append(s.observers, o)
}

func invalid(err error, msg string) error {
	return errors.Mark(errors.Wrap(err, msg), ErrInvalidIntent)
}

// Submit valida a intenção contra o ledger atual, cria a transação pendente e
// devolve na hora. A conversa com a carteira segue em segundo plano.
func (s *TransactionService) Submit(ctx context.Context, in models.Intent) (models.PendingTransaction, error) {
	st := s.Session.State()
	if !st.Connected() {
		return models.PendingTransaction{}, invalid(session.ErrNotConnected, "conecte-se antes de enviar")
	}
	actor := st.Identity

	p := &pendingTx{
		tx: models.PendingTransaction{
			Kind:     in.Kind,
			AssetID:  in.AssetID,
			Actor:    actor,
			Revision: st.Revision,
			Status:   models.StatusSubmitted,
		},
		epoch: s.Ledger.Epoch(),
		done:  make(chan struct{}),
	}
	if err := s.prepare(p, in); err != nil {
		return models.PendingTransaction{}, err
	}
	if !s.limiter.Allow(actor, s.now()) {
		return models.PendingTransaction{}, ErrRateLimited
	}

	if s.beforeRegister != nil {
		s.beforeRegister()
	}

	s.mu.Lock()
	// Uma troca de sessão depois deste ponto espera s.mu e já encontra a transação;
	// uma anterior avançou a revisão capturada acima.
	if s.Session.Revision() != p.tx.Revision {
		s.mu.Unlock()
		return models.PendingTransaction{}, errors.Wrap(ErrSessionChanged, "a sessão mudou durante o envio")
	}
	if id, busy := s.active[p.key]; busy {
		s.mu.Unlock()
		return models.PendingTransaction{}, errors.Wrapf(ErrDuplicatePending, "transação %s", id)
	}
	now := s.now()
	p.tx.ID = uuid.New().String()
	p.tx.SubmittedAt = now
	p.tx.UpdatedAt = now
	p.ctx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	s.pending[p.tx.ID] = p
	s.order = append(s.order, p.tx.ID)
	s.active[p.key] = p.tx.ID
	snap := p.tx
	observers := s.observers
	s.wg.Add(1)
	s.mu.Unlock()

	s.logTransition(snap)
	for _, o := range observers {
		o("", snap)
	}
	go s.run(p)
	return snap, nil
}

// prepare confere a forma e as pré-condições da intenção e captura o que a
// liquidação vai comparar depois.
func (s *TransactionService) prepare(p *pendingTx, in models.Intent) error {
	actor := p.tx.Actor
	if !in.Kind.Valid() {
		return errors.Wrapf(ErrInvalidIntent, "tipo %q", in.Kind)
	}

	if in.Kind == models.KindMint {
		if in.Draft == nil {
			return errors.Wrap(ErrInvalidIntent, "mint sem rascunho")
		}
		price, err := ledger.ValidateDraft(*in.Draft)
		if err != nil {
			return invalid(err, "rascunho inválido")
		}
		p.draft = *in.Draft
		p.draft.Image.Data = append([]byte(nil), in.Draft.Image.Data...)
		p.price = price
		p.tx.AssetID = ""
		p.tx.ExpectedPrice = price
		p.key = dedupeKey{target: "mint:" + actor + ":" + strings.ToLower(strings.TrimSpace(in.Draft.Name)), kind: in.Kind}
		return nil
	}

	if strings.TrimSpace(in.AssetID) == "" {
		return errors.Wrap(ErrInvalidIntent, "id do ativo é obrigatório")
	}
	asset, ok := s.Ledger.Get(in.AssetID)
	if !ok {
		return invalid(ledger.ErrNotFound, in.AssetID)
	}
	p.key = dedupeKey{target: asset.ID, kind: in.Kind}

	switch in.Kind {
	case models.KindList:
		price, err := decimal.NewFromString(strings.TrimSpace(in.Price))
		if err != nil || !price.IsPositive() {
			return invalid(&ledger.ValidationError{Fields: []string{"price"}}, "preço inválido")
		}
		if asset.Owner != actor {
			return invalid(ledger.ErrNotOwner, "só o dono pode anunciar")
		}
		p.price = price
		p.tx.ExpectedPrice = price
	case models.KindCancel:
		if asset.Owner != actor {
			return invalid(ledger.ErrNotOwner, "só o dono pode cancelar o anúncio")
		}
		if !asset.ForSale {
			return invalid(ledger.ErrStaleListing, "o ativo não está à venda")
		}
	case models.KindBuy:
		if asset.Owner == actor {
			return invalid(ledger.ErrAlreadyOwned, "você já é o dono deste NFT")
		}
		if !asset.ForSale {
			return invalid(ledger.ErrStaleListing, "o ativo não está à venda")
		}
		p.seller = asset.Owner
		p.price = asset.Price
		p.tx.ExpectedPrice = asset.Price
	}
	return nil
}

func (s *TransactionService) run(p *pendingTx) {
	defer s.wg.Done()
	ctx := p.ctx

	payload := signer.Payload{
		Kind:    p.tx.Kind,
		AssetID: p.tx.AssetID,
		Actor:   p.tx.Actor,
		Seller:  p.seller,
		Price:   p.price.String(),
	}
	if p.tx.Kind == models.KindCancel {
		payload.Price = ""
	}

	if p.tx.Kind == models.KindMint && s.content != nil && len(p.draft.Image.Data) > 0 {
		tokenURI, image, err := s.pin(ctx, p.draft)
		if err != nil {
			s.finish(p, signer.Classify(err))
			return
		}
		s.mu.Lock()
		p.draft.Image = image
		s.mu.Unlock()
		payload.TokenURI = tokenURI
	}

	if s.Signer == nil {
		s.finish(p, signer.ErrSignerUnavailable)
		return
	}
	ref, err := s.Signer.SubmitTransaction(ctx, payload)
	if err != nil {
		s.finish(p, err)
		return
	}
	if !s.awaiting(p, ref) {
		return
	}

	waitCtx := ctx
	if s.settlementTimeout > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeoutCause(ctx, s.settlementTimeout, ErrSettlementTimeout)
		defer cancel()
	}
	err = s.Signer.AwaitSettlement(waitCtx, ref)
	if err != nil && errors.Is(context.Cause(waitCtx), ErrSettlementTimeout) {
		err = errors.Mark(err, ErrSettlementTimeout)
	}
	s.HandleSettlement(ref, err)
}

func (s *TransactionService) pin(ctx context.Context, d models.Draft) (string, models.ImageRef, error) {
	imageURI, err := s.content.UploadFile(ctx, d.Name, d.Image.Data)
	if err != nil {
		return "", models.ImageRef{}, errors.Wrap(err, "falha ao enviar imagem ao IPFS")
	}
	metaURI, err := s.content.UploadJSON(ctx, d.Name+" metadata", map[string]string{
		"name":        d.Name,
		"description": d.Description,
		"image":       imageURI,
	})
	if err != nil {
		return "", models.ImageRef{}, errors.Wrap(err, "falha ao enviar metadados ao IPFS")
	}
	return metaURI, models.ImageRef{Locator: imageURI}, nil
}

// awaiting registra a referência devolvida pela carteira. Falso se a transação
// já terminou nesse meio tempo.
func (s *TransactionService) awaiting(p *pendingTx, ref signer.Reference) bool {
	s.mu.Lock()
	p.ref = ref
	p.tx.Reference = ref.ID
	s.byRef[ref.ID] = p
	s.mu.Unlock()
	return s.transition(p, models.StatusAwaitingConfirmation, "")
}

func (s *TransactionService) transition(p *pendingTx, to models.Status, reason string) bool {
	return s.move(p, to, reason, "", false)
}

// move é o único lugar que muda Status. Estados terminais não mudam mais e,
// enquanto a mutação do ledger está em curso, só o caminho da liquidação
// (settling) decide o estado. from vazio aceita qualquer estado de origem.
func (s *TransactionService) move(p *pendingTx, to models.Status, reason string, from models.Status, settling bool) bool {
	s.mu.Lock()
	prev := p.tx.Status
	if (from != "" && prev != from) || (p.applying && !settling) || !s.allowed(prev, to) {
		s.mu.Unlock()
		return false
	}
	p.tx.Status = to
	p.tx.Reason = reason
	p.tx.UpdatedAt = s.now()
	if to.Terminal() {
		p.applying = false
		if s.active[p.key] == p.tx.ID {
			delete(s.active, p.key)
		}
		p.cancel()
		s.pruneLocked()
	}
	snap := p.tx
	observers := s.observers
	s.mu.Unlock()

	s.logTransition(snap)
	for _, o := range observers {
		o(prev, snap)
	}
	// Wait só retorna depois que os observadores viram o estado terminal.
	if snap.Status.Terminal() {
		close(p.done)
	}
	return true
}

func (s *TransactionService) allowed(from, to models.Status) bool {
	switch from {
	case models.StatusSubmitted:
		return to == models.StatusAwaitingConfirmation || to.Terminal()
	case models.StatusAwaitingConfirmation:
		return to.Terminal()
	}
	return false
}

func (s *TransactionService) pruneLocked() {
	excess := len(s.order) - maxHistory
	if excess <= 0 {
		return
	}
	kept := s.order[:0]
	for _, id := range s.order {
		p := s.pending[id]
		if excess > 0 && p.tx.Status.Terminal() {
			delete(s.pending, id)
			if p.ref.ID != "" {
				delete(s.byRef, p.ref.ID)
			}
			excess--
			continue
		}
		kept = append(kept, id)
	}
	s.order = kept
}

// finish leva a transação a um estado terminal a partir de um erro da carteira.
func (s *TransactionService) finish(p *pendingTx, err error) {
	status, reason := failureOf(err)
	if reason == ReasonCancelled {
		// Cancel e a troca de sessão já gravaram o motivo; isto só cobre o resto.
		if s.isStale(p) {
			reason = ReasonSessionChanged
		}
	}
	if s.transition(p, status, reason) {
		log.WithError(err).WithField("pending_id", p.tx.ID).Debug("Transação encerrada sem liquidação")
	}
}

func failureOf(err error) (models.Status, string) {
	switch {
	case errors.Is(err, ErrSettlementTimeout):
		return models.StatusFailed, ReasonTimeout
	case errors.Is(err, context.Canceled):
		return models.StatusRejected, ReasonCancelled
	case errors.Is(err, signer.ErrUserRejected):
		return models.StatusRejected, ReasonUserRejected
	case errors.Is(err, signer.ErrSignerUnavailable):
		return models.StatusFailed, ReasonSignerUnavailable
	default:
		return models.StatusFailed, ReasonTransportError
	}
}

func ledgerReason(err error) string {
	switch {
	case errors.Is(err, ledger.ErrStaleListing):
		return ReasonStaleListing
	case errors.Is(err, ledger.ErrNotOwner):
		return ReasonNotOwner
	case errors.Is(err, ledger.ErrAlreadyOwned):
		return ReasonAlreadyOwned
	case errors.Is(err, ledger.ErrValidation):
		return ReasonValidation
	}
	return ReasonTransportError
}

func (s *TransactionService) isStale(p *pendingTx) bool {
	return s.Session.Revision() != p.tx.Revision || s.Ledger.Epoch() != p.epoch
}

// HandleSettlement recebe o sinal final da carteira ou do listener. Sinais
// repetidos, tardios ou de referências desconhecidas são ignorados.
func (s *TransactionService) HandleSettlement(ref signer.Reference, err error) {
	s.mu.Lock()
	p := s.byRef[ref.ID]
	if p == nil || p.tx.Status.Terminal() || p.applying {
		s.mu.Unlock()
		log.WithField("reference", ref.ID).Debug("Sinal de liquidação ignorado")
		return
	}
	if err == nil && !s.isStale(p) {
		p.applying = true
	}
	applying := p.applying
	s.mu.Unlock()

	if err != nil {
		s.finish(p, err)
		return
	}
	if !applying {
		s.discard(p, false)
		return
	}

	assetID, aerr := s.apply(p)
	switch {
	case errors.Is(aerr, ledger.ErrNotFound):
		s.discard(p, true)
	case aerr != nil:
		s.move(p, models.StatusFailed, ledgerReason(aerr), "", true)
	default:
		s.mu.Lock()
		p.tx.AssetID = assetID
		s.mu.Unlock()
		s.move(p, models.StatusSettled, "", "", true)
	}
}

func (s *TransactionService) discard(p *pendingTx, settling bool) {
	if s.move(p, models.StatusRejected, ReasonSessionChanged, "", settling) {
		log.WithFields(log.Fields{"pending_id": p.tx.ID, "kind": p.tx.Kind, "asset_id": p.tx.AssetID}).
			Warn("Liquidação descartada: a sessão ou o ledger mudou")
	}
}

// apply executa a única mutação do ledger correspondente ao tipo.
func (s *TransactionService) apply(p *pendingTx) (string, error) {
	switch p.tx.Kind {
	case models.KindMint:
		s.mu.Lock()
		d := p.draft
		s.mu.Unlock()
		chainRef := ""
		if p.ref.OnChain {
			chainRef = p.ref.ID
		}
		a, err := s.Ledger.Create(d, p.tx.Actor, chainRef)
		return a.ID, err
	case models.KindList:
		a, err := s.Ledger.ListForSale(p.tx.AssetID, p.tx.Actor, p.price)
		return a.ID, err
	case models.KindBuy:
		a, err := s.Ledger.Transfer(p.tx.AssetID, p.seller, p.tx.Actor, p.price)
		return a.ID, err
	case models.KindCancel:
		a, err := s.Ledger.CancelListing(p.tx.AssetID, p.tx.Actor)
		return a.ID, err
	}
	return "", errors.Newf("tipo desconhecido: %s", p.tx.Kind)
}

// Cancel é best-effort. Antes da assinatura a transação termina na hora; depois
// dela o pedido fica registrado e a liquidação decide o estado final.
func (s *TransactionService) Cancel(id string) (models.PendingTransaction, error) {
	s.mu.Lock()
	p, ok := s.pending[id]
	if !ok {
		s.mu.Unlock()
		return models.PendingTransaction{}, ErrPendingNotFound
	}
	status := p.tx.Status
	if status.Terminal() {
		snap := p.tx
		s.mu.Unlock()
		return snap, ErrNotCancellable
	}
	p.tx.CancelRequested = true
	s.mu.Unlock()

	if status == models.StatusSubmitted {
		reason := ReasonCancelled
		if s.isStale(p) {
			reason = ReasonSessionChanged
		}
		s.move(p, models.StatusRejected, reason, models.StatusSubmitted, false)
	}
	return s.Status(id)
}

// Status devolve um retrato da transação, sem suspender.
func (s *TransactionService) Status(id string) (models.PendingTransaction, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.pending[id]
	if !ok {
		return models.PendingTransaction{}, ErrPendingNotFound
	}
	return p.tx, nil
}

// Wait suspende até a transação chegar a um estado terminal.
func (s *TransactionService) Wait(ctx context.Context, id string) (models.PendingTransaction, error) {
	s.mu.Lock()
	p, ok := s.pending[id]
	s.mu.Unlock()
	if !ok {
		return models.PendingTransaction{}, ErrPendingNotFound
	}
	select {
	case <-p.done:
	case <-ctx.Done():
		return s.Status(id)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return p.tx, nil
}

// List devolve as transações conhecidas em ordem de envio.
func (s *TransactionService) List() []models.PendingTransaction {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]models.PendingTransaction, 0, len(s.order))
	for _, id := range s.order {
		out = append(out, s.pending[id].tx)
	}
	return out
}

// AwaitingReferences lista as referências ainda sem liquidação, para o listener.
func (s *TransactionService) AwaitingReferences() []signer.Reference {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []signer.Reference
	for _, id := range s.order {
		p := s.pending[id]
		if p.tx.Status == models.StatusAwaitingConfirmation && !p.applying {
			out = append(out, p.ref)
		}
	}
	return out
}

// onSessionChange encerra o que ainda não foi assinado sob a revisão antiga.
// O que já foi assinado espera a liquidação, que será descartada.
func (s *TransactionService) onSessionChange(st session.State) {
	s.mu.Lock()
	var stale []*pendingTx
	for _, id := range s.order {
		p := s.pending[id]
		if p.tx.Status.Terminal() || p.tx.Revision >= st.Revision {
			continue
		}
		p.tx.CancelRequested = true
		// A liquidação desta transação será descartada; a nova identidade pode
		// pedir a mesma operação sem esperar por ela.
		if s.active[p.key] == p.tx.ID {
			delete(s.active, p.key)
		}
		if p.tx.Status == models.StatusSubmitted {
			stale = append(stale, p)
		}
	}
	s.mu.Unlock()

	for _, p := range stale {
		s.move(p, models.StatusRejected, ReasonSessionChanged, models.StatusSubmitted, false)
	}
}

// Close cancela o trabalho em voo e espera as goroutines terminarem.
func (s *TransactionService) Close() {
	s.mu.Lock()
	var live []*pendingTx
	for _, p := range s.pending {
		if !p.tx.Status.Terminal() {
			live = append(live, p)
		}
	}
	s.mu.Unlock()
	for _, p := range live {
		s.transition(p, models.StatusRejected, ReasonCancelled)
	}
	s.wg.Wait()
}

func (s *TransactionService) logTransition(tx models.PendingTransaction) {
	fields := log.Fields{
		"pending_id": tx.ID,
		"kind":       tx.Kind,
		"asset_id":   tx.AssetID,
		"status":     tx.Status,
	}
	if tx.Reason != "" {
		fields["reason"] = tx.Reason
	}
	log.WithFields(fields).Info("Transição de transação")
}
