// Package app monta o contexto único do processo: ledger, sessão, carteira e
// orquestrador, com inicialização e encerramento explícitos.
package app

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/prometheus/client_golang/prometheus"
	log "github.com/sirupsen/logrus"

	"github.com/ferreirogomes/artmarket/ledger"
	"github.com/ferreirogomes/artmarket/metrics"
	"github.com/ferreirogomes/artmarket/models"
	"github.com/ferreirogomes/artmarket/services"
	"github.com/ferreirogomes/artmarket/session"
	"github.com/ferreirogomes/artmarket/signer"
	"github.com/ferreirogomes/artmarket/storage"
)

const persistTimeout = 5 * time.Second

type Options struct {
	Store             storage.BlobStore // nil usa memória
	Signer            signer.Signer
	Content           services.ContentStore
	Limiter           *services.IntentLimiter
	SettlementTimeout time.Duration
	Registerer        prometheus.Registerer // nil desliga as métricas
}

type Runtime struct {
	Store        storage.BlobStore
	Ledger       *ledger.Ledger
	Session      *session.Session
	Signer       signer.Signer
	Transactions *services.TransactionService
	Views        *services.ViewService
	Metrics      *metrics.Collector

	unbind    func()
	persistMu sync.Mutex
}

// New cria o runtime com ledger vazio e sem identidade.
func New(opts Options) *Runtime {
	store := opts.Store
	if store == nil {
		store = storage.NewMemoryStore()
	}
	l := ledger.New()
	sess := session.New(opts.Signer)

	var txOpts []services.Option
	if opts.Content != nil {
		txOpts = append(txOpts, services.WithContentStore(opts.Content))
	}
	if opts.Limiter != nil {
		txOpts = append(txOpts, services.WithLimiter(opts.Limiter))
	}
	if opts.SettlementTimeout > 0 {
		txOpts = append(txOpts, services.WithSettlementTimeout(opts.SettlementTimeout))
	}

	r := &Runtime{
		Store:        store,
		Ledger:       l,
		Session:      sess,
		Signer:       opts.Signer,
		Transactions: services.NewTransactionService(l, sess, opts.Signer, txOpts...),
		Views:        services.NewViewService(l),
		unbind:       sess.Bind(opts.Signer),
	}
	if opts.Registerer != nil {
		r.Metrics = metrics.New(opts.Registerer)
		r.Transactions.Observe(r.Metrics.Observe)
	}
	r.Transactions.Observe(func(_ models.Status, tx models.PendingTransaction) {
		if tx.Status == models.StatusSettled {
			r.persistNow("ledger", r.saveLedger)
		}
	})
	sess.Watch(func(session.State) {
		r.persistNow("sessão", r.saveSession)
	})
	return r
}

// Restore reidrata ledger e sessão a partir do store.
func (r *Runtime) Restore(ctx context.Context) error {
	var errs error
	if err := r.Ledger.Load(ctx, r.Store); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	if err := r.Session.Load(ctx, r.Store); err != nil {
		errs = errors.CombineErrors(errs, err)
	}
	return errs
}

// Persist grava ledger e sessão.
func (r *Runtime) Persist(ctx context.Context) error {
	return errors.CombineErrors(r.saveLedger(ctx), r.saveSession(ctx))
}

func (r *Runtime) saveLedger(ctx context.Context) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	return r.Ledger.Save(ctx, r.Store)
}

func (r *Runtime) saveSession(ctx context.Context) error {
	r.persistMu.Lock()
	defer r.persistMu.Unlock()
	return r.Session.Save(ctx, r.Store)
}

// persistNow grava no goroutine de quem notificou, então quem espera a transação
// terminar já encontra o estado gravado.
func (r *Runtime) persistNow(what string, save func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := save(ctx); err != nil {
		log.WithError(err).Errorf("Falha ao persistir %s", what)
	}
}

// ClearAll apaga todos os ativos ("Clear All Data"). Liquidações de intenções
// enviadas antes disso são descartadas.
func (r *Runtime) ClearAll(ctx context.Context) error {
	r.Ledger.Clear()
	log.Warn("Todos os ativos foram apagados")
	return r.saveLedger(ctx)
}

// Close encerra as orquestrações em voo e grava o estado final.
func (r *Runtime) Close(ctx context.Context) error {
	r.Transactions.Close()
	r.unbind()
	err := r.Persist(ctx)
	if cerr := r.Store.Close(); cerr != nil {
		err = errors.CombineErrors(err, cerr)
	}
	return err
}
