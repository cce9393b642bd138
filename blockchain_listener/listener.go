package blockchain_listener

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ferreirogomes/artmarket/signer"
)

// Checker consulta uma referência na rede uma única vez.
type Checker interface {
	Confirm(ctx context.Context, ref signer.Reference) (bool, error)
}

// Settler é o orquestrador visto pelo listener.
type Settler interface {
	AwaitingReferences() []signer.Reference
	HandleSettlement(ref signer.Reference, err error)
}

// BlockchainListener varre as transações que aguardam confirmação e repassa os
// resultados finais ao orquestrador. O mesmo resultado pode chegar mais de uma
// vez, pelo listener e pela própria espera da carteira.
type BlockchainListener struct {
	Checker  Checker
	Settlers []Settler
	Interval time.Duration
}

// NewBlockchainListener cria uma nova instância do listener.
func NewBlockchainListener(checker Checker, interval time.Duration, settlers ...Settler) *BlockchainListener {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &BlockchainListener{Checker: checker, Settlers: settlers, Interval: interval}
}

// StartListening varre a cada Interval até ctx ser cancelado.
func (l *BlockchainListener) StartListening(ctx context.Context) {
	log.Println("Iniciando listener da blockchain...")
	ticker := time.NewTicker(l.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			log.Println("Listener da blockchain encerrado.")
			return
		case <-ticker.C:
			l.Poll(ctx)
		}
	}
}

// Poll faz uma varredura e devolve quantos resultados finais foram repassados.
func (l *BlockchainListener) Poll(ctx context.Context) int {
	forwarded := 0
	for _, s := range l.Settlers {
		for _, ref := range s.AwaitingReferences() {
			done, err := l.Checker.Confirm(ctx, ref)
			if ctx.Err() != nil {
				return forwarded
			}
			if errors.Is(err, signer.ErrSettlementFailed) {
				log.WithError(err).WithField("reference", ref.ID).Warn("Transação falhou na rede")
				s.HandleSettlement(ref, err)
				forwarded++
				continue
			}
			if err != nil {
				// Falha de leitura: a próxima varredura consulta de novo.
				log.WithError(err).WithField("reference", ref.ID).Debug("Falha ao consultar a rede")
				continue
			}
			if done {
				log.Printf("Transação confirmada (referência: %s). Processando...", ref.ID)
				s.HandleSettlement(ref, nil)
				forwarded++
			}
		}
	}
	return forwarded
}
