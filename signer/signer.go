// Package signer define a capacidade de carteira consumida pelo núcleo: pedir
// autorização, submeter uma transação e ouvir trocas de conta e de rede.
package signer

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/ferreirogomes/artmarket/models"
)

var (
	ErrUserRejected      = errors.New("operação recusada pelo usuário na carteira")
	ErrSignerUnavailable = errors.New("carteira indisponível")
	ErrTransportError    = errors.New("falha de transporte com a carteira ou a rede")

	// ErrSettlementFailed marca o resultado final negativo da rede (transação
	// revertida ou com erro registrado). Falhas de leitura do RPC não levam essa marca
	// e só adiam a próxima consulta.
	ErrSettlementFailed = errors.New("transação falhou na rede")
)

// Payload é o conteúdo opaco entregue à carteira para assinatura.
type Payload struct {
	Kind     models.Kind `json:"kind"`
	AssetID  string      `json:"asset_id,omitempty"`
	Actor    string      `json:"actor"`
	Seller   string      `json:"seller,omitempty"` // só para buy
	Price    string      `json:"price,omitempty"`
	TokenURI string      `json:"token_uri,omitempty"` // só para mint
}

// Reference identifica uma transação submetida.
type Reference struct {
	ID      string `json:"id"`
	OnChain bool   `json:"on_chain"`
}

// Listener recebe eventos da carteira fora do fluxo de pedidos.
// Contas vazias significam carteira bloqueada ou desconectada.
type Listener struct {
	OnAccountsChanged func(accounts []string)
	OnNetworkChanged  func(chainID string)
}

// Signer é o único ponto de contato do núcleo com a carteira.
type Signer interface {
	RequestAuthorization(ctx context.Context) (string, error)
	SubmitTransaction(ctx context.Context, p Payload) (Reference, error)
	AwaitSettlement(ctx context.Context, ref Reference) error
	Subscribe(l Listener) (unsubscribe func())
}

// Classify garante que err carregue um dos tipos da taxonomia da carteira.
// Erros sem tipo conhecido viram ErrTransportError.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.IsAny(err, ErrUserRejected, ErrSignerUnavailable, ErrTransportError, context.Canceled, context.DeadlineExceeded) {
		return err
	}
	return errors.Mark(err, ErrTransportError)
}
