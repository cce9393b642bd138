package services

import (
	"context"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/shopspring/decimal"
	log "github.com/sirupsen/logrus"

	"github.com/ferreirogomes/artmarket/models"
	"github.com/ferreirogomes/artmarket/signer"
)

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

// ErrArtifactMismatch indica que a transação assinada não corresponde ao pedido.
var ErrArtifactMismatch = errors.New("transação assinada não corresponde ao pedido")

// EVMClient é a parte do ethclient usada pelo broadcaster.
type EVMClient interface {
	SendTransaction(ctx context.Context, tx *types.Transaction) error
	TransactionByHash(ctx context.Context, hash common.Hash) (tx *types.Transaction, isPending bool, err error)
	TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error)
}

// EVMBroadcaster aceita o hash de uma transação que a carteira já transmitiu
// (eth_sendTransaction) ou a transação bruta assinada, e acompanha o recibo.
type EVMBroadcaster struct {
	Client EVMClient
}

func NewEVMBroadcaster(ctx context.Context, rpcURL string) (*EVMBroadcaster, error) {
	client, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, errors.Wrapf(err, "falha ao conectar ao RPC %s", rpcURL)
	}
	return &EVMBroadcaster{Client: client}, nil
}

// Broadcast só aceita transações enviadas pela conta conectada. Numa compra, a
// transação também precisa pagar o preço anunciado ao vendedor.
func (e *EVMBroadcaster) Broadcast(ctx context.Context, p signer.Payload, signed string) (signer.Reference, error) {
	signed = strings.TrimSpace(signed)
	if txHashPattern.MatchString(signed) {
		hash := common.HexToHash(signed)
		tx, _, err := e.Client.TransactionByHash(ctx, hash)
		if err != nil {
			return signer.Reference{}, errors.Wrapf(err, "transação %s não encontrada", hash.Hex())
		}
		if err := verifyEVMTransaction(tx, p); err != nil {
			return signer.Reference{}, err
		}
		return signer.Reference{ID: hash.Hex(), OnChain: true}, nil
	}

	raw, err := hexutil.Decode(signed)
	if err != nil {
		return signer.Reference{}, errors.Wrap(err, "artefato assinado não é hash nem transação bruta")
	}
	var tx types.Transaction
	if err := tx.UnmarshalBinary(raw); err != nil {
		return signer.Reference{}, errors.Wrap(err, "falha ao decodificar transação bruta")
	}
	if err := verifyEVMTransaction(&tx, p); err != nil {
		return signer.Reference{}, err
	}
	if err := e.Client.SendTransaction(ctx, &tx); err != nil {
		return signer.Reference{}, errors.Wrap(err, "SendTransaction falhou")
	}
	log.Printf("Transação EVM enviada: %s", tx.Hash().Hex())
	return signer.Reference{ID: tx.Hash().Hex(), OnChain: true}, nil
}

func verifyEVMTransaction(tx *types.Transaction, p signer.Payload) error {
	if !common.IsHexAddress(p.Actor) {
		return errors.Wrapf(signer.ErrSignerUnavailable, "identidade %q não é uma conta EVM", p.Actor)
	}
	from, err := types.Sender(types.LatestSignerForChainID(tx.ChainId()), tx)
	if err != nil {
		return errors.Mark(errors.Wrap(err, "assinatura da transação inválida"), ErrArtifactMismatch)
	}
	if from != common.HexToAddress(p.Actor) {
		return errors.Wrapf(ErrArtifactMismatch, "enviada por %s, esperado %s", from.Hex(), p.Actor)
	}
	if p.Kind != models.KindBuy {
		return nil
	}

	if !common.IsHexAddress(p.Seller) {
		return errors.Wrapf(ErrArtifactMismatch, "vendedor %q não tem conta EVM", p.Seller)
	}
	if tx.To() == nil || *tx.To() != common.HexToAddress(p.Seller) {
		return errors.Wrapf(ErrArtifactMismatch, "destino %v, esperado %s", tx.To(), p.Seller)
	}
	price, err := decimal.NewFromString(p.Price)
	if err != nil {
		return errors.Wrapf(ErrArtifactMismatch, "preço %q", p.Price)
	}
	// Preço em ETH; o valor da transação é em wei.
	if tx.Value().Cmp(price.Shift(18).BigInt()) != 0 {
		return errors.Wrapf(ErrArtifactMismatch, "valor %s wei, esperado %s ETH", tx.Value(), p.Price)
	}
	return nil
}

// Confirm devolve true quando há recibo minerado com sucesso. Recibo revertido é
// final; falha ao consultar o RPC não é.
func (e *EVMBroadcaster) Confirm(ctx context.Context, ref signer.Reference) (bool, error) {
	if !txHashPattern.MatchString(ref.ID) {
		return false, errors.Wrapf(signer.ErrSettlementFailed, "hash de transação inválido: %s", ref.ID)
	}
	receipt, err := e.Client.TransactionReceipt(ctx, common.HexToHash(ref.ID))
	if errors.Is(err, ethereum.NotFound) {
		return false, nil
	}
	if err != nil {
		return false, errors.Wrapf(err, "falha ao buscar recibo de %s", ref.ID)
	}
	if receipt.Status == types.ReceiptStatusFailed {
		return false, errors.Wrapf(signer.ErrSettlementFailed, "transação %s revertida no bloco %v", ref.ID, receipt.BlockNumber)
	}
	return true, nil
}
