package services

import (
	"context"
	"encoding/base64"

	"github.com/cockroachdb/errors"
	"github.com/gagliardetto/solana-go"
	"github.com/gagliardetto/solana-go/rpc"
	log "github.com/sirupsen/logrus"

	"github.com/ferreirogomes/artmarket/signer"
)

// SolanaRPC é a parte do cliente RPC usada pelo broadcaster.
type SolanaRPC interface {
	SendTransactionWithOpts(ctx context.Context, transaction *solana.Transaction, opts rpc.TransactionOpts) (solana.Signature, error)
	GetSignatureStatuses(ctx context.Context, searchTransactionHistory bool, transactionSignatures ...solana.Signature) (*rpc.GetSignatureStatusesResult, error)
}

// SolanaBroadcaster envia à rede a transação já assinada pelo usuário na carteira
// e acompanha a assinatura até a finalização.
type SolanaBroadcaster struct {
	RPCClient SolanaRPC
}

func NewSolanaBroadcaster(rpcEndpoint string) *SolanaBroadcaster {
	return &SolanaBroadcaster{RPCClient: rpc.New(rpcEndpoint)}
}

// Broadcast recebe a transação assinada em Base64 e a envia para a rede.
func (s *SolanaBroadcaster) Broadcast(ctx context.Context, p signer.Payload, signedTxBase64 string) (signer.Reference, error) {
	signedTxBytes, err := base64.StdEncoding.DecodeString(signedTxBase64)
	if err != nil {
		return signer.Reference{}, errors.Wrap(err, "falha ao decodificar transação assinada")
	}

	tx, err := solana.TransactionFromBytes(signedTxBytes)
	if err != nil {
		return signer.Reference{}, errors.Wrap(err, "falha ao deserializar transação")
	}
	if err := checkSigner(tx, p.Actor); err != nil {
		return signer.Reference{}, err
	}

	txID, err := s.RPCClient.SendTransactionWithOpts(ctx, tx, rpc.TransactionOpts{
		SkipPreflight:       false,
		PreflightCommitment: rpc.CommitmentConfirmed,
	})
	if err != nil {
		return signer.Reference{}, errors.Wrap(err, "falha ao enviar transação assinada")
	}
	log.Printf("Transação assinada enviada: %s", txID)
	return signer.Reference{ID: txID.String(), OnChain: true}, nil
}

// checkSigner recusa transações que não foram assinadas pela conta conectada.
// Identidades que não são chave Solana (e-mail, login social) não assinam na rede.
func checkSigner(tx *solana.Transaction, actor string) error {
	actorKey, err := solana.PublicKeyFromBase58(actor)
	if err != nil {
		return errors.Wrapf(signer.ErrSignerUnavailable, "identidade %q não é uma conta Solana", actor)
	}
	n := int(tx.Message.Header.NumRequiredSignatures)
	if n > len(tx.Message.AccountKeys) {
		n = len(tx.Message.AccountKeys)
	}
	for _, key := range tx.Message.AccountKeys[:n] {
		if key.Equals(actorKey) {
			return nil
		}
	}
	return errors.Newf("transação não foi assinada por %s", actor)
}

// Confirm consulta o status da assinatura. Só "finalized" conta como liquidada;
// erro registrado na rede é final, erro do RPC não.
func (s *SolanaBroadcaster) Confirm(ctx context.Context, ref signer.Reference) (bool, error) {
	sig, err := solana.SignatureFromBase58(ref.ID)
	if err != nil {
		return false, errors.Mark(errors.Wrapf(err, "assinatura inválida %s", ref.ID), signer.ErrSettlementFailed)
	}
	resp, err := s.RPCClient.GetSignatureStatuses(ctx, true, sig)
	if err != nil {
		return false, errors.Wrapf(err, "erro ao verificar status da transação %s", ref.ID)
	}
	if resp == nil || len(resp.Value) == 0 || resp.Value[0] == nil {
		return false, nil
	}
	st := resp.Value[0]
	if st.Err != nil {
		return false, errors.Wrapf(signer.ErrSettlementFailed, "transação %s falhou: %v", ref.ID, st.Err)
	}
	if st.ConfirmationStatus == rpc.ConfirmationStatusFinalized {
		log.Printf("Transação %s confirmada.", ref.ID)
		return true, nil
	}
	return false, nil
}
