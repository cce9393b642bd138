package session

import (
	"net/mail"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/ethereum/go-ethereum/common"
	"github.com/gagliardetto/solana-go"
)

var socialProviders = map[string]bool{"google": true, "facebook": true, "github": true}

// NormalizeWallet devolve a forma canônica de um endereço de carteira: EVM com
// checksum EIP-55 ou chave pública Solana em base58.
func NormalizeWallet(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if common.IsHexAddress(raw) {
		return common.HexToAddress(raw).Hex(), nil
	}
	if pk, err := solana.PublicKeyFromBase58(raw); err == nil {
		return pk.String(), nil
	}
	return "", errors.Wrapf(ErrInvalidIdentity, "endereço de carteira %q", raw)
}

// NormalizeEmail valida e deixa o e-mail em minúsculas.
func NormalizeEmail(raw string) (string, error) {
	addr, err := mail.ParseAddress(strings.TrimSpace(raw))
	if err != nil || addr.Name != "" {
		return "", errors.Wrapf(ErrInvalidIdentity, "e-mail %q", raw)
	}
	return strings.ToLower(addr.Address), nil
}

// SocialIdentity monta a identidade usada pelo login social simulado.
func SocialIdentity(provider string) (string, error) {
	provider = strings.ToLower(strings.TrimSpace(provider))
	if !socialProviders[provider] {
		return "", errors.Wrapf(ErrInvalidIdentity, "provedor %q", provider)
	}
	return "user@" + provider + ".com", nil
}
