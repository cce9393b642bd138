package ledger

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ferreirogomes/artmarket/models"
	"github.com/ferreirogomes/artmarket/storage"
)

// BlobKey é a chave usada no BlobStore.
const BlobKey = "ledger"

const schemaVersion = 1

type document struct {
	Schema int            `json:"schema"`
	Assets []models.Asset `json:"assets"`
}

// Encode serializa o ledger inteiro em ordem de inserção.
func (l *Ledger) Encode() ([]byte, error) {
	doc := document{Schema: schemaVersion, Assets: l.Snapshot()}
	if doc.Assets == nil {
		doc.Assets = []models.Asset{}
	}
	data, err := json.Marshal(doc)
	if err != nil {
		return nil, errors.Wrap(err, "falha ao serializar ledger")
	}
	return data, nil
}

// Decode interpreta um blob produzido por Encode. Qualquer registro inválido
// invalida o documento inteiro.
func Decode(data []byte) ([]models.Asset, error) {
	var doc document
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrap(err, "blob do ledger corrompido")
	}
	if doc.Schema != schemaVersion {
		return nil, errors.Newf("versão de schema desconhecida: %d", doc.Schema)
	}
	seen := make(map[string]struct{}, len(doc.Assets))
	for i, a := range doc.Assets {
		switch {
		case a.ID == "":
			return nil, errors.Newf("ativo %d sem id", i)
		case a.Owner == "" || a.Creator == "":
			return nil, errors.Newf("ativo %s sem dono ou criador", a.ID)
		case a.ForSale && !a.Price.IsPositive():
			return nil, errors.Newf("ativo %s à venda sem preço", a.ID)
		}
		if _, dup := seen[a.ID]; dup {
			return nil, errors.Newf("id duplicado: %s", a.ID)
		}
		seen[a.ID] = struct{}{}
	}
	return doc.Assets, nil
}

// Restore substitui o conteúdo do ledger pelo blob informado.
func (l *Ledger) Restore(data []byte) error {
	assets, err := Decode(data)
	if err != nil {
		return err
	}
	l.replace(assets)
	return nil
}

// Load reidrata o ledger a partir do store. Blob ausente ou corrompido resulta
// num ledger vazio; só falhas de leitura do store são devolvidas.
func (l *Ledger) Load(ctx context.Context, store storage.BlobStore) error {
	data, err := store.LoadBlob(ctx, BlobKey)
	if errors.Is(err, storage.ErrBlobNotFound) {
		l.replace(nil)
		return nil
	}
	if err != nil {
		l.replace(nil)
		return errors.Wrap(err, "falha ao carregar ledger")
	}
	if err := l.Restore(data); err != nil {
		log.WithError(err).Warn("Ledger persistido ilegível, iniciando vazio")
		l.replace(nil)
		return nil
	}
	log.Printf("Ledger carregado com %d ativos.", l.Len())
	return nil
}

// Save grava o ledger no store.
func (l *Ledger) Save(ctx context.Context, store storage.BlobStore) error {
	data, err := l.Encode()
	if err != nil {
		return err
	}
	return store.SaveBlob(ctx, BlobKey, data)
}
