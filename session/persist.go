package session

import (
	"context"
	"encoding/json"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ferreirogomes/artmarket/storage"
)

// BlobKey é a chave da sessão no BlobStore.
const BlobKey = "session"

type document struct {
	Schema   int    `json:"schema"`
	Identity string `json:"identity,omitempty"`
	Method   Method `json:"method,omitempty"`
	Network  string `json:"network,omitempty"`
	Revision uint64 `json:"revision"`
}

// Save grava a sessão atual.
func (s *Session) Save(ctx context.Context, store storage.BlobStore) error {
	st := s.State()
	data, err := json.Marshal(document{
		Schema:   1,
		Identity: st.Identity,
		Method:   st.Method,
		Network:  st.Network,
		Revision: st.Revision,
	})
	if err != nil {
		return errors.Wrap(err, "falha ao serializar sessão")
	}
	return store.SaveBlob(ctx, BlobKey, data)
}

// Load reidrata a sessão. A revisão sempre avança além da gravada, então nada
// capturado antes do reinício volta a valer. Blob ausente ou ilegível deixa a
// sessão desconectada.
func (s *Session) Load(ctx context.Context, store storage.BlobStore) error {
	data, err := store.LoadBlob(ctx, BlobKey)
	if err != nil && !errors.Is(err, storage.ErrBlobNotFound) {
		return errors.Wrap(err, "falha ao carregar sessão")
	}

	var doc document
	if err == nil {
		if uerr := json.Unmarshal(data, &doc); uerr != nil || doc.Schema != 1 {
			log.WithError(uerr).Warn("Sessão persistida ilegível, iniciando desconectado")
			doc = document{}
		}
	}
	switch doc.Method {
	case MethodWallet, MethodCredentials, MethodSocial:
	default:
		doc.Identity = ""
	}
	if doc.Identity == "" {
		doc.Method, doc.Network = "", ""
	}

	s.update(func(st *State) bool {
		st.Identity = doc.Identity
		st.Method = doc.Method
		st.Network = doc.Network
		if doc.Revision > st.Revision {
			st.Revision = doc.Revision
		}
		return true
	})
	return nil
}
