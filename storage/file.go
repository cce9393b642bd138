package storage

import (
	"context"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/cockroachdb/errors"
)

var safeKey = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// FileStore grava cada blob num arquivo dentro de Dir, com escrita atômica via rename.
type FileStore struct {
	Dir string
	mu  sync.Mutex
}

func NewFileStore(dir string) (*FileStore, error) {
	if dir == "" {
		return nil, errors.New("diretório de armazenamento vazio")
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, errors.Wrapf(err, "falha ao criar diretório %s", dir)
	}
	return &FileStore{Dir: dir}, nil
}

func (f *FileStore) path(key string) (string, error) {
	if !safeKey.MatchString(key) {
		return "", errors.Newf("chave inválida: %q", key)
	}
	return filepath.Join(f.Dir, key+".json"), nil
}

func (f *FileStore) LoadBlob(_ context.Context, key string) ([]byte, error) {
	p, err := f.path(key)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(p)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrBlobNotFound
		}
		return nil, errors.Wrapf(err, "falha ao ler %s", p)
	}
	return data, nil
}

func (f *FileStore) SaveBlob(_ context.Context, key string, data []byte) error {
	p, err := f.path(key)
	if err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()

	tmp, err := os.CreateTemp(f.Dir, key+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "falha ao criar arquivo temporário")
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op depois do rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "falha ao escrever blob")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "falha no fsync do blob")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "falha ao fechar blob")
	}
	if err := os.Chmod(tmpName, 0o600); err != nil {
		return errors.Wrap(err, "falha ao ajustar permissões")
	}
	if err := os.Rename(tmpName, p); err != nil {
		return errors.Wrapf(err, "falha ao mover blob para %s", p)
	}
	return nil
}

func (f *FileStore) Close() error { return nil }
