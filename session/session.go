// Package session guarda quem está autenticado e a revisão que marca cada troca
// de identidade. Quem capturou uma revisão antiga deve descartar o trabalho.
package session

import (
	"context"
	"slices"
	"strings"
	"sync"

	"github.com/cockroachdb/errors"
	log "github.com/sirupsen/logrus"

	"github.com/ferreirogomes/artmarket/signer"
)

var (
	ErrAuthorizationDenied = errors.New("autorização negada")
	ErrNotConnected        = errors.New("nenhuma identidade conectada")
	ErrInvalidIdentity     = errors.New("identidade inválida")
	ErrMissingCredentials  = errors.New("e-mail e senha são obrigatórios")
)

// Method é a forma de conexão.
type Method string

const (
	MethodWallet      Method = "wallet"
	MethodCredentials Method = "credentials"
	MethodSocial      Method = "social"
)

// Request descreve um pedido de conexão.
type Request struct {
	Method   Method `json:"method"`
	Email    string `json:"email,omitempty"`
	Password string `json:"password,omitempty"`
	Provider string `json:"provider,omitempty"`
}

// State é um retrato da sessão.
type State struct {
	Identity string `json:"identity,omitempty"`
	Method   Method `json:"method,omitempty"`
	Network  string `json:"network,omitempty"`
	Revision uint64 `json:"revision"`
}

// Connected informa se há identidade.
func (s State) Connected() bool { return s.Identity != "" }

// Authorizer é a parte da carteira usada na conexão.
type Authorizer interface {
	RequestAuthorization(ctx context.Context) (string, error)
}

// Session é segura para uso concorrente.
type Session struct {
	auth Authorizer

	mu       sync.RWMutex
	state    State
	watchers []func(State)
}

func New(auth Authorizer) *Session {
	return &Session{auth: auth}
}

// Connect autentica pelo método pedido. Na carteira, suspende até o usuário
// liberar as contas. Falhas deixam a sessão como estava.
func (s *Session) Connect(ctx context.Context, req Request) (State, error) {
	var (
		identity string
		err      error
	)
	switch req.Method {
	case MethodWallet:
		identity, err = s.authorizeWallet(ctx)
	case MethodCredentials:
		if strings.TrimSpace(req.Email) == "" || req.Password == "" {
			return s.State(), ErrMissingCredentials
		}
		identity, err = NormalizeEmail(req.Email)
	case MethodSocial:
		identity, err = SocialIdentity(req.Provider)
	default:
		return s.State(), errors.Wrapf(ErrInvalidIdentity, "método de conexão desconhecido: %q", req.Method)
	}
	if err != nil {
		return s.State(), err
	}

	st := s.update(func(st *State) bool {
		st.Identity = identity
		st.Method = req.Method
		if req.Method != MethodWallet {
			st.Network = ""
		}
		return true
	})
	log.WithFields(log.Fields{"identity": identity, "method": req.Method, "revision": st.Revision}).
		Info("Sessão conectada")
	return st, nil
}

func (s *Session) authorizeWallet(ctx context.Context) (string, error) {
	if s.auth == nil {
		return "", signer.ErrSignerUnavailable
	}
	raw, err := s.auth.RequestAuthorization(ctx)
	if err != nil {
		if errors.Is(err, signer.ErrUserRejected) {
			return "", errors.Mark(errors.Wrap(err, "conexão com a carteira recusada"), ErrAuthorizationDenied)
		}
		return "", errors.Wrap(err, "falha ao pedir autorização à carteira")
	}
	return NormalizeWallet(raw)
}

// Current devolve a identidade atual, sem suspender.
func (s *Session) Current() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Identity, s.state.Identity != ""
}

// State devolve o retrato atual.
func (s *Session) State() State {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

// Revision devolve a revisão atual.
func (s *Session) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Revision
}

// OnExternalChange aplica uma troca de conta informada pela carteira. Vazio
// significa carteira bloqueada. Sessões abertas por e-mail ou login social não
// são afetadas.
func (s *Session) OnExternalChange(identity string) {
	normalized := ""
	if strings.TrimSpace(identity) != "" {
		var err error
		normalized, err = NormalizeWallet(identity)
		if err != nil {
			log.WithError(err).Warn("Conta informada pela carteira é inválida, encerrando sessão")
		}
	}
	st, changed := s.updateIf(func(st *State) bool {
		if st.Method != MethodWallet || !st.Connected() || st.Identity == normalized {
			return false
		}
		st.Identity = normalized
		if normalized == "" {
			st.Method = ""
			st.Network = ""
		}
		return true
	})
	if changed {
		log.WithFields(log.Fields{"identity": st.Identity, "revision": st.Revision}).
			Warn("Conta da carteira trocada")
	}
}

// OnNetworkChange registra a troca de rede da carteira. Transações em voo na
// rede antiga ficam obsoletas.
func (s *Session) OnNetworkChange(chainID string) {
	st, changed := s.updateIf(func(st *State) bool {
		if st.Method != MethodWallet || !st.Connected() || st.Network == chainID {
			return false
		}
		st.Network = chainID
		return true
	})
	if changed {
		log.WithFields(log.Fields{"network": chainID, "revision": st.Revision}).Warn("Rede da carteira trocada")
	}
}

// Disconnect limpa a identidade e avança a revisão.
func (s *Session) Disconnect() State {
	st := s.update(func(st *State) bool {
		st.Identity = ""
		st.Method = ""
		st.Network = ""
		return true
	})
	log.WithField("revision", st.Revision).Info("Sessão desconectada")
	return st
}

// Watch registra fn para ser chamada, fora do lock, após cada troca de revisão.
func (s *Session) Watch(fn func(State)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.watchers = append(s.watchers, fn)
}

// Bind liga a sessão aos eventos da carteira. Sem carteira não há o que ouvir.
func (s *Session) Bind(sig signer.Signer) (unsubscribe func()) {
	if sig == nil {
		return func() {}
	}
	return sig.Subscribe(signer.Listener{
		OnAccountsChanged: func(accounts []string) {
			if len(accounts) == 0 {
				s.OnExternalChange("")
				return
			}
			s.OnExternalChange(accounts[0])
		},
		OnNetworkChanged: s.OnNetworkChange,
	})
}

func (s *Session) update(fn func(*State) bool) State {
	st, _ := s.updateIf(fn)
	return st
}

func (s *Session) updateIf(fn func(*State) bool) (State, bool) {
	s.mu.Lock()
	next := s.state
	if !fn(&next) {
		s.mu.Unlock()
		return next, false
	}
	next.Revision = max(next.Revision, s.state.Revision) + 1
	s.state = next
	watchers := slices.Clone(s.watchers)
	s.mu.Unlock()

	for _, w := range watchers {
		w(next)
	}
	return next, true
}
