package services_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ferreirogomes/artmarket/ledger"
	"github.com/ferreirogomes/artmarket/models"
	"github.com/ferreirogomes/artmarket/services"
	"github.com/ferreirogomes/artmarket/session"
	"github.com/ferreirogomes/artmarket/signer"
	signermock "github.com/ferreirogomes/artmarket/signer/mock"
)

const (
	alice = "alice@example.com"
	bob   = "bob@example.com"
	carol = "carol@example.com"
)

// MockContentStore é uma implementação mock de services.ContentStore.
type MockContentStore struct {
	mock.Mock
}

func (m *MockContentStore) UploadFile(ctx context.Context, name string, data []byte) (string, error) {
	args := m.Called(name, data)
	return args.String(0), args.Error(1)
}

func (m *MockContentStore) UploadJSON(ctx context.Context, name string, v any) (string, error) {
	args := m.Called(name, v)
	return args.String(0), args.Error(1)
}

type actor struct {
	svc     *services.TransactionService
	wallet  *signermock.Signer
	session *session.Session
}

func connect(t *testing.T, l *ledger.Ledger, email string, opts ...services.Option) actor {
	t.Helper()
	w := signermock.New("")
	sess := session.New(w)
	_, err := sess.Connect(context.Background(), session.Request{
		Method: session.MethodCredentials, Email: email, Password: "segredo",
	})
	require.NoError(t, err)
	svc := services.NewTransactionService(l, sess, w, opts...)
	t.Cleanup(svc.Close)
	return actor{svc: svc, wallet: w, session: sess}
}

func sunset() *models.Draft {
	return &models.Draft{
		Name:     "Sunset",
		Category: models.CategoryPainting,
		Price:    "0.5",
		Image:    models.ImageRef{Data: []byte("png")},
		List:     true,
	}
}

func wait(t *testing.T, svc *services.TransactionService, id string) models.PendingTransaction {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	tx, err := svc.Wait(ctx, id)
	require.NoError(t, err)
	require.True(t, tx.Status.Terminal(), "transação %s ainda em %s", id, tx.Status)
	return tx
}

func waitAwaiting(t *testing.T, svc *services.TransactionService, id string) models.PendingTransaction {
	t.Helper()
	var tx models.PendingTransaction
	require.Eventually(t, func() bool {
		var err error
		tx, err = svc.Status(id)
		return err == nil && tx.Status == models.StatusAwaitingConfirmation
	}, 2*time.Second, 5*time.Millisecond)
	return tx
}

// mintListed cria direto no ledger um ativo de alice à venda por 0.5.
func mintListed(t *testing.T, l *ledger.Ledger) models.Asset {
	t.Helper()
	a, err := l.Create(*sunset(), alice, "")
	require.NoError(t, err)
	require.True(t, a.ForSale)
	return a
}

func TestMintSettlesIntoLedger(t *testing.T) {
	l := ledger.New()
	a := connect(t, l, alice)

	tx, err := a.svc.Submit(context.Background(), models.Intent{Kind: models.KindMint, Draft: sunset()})
	require.NoError(t, err)
	assert.Equal(t, models.StatusSubmitted, tx.Status)
	assert.Equal(t, uint64(1), tx.Revision)

	call := a.wallet.Next(t)
	assert.Equal(t, models.KindMint, call.Payload.Kind)
	assert.Equal(t, alice, call.Payload.Actor)
	assert.Equal(t, "0.5", call.Payload.Price)
	assert.Equal(t, 0, l.Len(), "nada entra no ledger antes da liquidação")

	call.Approve()
	waitAwaiting(t, a.svc, tx.ID)
	call.Settle(nil)

	done := wait(t, a.svc, tx.ID)
	assert.Equal(t, models.StatusSettled, done.Status)
	require.NotEmpty(t, done.AssetID)

	asset, ok := l.Get(done.AssetID)
	require.True(t, ok)
	assert.Equal(t, alice, asset.Creator)
	assert.Equal(t, alice, asset.Owner)
	assert.True(t, asset.ForSale)
	assert.Equal(t, "Sunset", asset.Name)
	assert.Empty(t, asset.ChainRef)
}

func TestScenarioBuyThenSecondBuyIsStale(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	b := connect(t, l, bob)
	c := connect(t, l, carol)

	tx, err := b.svc.Submit(context.Background(), models.Intent{Kind: models.KindBuy, AssetID: a1.ID})
	require.NoError(t, err)
	assert.True(t, tx.ExpectedPrice.Equal(decimal.RequireFromString("0.5")))

	call := b.wallet.Next(t)
	assert.Equal(t, alice, call.Payload.Seller)
	call.Approve()
	call.Settle(nil)
	assert.Equal(t, models.StatusSettled, wait(t, b.svc, tx.ID).Status)

	got, _ := l.Get(a1.ID)
	assert.Equal(t, bob, got.Owner)
	assert.Equal(t, alice, got.Creator)
	assert.False(t, got.ForSale)

	_, err = c.svc.Submit(context.Background(), models.Intent{Kind: models.KindBuy, AssetID: a1.ID})
	require.Error(t, err)
	assert.True(t, errors.Is(err, services.ErrInvalidIntent))
	assert.True(t, errors.Is(err, ledger.ErrStaleListing))
	assert.Equal(t, 0, c.wallet.Submissions())
}

func TestDuplicateSettlementSignalsApplyOnce(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	b := connect(t, l, bob)

	var mu sync.Mutex
	settled := 0
	b.svc.Observe(func(_ models.Status, tx models.PendingTransaction) {
		if tx.Status == models.StatusSettled {
			mu.Lock()
			settled++
			mu.Unlock()
		}
	})

	tx, err := b.svc.Submit(context.Background(), models.Intent{Kind: models.KindBuy, AssetID: a1.ID})
	require.NoError(t, err)
	b.wallet.Next(t).Approve()
	awaiting := waitAwaiting(t, b.svc, tx.ID)
	ref := signer.Reference{ID: awaiting.Reference}

	var wg sync.WaitGroup
	for range 5 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			b.svc.HandleSettlement(ref, nil)
		}()
	}
	wg.Wait()
	b.svc.HandleSettlement(ref, nil)

	assert.Equal(t, models.StatusSettled, wait(t, b.svc, tx.ID).Status)
	mu.Lock()
	assert.Equal(t, 1, settled)
	mu.Unlock()

	got, _ := l.Get(a1.ID)
	assert.Equal(t, bob, got.Owner)
}

func TestConcurrentBuysExactlyOneSettles(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	buyers := []actor{connect(t, l, bob), connect(t, l, carol)}

	ids := make([]string, len(buyers))
	calls := make([]*signermock.Call, len(buyers))
	for i, b := range buyers {
		tx, err := b.svc.Submit(context.Background(), models.Intent{Kind: models.KindBuy, AssetID: a1.ID})
		require.NoError(t, err)
		ids[i] = tx.ID
		calls[i] = b.wallet.Next(t)
		calls[i].Approve()
	}
	for i, b := range buyers {
		waitAwaiting(t, b.svc, ids[i])
	}

	var wg sync.WaitGroup
	for _, c := range calls {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.Settle(nil)
		}()
	}
	wg.Wait()

	var winners []string
	for i, b := range buyers {
		tx := wait(t, b.svc, ids[i])
		switch tx.Status {
		case models.StatusSettled:
			winners = append(winners, tx.Actor)
		case models.StatusFailed:
			assert.Equal(t, services.ReasonStaleListing, tx.Reason)
		default:
			t.Fatalf("estado inesperado %s", tx.Status)
		}
	}
	require.Len(t, winners, 1)

	got, _ := l.Get(a1.ID)
	assert.Equal(t, winners[0], got.Owner)
	assert.Equal(t, alice, got.Creator)
}

func TestScenarioDisconnectWhileAwaitingDiscardsSettlement(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	a := connect(t, l, alice)

	tx, err := a.svc.Submit(context.Background(), models.Intent{Kind: models.KindList, AssetID: a1.ID, Price: "1.0"})
	require.NoError(t, err)
	call := a.wallet.Next(t)
	call.Approve()
	waitAwaiting(t, a.svc, tx.ID)

	a.session.Disconnect()
	st, err := a.svc.Status(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingConfirmation, st.Status)
	assert.True(t, st.CancelRequested)

	call.Settle(nil)
	done := wait(t, a.svc, tx.ID)
	assert.Equal(t, models.StatusRejected, done.Status)
	assert.Equal(t, services.ReasonSessionChanged, done.Reason)

	got, _ := l.Get(a1.ID)
	assert.Equal(t, "0.5", got.Price.String())
	assert.Equal(t, alice, got.Owner)
}

func TestDisconnectBeforeSigningRejectsAtOnce(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	a := connect(t, l, alice)

	tx, err := a.svc.Submit(context.Background(), models.Intent{Kind: models.KindList, AssetID: a1.ID, Price: "1.0"})
	require.NoError(t, err)
	a.wallet.Next(t)

	a.session.Disconnect()
	done := wait(t, a.svc, tx.ID)
	assert.Equal(t, models.StatusRejected, done.Status)
	assert.Equal(t, services.ReasonSessionChanged, done.Reason)

	got, _ := l.Get(a1.ID)
	assert.Equal(t, "0.5", got.Price.String())
}

func TestAccountSwitchDiscardsSettlement(t *testing.T) {
	l := ledger.New()
	const wallet = "0x52908400098527886E0F7030069857D2E4169EE7"
	a1, err := l.Create(*sunset(), wallet, "")
	require.NoError(t, err)

	w := signermock.New(wallet)
	sess := session.New(w)
	sess.Bind(w)
	_, err = sess.Connect(context.Background(), session.Request{Method: session.MethodWallet})
	require.NoError(t, err)
	svc := services.NewTransactionService(l, sess, w)
	t.Cleanup(svc.Close)

	tx, err := svc.Submit(context.Background(), models.Intent{Kind: models.KindCancel, AssetID: a1.ID})
	require.NoError(t, err)
	call := w.Next(t)
	call.Approve()
	waitAwaiting(t, svc, tx.ID)

	w.SwitchAccount("0x000000000000000000000000000000000000dEaD")
	call.Settle(nil)

	done := wait(t, svc, tx.ID)
	assert.Equal(t, services.ReasonSessionChanged, done.Reason)
	got, _ := l.Get(a1.ID)
	assert.True(t, got.ForSale)
}

func TestDuplicatePendingIsRefused(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	a := connect(t, l, alice)

	first, err := a.svc.Submit(context.Background(), models.Intent{Kind: models.KindList, AssetID: a1.ID, Price: "2"})
	require.NoError(t, err)
	_, err = a.svc.Submit(context.Background(), models.Intent{Kind: models.KindList, AssetID: a1.ID, Price: "3"})
	assert.ErrorIs(t, err, services.ErrDuplicatePending)

	// Outro tipo no mesmo ativo é independente.
	other, err := a.svc.Submit(context.Background(), models.Intent{Kind: models.KindCancel, AssetID: a1.ID})
	require.NoError(t, err)

	call := a.wallet.Next(t)
	call.Fail(signer.ErrUserRejected)
	a.wallet.Next(t).Fail(signer.ErrUserRejected)
	assert.Equal(t, models.StatusRejected, wait(t, a.svc, first.ID).Status)
	wait(t, a.svc, other.ID)

	_, err = a.svc.Submit(context.Background(), models.Intent{Kind: models.KindList, AssetID: a1.ID, Price: "3"})
	assert.NoError(t, err, "terminada a anterior, uma nova intenção é aceita")
}

func TestDuplicateMintByName(t *testing.T) {
	l := ledger.New()
	a := connect(t, l, alice)

	_, err := a.svc.Submit(context.Background(), models.Intent{Kind: models.KindMint, Draft: sunset()})
	require.NoError(t, err)
	again := sunset()
	again.Name = "  SUNSET "
	_, err = a.svc.Submit(context.Background(), models.Intent{Kind: models.KindMint, Draft: again})
	assert.ErrorIs(t, err, services.ErrDuplicatePending)
}

func TestSubmitPreconditionsFailBeforeSigner(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	a := connect(t, l, alice)
	b := connect(t, l, bob)
	ctx := context.Background()

	cases := []struct {
		name   string
		svc    *services.TransactionService
		intent models.Intent
		cause  error
	}{
		{"mint sem campos", a.svc, models.Intent{Kind: models.KindMint, Draft: &models.Draft{}}, ledger.ErrValidation},
		{"list de outro dono", b.svc, models.Intent{Kind: models.KindList, AssetID: a1.ID, Price: "1"}, ledger.ErrNotOwner},
		{"list sem preço", a.svc, models.Intent{Kind: models.KindList, AssetID: a1.ID, Price: "abc"}, ledger.ErrValidation},
		{"cancel de outro dono", b.svc, models.Intent{Kind: models.KindCancel, AssetID: a1.ID}, ledger.ErrNotOwner},
		{"comprar o próprio", a.svc, models.Intent{Kind: models.KindBuy, AssetID: a1.ID}, ledger.ErrAlreadyOwned},
		{"ativo inexistente", b.svc, models.Intent{Kind: models.KindBuy, AssetID: "nope"}, ledger.ErrNotFound},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := tc.svc.Submit(ctx, tc.intent)
			require.Error(t, err)
			assert.True(t, errors.Is(err, services.ErrInvalidIntent))
			assert.True(t, errors.Is(err, tc.cause))
		})
	}

	_, err := a.svc.Submit(ctx, models.Intent{Kind: "burn", AssetID: a1.ID})
	assert.ErrorIs(t, err, services.ErrInvalidIntent)

	a.session.Disconnect()
	_, err = a.svc.Submit(ctx, models.Intent{Kind: models.KindCancel, AssetID: a1.ID})
	assert.True(t, errors.Is(err, session.ErrNotConnected))

	assert.Equal(t, 0, a.wallet.Submissions())
	assert.Equal(t, 0, b.wallet.Submissions())
}

func TestSignerFailuresMapToTerminalStates(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	b := connect(t, l, bob)

	cases := []struct {
		name   string
		fail   func(*signermock.Call)
		status models.Status
		reason string
	}{
		{"usuário recusou", func(c *signermock.Call) { c.Fail(signer.ErrUserRejected) }, models.StatusRejected, services.ReasonUserRejected},
		{"carteira indisponível", func(c *signermock.Call) { c.Fail(signer.ErrSignerUnavailable) }, models.StatusFailed, services.ReasonSignerUnavailable},
		{"erro de transporte", func(c *signermock.Call) { c.Fail(errors.New("rpc fora do ar")) }, models.StatusFailed, services.ReasonTransportError},
		{"liquidação falhou", func(c *signermock.Call) {
			c.Approve()
			c.Settle(errors.Mark(errors.New("revertida"), signer.ErrTransportError))
		}, models.StatusFailed, services.ReasonTransportError},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tx, err := b.svc.Submit(context.Background(), models.Intent{Kind: models.KindBuy, AssetID: a1.ID})
			require.NoError(t, err)
			tc.fail(b.wallet.Next(t))

			done := wait(t, b.svc, tx.ID)
			assert.Equal(t, tc.status, done.Status)
			assert.Equal(t, tc.reason, done.Reason)

			got, _ := l.Get(a1.ID)
			assert.Equal(t, alice, got.Owner)
			assert.True(t, got.ForSale)
		})
	}
}

func TestCancel(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	a := connect(t, l, alice)

	_, err := a.svc.Cancel("nope")
	assert.ErrorIs(t, err, services.ErrPendingNotFound)

	// Antes da assinatura, termina na hora.
	tx, err := a.svc.Submit(context.Background(), models.Intent{Kind: models.KindList, AssetID: a1.ID, Price: "4"})
	require.NoError(t, err)
	a.wallet.Next(t)
	cancelled, err := a.svc.Cancel(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, cancelled.Status)
	assert.Equal(t, services.ReasonCancelled, cancelled.Reason)

	_, err = a.svc.Cancel(tx.ID)
	assert.ErrorIs(t, err, services.ErrNotCancellable)

	// Depois da assinatura, a liquidação decide.
	tx, err = a.svc.Submit(context.Background(), models.Intent{Kind: models.KindList, AssetID: a1.ID, Price: "4"})
	require.NoError(t, err)
	call := a.wallet.Next(t)
	call.Approve()
	waitAwaiting(t, a.svc, tx.ID)

	requested, err := a.svc.Cancel(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusAwaitingConfirmation, requested.Status)
	assert.True(t, requested.CancelRequested)

	call.Settle(nil)
	assert.Equal(t, models.StatusSettled, wait(t, a.svc, tx.ID).Status)
	got, _ := l.Get(a1.ID)
	assert.Equal(t, "4", got.Price.String())
}

func TestClearAllDataDiscardsSettlement(t *testing.T) {
	l := ledger.New()
	a := connect(t, l, alice)

	tx, err := a.svc.Submit(context.Background(), models.Intent{Kind: models.KindMint, Draft: sunset()})
	require.NoError(t, err)
	call := a.wallet.Next(t)
	call.Approve()
	waitAwaiting(t, a.svc, tx.ID)

	l.Clear()
	call.Settle(nil)

	done := wait(t, a.svc, tx.ID)
	assert.Equal(t, models.StatusRejected, done.Status)
	assert.Equal(t, services.ReasonSessionChanged, done.Reason)
	assert.Equal(t, 0, l.Len())
}

func TestSettlementTimeout(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	b := connect(t, l, bob, services.WithSettlementTimeout(20*time.Millisecond))

	tx, err := b.svc.Submit(context.Background(), models.Intent{Kind: models.KindBuy, AssetID: a1.ID})
	require.NoError(t, err)
	b.wallet.Next(t).Approve()

	done := wait(t, b.svc, tx.ID)
	assert.Equal(t, models.StatusFailed, done.Status)
	assert.Equal(t, services.ReasonTimeout, done.Reason)
}

func TestMintPinsContentBeforeSigning(t *testing.T) {
	l := ledger.New()
	content := new(MockContentStore)
	content.On("UploadFile", "Sunset", []byte("png")).Return("ipfs://QmImage", nil).Once()
	content.On("UploadJSON", "Sunset metadata", map[string]string{
		"name": "Sunset", "description": "", "image": "ipfs://QmImage",
	}).Return("ipfs://QmMeta", nil).Once()

	a := connect(t, l, alice, services.WithContentStore(content))
	a.wallet.OnChain = true

	tx, err := a.svc.Submit(context.Background(), models.Intent{Kind: models.KindMint, Draft: sunset()})
	require.NoError(t, err)
	call := a.wallet.Next(t)
	assert.Equal(t, "ipfs://QmMeta", call.Payload.TokenURI)
	call.Approve()
	call.Settle(nil)

	done := wait(t, a.svc, tx.ID)
	require.Equal(t, models.StatusSettled, done.Status)
	asset, _ := l.Get(done.AssetID)
	assert.Equal(t, "ipfs://QmImage", asset.Image.Locator)
	assert.Empty(t, asset.Image.Data)
	assert.Equal(t, call.Ref.ID, asset.ChainRef)
	content.AssertExpectations(t)
}

func TestMintUploadFailureFails(t *testing.T) {
	l := ledger.New()
	content := new(MockContentStore)
	content.On("UploadFile", mock.Anything, mock.Anything).Return("", errors.New("pinata 401"))

	a := connect(t, l, alice, services.WithContentStore(content))
	tx, err := a.svc.Submit(context.Background(), models.Intent{Kind: models.KindMint, Draft: sunset()})
	require.NoError(t, err)

	done := wait(t, a.svc, tx.ID)
	assert.Equal(t, models.StatusFailed, done.Status)
	assert.Equal(t, services.ReasonTransportError, done.Reason)
	assert.Equal(t, 0, a.wallet.Submissions())
	assert.Equal(t, 0, l.Len())
}

func TestRateLimitedIntents(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	a := connect(t, l, alice, services.WithLimiter(services.NewIntentLimiter(0.001, 1)))

	_, err := a.svc.Submit(context.Background(), models.Intent{Kind: models.KindCancel, AssetID: a1.ID})
	require.NoError(t, err)
	_, err = a.svc.Submit(context.Background(), models.Intent{Kind: models.KindList, AssetID: a1.ID, Price: "2"})
	assert.ErrorIs(t, err, services.ErrRateLimited)
}

func TestAwaitingReferencesAndList(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	b := connect(t, l, bob)

	tx, err := b.svc.Submit(context.Background(), models.Intent{Kind: models.KindBuy, AssetID: a1.ID})
	require.NoError(t, err)
	assert.Empty(t, b.svc.AwaitingReferences())

	call := b.wallet.Next(t)
	call.Approve()
	waitAwaiting(t, b.svc, tx.ID)
	assert.Equal(t, []signer.Reference{call.Ref}, b.svc.AwaitingReferences())

	list := b.svc.List()
	require.Len(t, list, 1)
	assert.Equal(t, tx.ID, list[0].ID)

	call.Settle(nil)
	wait(t, b.svc, tx.ID)
	assert.Empty(t, b.svc.AwaitingReferences())
}

func TestCloseRejectsLiveTransactions(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	b := connect(t, l, bob)

	tx, err := b.svc.Submit(context.Background(), models.Intent{Kind: models.KindBuy, AssetID: a1.ID})
	require.NoError(t, err)
	b.wallet.Next(t)

	b.svc.Close()
	done, err := b.svc.Status(tx.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, done.Status)
	assert.Equal(t, services.ReasonCancelled, done.Reason)
}

// MockBroadcaster é uma implementação mock de signer.Broadcaster.
type MockBroadcaster struct {
	mock.Mock
}

func (m *MockBroadcaster) Broadcast(ctx context.Context, p signer.Payload, signed string) (signer.Reference, error) {
	args := m.Called(p.Kind, signed)
	return args.Get(0).(signer.Reference), args.Error(1)
}

func (m *MockBroadcaster) Confirm(ctx context.Context, ref signer.Reference) (bool, error) {
	args := m.Called(ref)
	return args.Bool(0), args.Error(1)
}

func TestBuySettlesAfterTransientConfirmError(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)

	ref := signer.Reference{ID: "sig-1", OnChain: true}
	bc := new(MockBroadcaster)
	bc.On("Broadcast", models.KindBuy, "assinada").Return(ref, nil).Once()
	bc.On("Confirm", ref).Return(false, errors.New("connection reset by peer")).Once()
	bc.On("Confirm", ref).Return(true, nil)
	bridge := signer.NewBridge(bc, time.Millisecond)

	sess := session.New(bridge)
	_, err := sess.Connect(context.Background(), session.Request{Method: session.MethodCredentials, Email: bob, Password: "segredo"})
	require.NoError(t, err)
	svc := services.NewTransactionService(l, sess, bridge)
	t.Cleanup(svc.Close)

	tx, err := svc.Submit(context.Background(), models.Intent{Kind: models.KindBuy, AssetID: a1.ID})
	require.NoError(t, err)
	var reqs []signer.SigningRequest
	require.Eventually(t, func() bool {
		reqs = bridge.Requests()
		return len(reqs) == 1
	}, 2*time.Second, 5*time.Millisecond)
	require.NoError(t, bridge.Approve(reqs[0].ID, "assinada"))

	done := wait(t, svc, tx.ID)
	assert.Equal(t, models.StatusSettled, done.Status)
	got, _ := l.Get(a1.ID)
	assert.Equal(t, bob, got.Owner)
	assert.False(t, got.ForSale)
}

func TestSessionChangeReleasesStaleAwaitingSlot(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	b := connect(t, l, bob)

	old, err := b.svc.Submit(context.Background(), models.Intent{Kind: models.KindBuy, AssetID: a1.ID})
	require.NoError(t, err)
	oldCall := b.wallet.Next(t)
	oldCall.Approve()
	waitAwaiting(t, b.svc, old.ID)

	b.session.Disconnect()
	_, err = b.session.Connect(context.Background(), session.Request{Method: session.MethodCredentials, Email: carol, Password: "segredo"})
	require.NoError(t, err)

	fresh, err := b.svc.Submit(context.Background(), models.Intent{Kind: models.KindBuy, AssetID: a1.ID})
	require.NoError(t, err, "a transação antiga não pode segurar a vaga da nova identidade")
	st, _ := b.svc.Status(old.ID)
	assert.Equal(t, models.StatusAwaitingConfirmation, st.Status)

	_, err = b.svc.Submit(context.Background(), models.Intent{Kind: models.KindBuy, AssetID: a1.ID})
	assert.ErrorIs(t, err, services.ErrDuplicatePending)

	oldCall.Settle(nil)
	assert.Equal(t, services.ReasonSessionChanged, wait(t, b.svc, old.ID).Reason)

	call := b.wallet.Next(t)
	call.Approve()
	call.Settle(nil)
	assert.Equal(t, models.StatusSettled, wait(t, b.svc, fresh.ID).Status)
	got, _ := l.Get(a1.ID)
	assert.Equal(t, carol, got.Owner)
}

func TestSessionChangeDuringSubmitIsRefused(t *testing.T) {
	l := ledger.New()
	a1 := mintListed(t, l)
	a := connect(t, l, alice)
	services.SetBeforeRegister(a.svc, func() { a.session.Disconnect() })

	_, err := a.svc.Submit(context.Background(), models.Intent{Kind: models.KindCancel, AssetID: a1.ID})
	assert.ErrorIs(t, err, services.ErrSessionChanged)
	assert.Empty(t, a.svc.List())
	assert.Equal(t, 0, a.wallet.Submissions())
}
