package wallet

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"sync"
	"testing"
	"time"

	"AuditFi/internal/chains"
	xerrors "AuditFi/internal/errors"
	"AuditFi/internal/notify"
	"AuditFi/internal/session"
	"AuditFi/internal/wallet/provider"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

const (
	accountA = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa1111"
	accountB = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb2222"
)

// fakeWallet is an in-memory wallet provider.
type fakeWallet struct {
	mu         sync.Mutex
	accounts   []string
	chainID    uint64
	balance    *big.Int
	balanceErr error
	requestErr error
	switchErr  error
	calls      map[string]int
	switchedTo []string
	sentTx     []map[string]any

	// When set, eth_requestAccounts signals entered and waits for release.
	entered chan struct{}
	release chan struct{}

	nextID    provider.ListenerID
	listeners map[provider.ListenerID]listenerEntry
}

type listenerEntry struct {
	event   provider.EventName
	handler provider.Handler
}

func newFakeWallet(chainID uint64, accounts ...string) *fakeWallet {
	return &fakeWallet{
		accounts:  accounts,
		chainID:   chainID,
		balance:   big.NewInt(2_500_000_000_000_000_000),
		calls:     make(map[string]int),
		listeners: make(map[provider.ListenerID]listenerEntry),
	}
}

func (w *fakeWallet) Request(ctx context.Context, result any, method string, params ...any) error {
	w.mu.Lock()
	w.calls[method]++
	entered, release := w.entered, w.release
	w.mu.Unlock()

	switch method {
	case provider.MethodRequestAccounts:
		if entered != nil {
			entered <- struct{}{}
			select {
			case <-release:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.requestErr != nil {
			return w.requestErr
		}
		*result.(*[]string) = append([]string(nil), w.accounts...)
	case provider.MethodAccounts:
		w.mu.Lock()
		defer w.mu.Unlock()
		*result.(*[]string) = append([]string(nil), w.accounts...)
	case provider.MethodChainID:
		w.mu.Lock()
		defer w.mu.Unlock()
		*result.(*string) = hexutil.EncodeUint64(w.chainID)
	case provider.MethodGetBalance:
		w.mu.Lock()
		defer w.mu.Unlock()
		if w.balanceErr != nil {
			return w.balanceErr
		}
		(*big.Int)(result.(*hexutil.Big)).Set(w.balance)
	case provider.MethodSwitchChain:
		raw, _ := json.Marshal(params[0])
		var p struct {
			ChainID string `json:"chainId"`
		}
		_ = json.Unmarshal(raw, &p)
		w.mu.Lock()
		defer w.mu.Unlock()
		w.switchedTo = append(w.switchedTo, p.ChainID)
		return w.switchErr
	case provider.MethodSendTransaction:
		raw, _ := json.Marshal(params[0])
		var tx map[string]any
		_ = json.Unmarshal(raw, &tx)
		w.mu.Lock()
		defer w.mu.Unlock()
		w.sentTx = append(w.sentTx, tx)
		*result.(*common.Hash) = common.HexToHash("0x01")
	default:
		return &provider.RPCError{Code: provider.ErrCodeUnsupported, Message: "unsupported method " + method}
	}
	return nil
}

func (w *fakeWallet) On(event provider.EventName, handler provider.Handler) provider.ListenerID {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.nextID++
	w.listeners[w.nextID] = listenerEntry{event: event, handler: handler}
	return w.nextID
}

func (w *fakeWallet) RemoveListener(_ provider.EventName, id provider.ListenerID) {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.listeners, id)
}

func (w *fakeWallet) listenerCount() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.listeners)
}

func (w *fakeWallet) emit(ev provider.Event) {
	w.mu.Lock()
	var handlers []provider.Handler
	for id := provider.ListenerID(1); id <= w.nextID; id++ {
		if l, ok := w.listeners[id]; ok && l.event == ev.Name {
			handlers = append(handlers, l.handler)
		}
	}
	w.mu.Unlock()
	for _, h := range handlers {
		h(ev)
	}
}

func (w *fakeWallet) count(method string) int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.calls[method]
}

func (w *fakeWallet) switches() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]string(nil), w.switchedTo...)
}

type recorder struct {
	mu     sync.Mutex
	events []notify.Event
}

func (r *recorder) Publish(_ context.Context, ev notify.Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, ev)
	return nil
}

func (r *recorder) types() []notify.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]notify.Type, 0, len(r.events))
	for _, ev := range r.events {
		out = append(out, ev.Type)
	}
	return out
}

type harness struct {
	wallet    *fakeWallet
	ctrl      *Controller
	flag      *session.MemoryFlag
	published *recorder
}

func newHarness(t *testing.T, w *fakeWallet) *harness {
	t.Helper()
	reg, err := chains.NewRegistry(chains.DefaultChainID)
	if err != nil {
		t.Fatalf("registry: %v", err)
	}
	h := &harness{wallet: w, flag: session.NewMemoryFlag(0), published: &recorder{}}
	var p provider.Provider
	if w != nil {
		p = w
	}
	h.ctrl = New(provider.NewGateway(p), reg, WithFlag(h.flag), WithPublisher(h.published))
	return h
}

// run starts the notification loop and waits until it is subscribed.
func (h *harness) run(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	eventually(t, func() bool { return h.wallet.listenerCount() == 2 })
	// Hydration runs before the first event is drained.
	eventually(t, func() bool { return h.wallet.count(provider.MethodChainID) >= 1 })
}

func (h *harness) connected(t *testing.T) bool {
	t.Helper()
	ok, err := h.flag.Connected(context.Background())
	if err != nil {
		t.Fatalf("flag: %v", err)
	}
	return ok
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before deadline")
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func expectNavigation(t *testing.T, c *Controller, path string) {
	t.Helper()
	select {
	case nav := <-c.Navigations():
		if nav.Path != path {
			t.Fatalf("expected navigation to %s, got %+v", path, nav)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("expected navigation to %s", path)
	}
}

func expectNoNavigation(t *testing.T, c *Controller) {
	t.Helper()
	select {
	case nav := <-c.Navigations():
		t.Fatalf("unexpected navigation %+v", nav)
	default:
	}
}

func TestConnectOnDefaultChain(t *testing.T) {
	h := newHarness(t, newFakeWallet(1043, accountA))

	if err := h.ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	st := h.ctrl.State()
	if st.Phase != PhaseConnected || st.Address != accountA {
		t.Fatalf("unexpected state %+v", st)
	}
	if st.ChainID == nil || *st.ChainID != 1043 {
		t.Fatalf("unexpected chain id %v", st.ChainID)
	}
	if st.Chain == nil || st.Chain.Name != "BlockDAG Testnet" {
		t.Fatalf("expected BlockDAG Testnet config, got %+v", st.Chain)
	}
	if st.Balance != "2.5" {
		t.Fatalf("unexpected balance %q", st.Balance)
	}
	if n := len(h.wallet.switches()); n != 0 {
		t.Fatalf("no switch expected on the default chain, got %d", n)
	}
	if !h.connected(t) {
		t.Fatal("connected flag must be written")
	}
	if got := h.published.types(); len(got) != 1 || got[0] != notify.TypeConnected {
		t.Fatalf("unexpected transitions %v", got)
	}
	expectNoNavigation(t, h.ctrl)
}

func TestConnectOffDefaultChainSwitchesOnce(t *testing.T) {
	w := newFakeWallet(1, accountA)
	w.switchErr = &provider.RPCError{Code: provider.ErrCodeUserRejected, Message: "User rejected the request."}
	h := newHarness(t, w)
	ctx := context.Background()

	if err := h.ctrl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if got := w.switches(); len(got) != 1 || got[0] != "0x413" {
		t.Fatalf("expected exactly one switch to 0x413, got %v", got)
	}
	st := h.ctrl.State()
	if st.Phase != PhaseConnected {
		t.Fatalf("rejected switch must keep the connection, got %s", st.Phase)
	}
	if st.Chain == nil || st.Chain.ID != 1 {
		t.Fatalf("expected to remain on Ethereum, got %+v", st.Chain)
	}
	types := h.published.types()
	if len(types) != 2 || types[1] != notify.TypeChainSwitchRejected {
		t.Fatalf("expected rejected switch transition, got %v", types)
	}

	// Every connect attempt enforces the default chain once more.
	if err := h.ctrl.Connect(ctx); err != nil {
		t.Fatalf("second connect: %v", err)
	}
	if n := len(w.switches()); n != 2 {
		t.Fatalf("expected one switch per connect attempt, got %d", n)
	}

	_ = h.ctrl.Disconnect(ctx)
	expectNavigation(t, h.ctrl, "/wallet")
	if err := h.ctrl.Connect(ctx); err != nil {
		t.Fatalf("reconnect: %v", err)
	}
	if n := len(w.switches()); n != 3 {
		t.Fatalf("expected one switch per connect attempt, got %d", n)
	}
}

func TestConnectOverRestoredSessionEnforcesDefaultChain(t *testing.T) {
	w := newFakeWallet(1, accountA)
	h := newHarness(t, w)
	h.run(t)
	eventually(t, func() bool { return h.ctrl.State().Connected() })
	if n := len(w.switches()); n != 0 {
		t.Fatalf("hydration must not switch chains, got %d", n)
	}

	if err := h.ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	if n := w.count(provider.MethodRequestAccounts); n != 1 {
		t.Fatalf("expected a prompt over the restored session, got %d", n)
	}
	if got := w.switches(); len(got) != 1 || got[0] != "0x413" {
		t.Fatalf("expected a switch to 0x413, got %v", got)
	}
	st := h.ctrl.State()
	if st.Phase != PhaseConnected || st.Address != accountA {
		t.Fatalf("unexpected state %+v", st)
	}
	for _, typ := range h.published.types() {
		if typ == notify.TypeAccountChanged {
			t.Fatal("same account must not publish an account change")
		}
	}
}

func TestConnectRejectedKeepsExistingSession(t *testing.T) {
	w := newFakeWallet(1043, accountA)
	h := newHarness(t, w)
	ctx := context.Background()
	if err := h.ctrl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	w.mu.Lock()
	w.requestErr = &provider.RPCError{Code: provider.ErrCodeUserRejected, Message: "User rejected the request."}
	w.mu.Unlock()

	if err := h.ctrl.Connect(ctx); !xerrors.HasCode(err, xerrors.CodeUserRejected) {
		t.Fatalf("expected %s, got %v", xerrors.CodeUserRejected, err)
	}
	st := h.ctrl.State()
	if st.Phase != PhaseConnected || st.Address != accountA || st.Balance != "2.5" {
		t.Fatalf("rejected prompt must keep the session, got %+v", st)
	}
	if !h.connected(t) {
		t.Fatal("rejected prompt must keep the flag")
	}
}

func TestConnectFailures(t *testing.T) {
	cases := []struct {
		name   string
		wallet *fakeWallet
		code   xerrors.Code
	}{
		{
			name: "rejected",
			wallet: func() *fakeWallet {
				w := newFakeWallet(1043, accountA)
				w.requestErr = &provider.RPCError{Code: provider.ErrCodeUserRejected, Message: "User rejected the request."}
				return w
			}(),
			code: xerrors.CodeUserRejected,
		},
		{
			name:   "empty accounts",
			wallet: newFakeWallet(1043),
			code:   xerrors.CodeUserRejected,
		},
		{
			name:   "no provider",
			wallet: nil,
			code:   xerrors.CodeProviderUnavailable,
		},
		{
			name: "provider error",
			wallet: func() *fakeWallet {
				w := newFakeWallet(1043, accountA)
				w.requestErr = errors.New("bridge crashed")
				return w
			}(),
			code: xerrors.CodeProviderFailure,
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := newHarness(t, tc.wallet)
			_ = h.flag.SetConnected(context.Background(), true)

			err := h.ctrl.Connect(context.Background())
			if !xerrors.HasCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
			st := h.ctrl.State()
			if st.Phase != PhaseDisconnected || st.Address != "" || st.Balance != "" {
				t.Fatalf("failed connect must end disconnected, got %+v", st)
			}
			if h.connected(t) {
				t.Fatal("failed connect must clear the flag")
			}
		})
	}
}

func TestConcurrentConnectIsNoop(t *testing.T) {
	w := newFakeWallet(1043, accountA)
	w.entered = make(chan struct{}, 1)
	w.release = make(chan struct{})
	h := newHarness(t, w)
	ctx := context.Background()

	first := make(chan error, 1)
	go func() { first <- h.ctrl.Connect(ctx) }()
	<-w.entered

	for i := 0; i < 3; i++ {
		if err := h.ctrl.Connect(ctx); err != nil {
			t.Fatalf("overlapping connect returned %v", err)
		}
	}
	if st := h.ctrl.State(); st.Phase != PhaseConnecting {
		t.Fatalf("expected connecting, got %s", st.Phase)
	}

	close(w.release)
	if err := <-first; err != nil {
		t.Fatalf("connect: %v", err)
	}
	if n := w.count(provider.MethodRequestAccounts); n != 1 {
		t.Fatalf("expected a single prompt, got %d", n)
	}
	if st := h.ctrl.State(); st.Phase != PhaseConnected {
		t.Fatalf("expected connected, got %s", st.Phase)
	}
}

func TestPendingRedirectNavigatesOnce(t *testing.T) {
	h := newHarness(t, newFakeWallet(1043, accountA))
	ctx := context.Background()

	h.ctrl.SetPendingRedirect("/audit?tab=new")
	if err := h.ctrl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	expectNavigation(t, h.ctrl, "/audit?tab=new")
	if h.ctrl.PendingRedirect() != "" {
		t.Fatal("pending redirect must be consumed")
	}

	if err := h.ctrl.Connect(ctx); err != nil {
		t.Fatalf("connect again: %v", err)
	}
	expectNoNavigation(t, h.ctrl)
}

func TestPendingRedirectWhileConnected(t *testing.T) {
	h := newHarness(t, newFakeWallet(1043, accountA))
	ctx := context.Background()
	if err := h.ctrl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	h.ctrl.SetPendingRedirect("/reports")
	expectNavigation(t, h.ctrl, "/reports")
	if got := h.ctrl.PendingRedirect(); got != "" {
		t.Fatalf("redirect must not stay pending while connected, got %q", got)
	}

	// A later account switch must not replay the redirect.
	h.ctrl.onAccountsChanged(ctx, []string{accountB})
	expectNoNavigation(t, h.ctrl)
}

func TestDisconnectClearsState(t *testing.T) {
	h := newHarness(t, newFakeWallet(1043, accountA))
	ctx := context.Background()
	if err := h.ctrl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}

	if err := h.ctrl.Disconnect(ctx); err != nil {
		t.Fatalf("disconnect: %v", err)
	}
	st := h.ctrl.State()
	if st.Phase != PhaseDisconnected || st.Address != "" || st.ChainID != nil || st.Chain != nil || st.Balance != "" {
		t.Fatalf("disconnect must clear every field, got %+v", st)
	}
	if h.connected(t) {
		t.Fatal("disconnect must clear the flag")
	}
	expectNavigation(t, h.ctrl, DefaultConnectPath)
}

func TestAccountsChangedEndingEmptyDisconnects(t *testing.T) {
	sequences := [][][]string{
		{{}},
		{{accountB}, {}},
		{{accountB}, {accountA, accountB}, {}},
		{{}, {accountA}, {}},
	}
	for _, seq := range sequences {
		h := newHarness(t, newFakeWallet(1043, accountA))
		h.run(t)
		eventually(t, func() bool { return h.ctrl.State().Connected() })

		for _, accounts := range seq {
			h.wallet.emit(provider.Event{Name: provider.EventAccountsChanged, Accounts: accounts})
		}
		// Events are applied in order, so the marker lands last.
		h.wallet.emit(provider.Event{Name: provider.EventChainChanged, ChainID: "0x2a"})
		eventually(t, func() bool {
			st := h.ctrl.State()
			return st.ChainID != nil && *st.ChainID == 42
		})
		st := h.ctrl.State()
		if st.Phase != PhaseDisconnected || st.Address != "" || st.Balance != "" {
			t.Fatalf("sequence %v left %+v", seq, st)
		}
		if h.connected(t) {
			t.Fatalf("sequence %v left the flag set", seq)
		}
	}
}

func TestAccountsChangedAdoptsFirstAccount(t *testing.T) {
	h := newHarness(t, newFakeWallet(1043, accountA))
	h.run(t)
	eventually(t, func() bool { return h.ctrl.State().Connected() })

	h.ctrl.SetPendingRedirect("/profile")
	h.wallet.emit(provider.Event{Name: provider.EventAccountsChanged, Accounts: []string{accountB, accountA}})
	eventually(t, func() bool { return h.ctrl.State().Address == accountB })
	expectNavigation(t, h.ctrl, "/profile")
	eventually(t, func() bool { return h.ctrl.State().Balance == "2.5" })
}

func TestAccountsChangedEmptyNavigatesHome(t *testing.T) {
	h := newHarness(t, newFakeWallet(1043, accountA))
	h.run(t)
	eventually(t, func() bool { return h.ctrl.State().Connected() })

	h.wallet.emit(provider.Event{Name: provider.EventAccountsChanged})
	expectNavigation(t, h.ctrl, "/")
}

func TestChainChangedUnsupportedKeepsID(t *testing.T) {
	h := newHarness(t, newFakeWallet(1043, accountA))
	h.run(t)
	eventually(t, func() bool { return h.ctrl.State().Connected() })

	h.wallet.emit(provider.Event{Name: provider.EventChainChanged, ChainID: "0x2a"})
	eventually(t, func() bool {
		st := h.ctrl.State()
		return st.ChainID != nil && *st.ChainID == 42
	})
	st := h.ctrl.State()
	if st.Chain != nil || st.Supported() {
		t.Fatalf("unknown chain must not resolve a config, got %+v", st.Chain)
	}
	if st.Phase != PhaseConnected {
		t.Fatalf("chain change must not disconnect, got %s", st.Phase)
	}

	h.wallet.emit(provider.Event{Name: provider.EventChainChanged, ChainID: "0x89"})
	eventually(t, func() bool {
		st := h.ctrl.State()
		return st.Chain != nil && st.Chain.ID == 137
	})
	expectNoNavigation(t, h.ctrl)
}

func TestChainChangedMalformedIgnored(t *testing.T) {
	h := newHarness(t, newFakeWallet(1043, accountA))
	h.run(t)
	eventually(t, func() bool { return h.ctrl.State().Connected() })

	h.wallet.emit(provider.Event{Name: provider.EventChainChanged, ChainID: "not-hex"})
	h.wallet.emit(provider.Event{Name: provider.EventChainChanged, ChainID: "0xa"})
	eventually(t, func() bool {
		st := h.ctrl.State()
		return st.ChainID != nil && *st.ChainID == 10
	})
}

func TestBalanceFailureKeepsPrevious(t *testing.T) {
	w := newFakeWallet(1043, accountA)
	h := newHarness(t, w)
	h.run(t)
	eventually(t, func() bool { return h.ctrl.State().Balance == "2.5" })

	w.mu.Lock()
	w.balanceErr = errors.New("rpc timeout")
	w.mu.Unlock()
	beforeReads := w.count(provider.MethodGetBalance)

	h.wallet.emit(provider.Event{Name: provider.EventChainChanged, ChainID: "0x1"})
	eventually(t, func() bool { return w.count(provider.MethodGetBalance) > beforeReads })
	if st := h.ctrl.State(); st.Balance != "2.5" {
		t.Fatalf("failed read must keep the previous balance, got %q", st.Balance)
	}
}

func TestRunHydration(t *testing.T) {
	t.Run("existing session", func(t *testing.T) {
		h := newHarness(t, newFakeWallet(137, accountA))
		h.run(t)
		eventually(t, func() bool { return h.ctrl.State().Connected() })
		if !h.connected(t) {
			t.Fatal("restored session must set the flag")
		}
		if n := h.wallet.count(provider.MethodRequestAccounts); n != 0 {
			t.Fatalf("hydration must not prompt, got %d prompts", n)
		}
		if n := len(h.wallet.switches()); n != 0 {
			t.Fatalf("hydration must not switch chains, got %d", n)
		}
	})
	t.Run("no session", func(t *testing.T) {
		h := newHarness(t, newFakeWallet(137))
		_ = h.flag.SetConnected(context.Background(), true)
		h.run(t)
		eventually(t, func() bool { return !h.connected(t) })
		st := h.ctrl.State()
		if st.Phase != PhaseDisconnected {
			t.Fatalf("expected disconnected, got %s", st.Phase)
		}
		if st.ChainID == nil || *st.ChainID != 137 {
			t.Fatalf("hydration must record the chain, got %v", st.ChainID)
		}
	})
}

func TestRunWithoutProvider(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- h.ctrl.Run(ctx) }()
	cancel()
	if err := <-done; err != nil {
		t.Fatalf("run: %v", err)
	}
}

func TestSwitchChain(t *testing.T) {
	w := newFakeWallet(1043, accountA)
	h := newHarness(t, w)
	ctx := context.Background()

	if _, err := h.ctrl.SwitchChain(ctx, 999); !xerrors.HasCode(err, xerrors.CodeUnsupportedChain) {
		t.Fatalf("expected unsupported chain, got %v", err)
	}
	if n := len(w.switches()); n != 0 {
		t.Fatalf("unknown chain must not reach the wallet, got %d", n)
	}

	before := h.ctrl.State()
	outcome, err := h.ctrl.SwitchChain(ctx, 137)
	if err != nil || outcome != provider.SwitchSwitched {
		t.Fatalf("expected switched, got %s %v", outcome, err)
	}
	if got := w.switches(); len(got) != 1 || got[0] != "0x89" {
		t.Fatalf("unexpected switch requests %v", got)
	}
	after := h.ctrl.State()
	if after.Phase != before.Phase || after.ChainID != nil {
		t.Fatalf("switch must not mutate state, got %+v", after)
	}

	w.switchErr = &provider.RPCError{Code: provider.ErrCodeUserRejected, Message: "User rejected the request."}
	if _, err := h.ctrl.SwitchChain(ctx, 1); !xerrors.HasCode(err, xerrors.CodeChainSwitchRejected) {
		t.Fatalf("expected chain switch rejected, got %v", err)
	}
}

func TestSendTransactionUsesAdoptedAccount(t *testing.T) {
	w := newFakeWallet(1043, accountA)
	h := newHarness(t, w)
	ctx := context.Background()
	to := common.HexToAddress("0x00000000000000000000000000000000000a0d17")

	if _, err := h.ctrl.SendTransaction(ctx, to, []byte{0x01}); !xerrors.HasCode(err, xerrors.CodeNotConnected) {
		t.Fatalf("expected not connected, got %v", err)
	}
	if err := h.ctrl.Connect(ctx); err != nil {
		t.Fatalf("connect: %v", err)
	}
	hash, err := h.ctrl.SendTransaction(ctx, to, []byte{0x01, 0x02})
	if err != nil {
		t.Fatalf("send: %v", err)
	}
	if hash != common.HexToHash("0x01") {
		t.Fatalf("unexpected hash %s", hash.Hex())
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.sentTx) != 1 {
		t.Fatalf("expected one transaction, got %d", len(w.sentTx))
	}
	tx := w.sentTx[0]
	if tx["from"] != common.HexToAddress(accountA).Hex() || tx["to"] != to.Hex() || tx["data"] != "0x0102" {
		t.Fatalf("unexpected transaction %v", tx)
	}
}

func TestStateIsSnapshot(t *testing.T) {
	h := newHarness(t, newFakeWallet(1043, accountA))
	if err := h.ctrl.Connect(context.Background()); err != nil {
		t.Fatalf("connect: %v", err)
	}
	st := h.ctrl.State()
	*st.ChainID = 1
	st.Chain.Name = "mutated"
	again := h.ctrl.State()
	if *again.ChainID != 1043 || again.Chain.Name != "BlockDAG Testnet" {
		t.Fatalf("state leaked internal pointers: %+v", again)
	}
}
