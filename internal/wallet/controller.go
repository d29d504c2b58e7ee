package wallet

import (
	"context"
	"log/slog"
	"math/big"
	"sync"

	"AuditFi/internal/chains"
	xerrors "AuditFi/internal/errors"
	"AuditFi/internal/format"
	"AuditFi/internal/notify"
	"AuditFi/internal/session"
	"AuditFi/internal/wallet/provider"
	loggerpkg "AuditFi/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// DefaultConnectPath is the wallet-connect page.
	DefaultConnectPath = "/wallet"
	homePath           = "/"
	navigationBuffer   = 16
)

// Gateway is the wallet surface the controller drives.
type Gateway interface {
	Available() bool
	RequestAccounts(ctx context.Context) ([]string, error)
	Accounts(ctx context.Context) ([]string, error)
	ChainID(ctx context.Context) (uint64, error)
	Balance(ctx context.Context, account string) (*big.Int, error)
	SwitchChain(ctx context.Context, target chains.Config) (provider.SwitchOutcome, error)
	SendTransaction(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error)
	Subscribe(ctx context.Context) (*provider.Subscription, error)
}

// Option customises a Controller.
type Option func(*Controller)

// WithFlag persists the connected flag in store.
func WithFlag(store session.Flag) Option {
	return func(c *Controller) { c.flag = store }
}

// WithPublisher routes transitions to publisher.
func WithPublisher(publisher notify.Publisher) Option {
	return func(c *Controller) {
		if publisher != nil {
			c.publisher = publisher
		}
	}
}

// WithLogger overrides the component logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Controller) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithConnectPath overrides the wallet-connect page path.
func WithConnectPath(path string) Option {
	return func(c *Controller) {
		if path != "" {
			c.connectPath = path
		}
	}
}

// Controller owns the wallet connection state. Wallet notifications are
// applied by Run on a single goroutine; user operations may come from any
// goroutine. The state lock is never held across a wallet call.
type Controller struct {
	gateway     Gateway
	registry    *chains.Registry
	flag        session.Flag
	publisher   notify.Publisher
	logger      *slog.Logger
	connectPath string

	mu      sync.Mutex
	state   State
	pending string

	navigations chan Navigation
}

// New builds a controller. registry may be nil to use the built-in chains.
func New(gateway Gateway, registry *chains.Registry, opts ...Option) *Controller {
	if registry == nil {
		registry, _ = chains.NewRegistry(chains.DefaultChainID)
	}
	c := &Controller{
		gateway:     gateway,
		registry:    registry,
		publisher:   notify.NewLogPublisher(nil),
		logger:      loggerpkg.Named("wallet"),
		connectPath: DefaultConnectPath,
		state:       State{Phase: PhaseDisconnected},
		navigations: make(chan Navigation, navigationBuffer),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// State returns a snapshot of the connection.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.clone()
}

// Navigations delivers navigation intents for the hosting shell.
func (c *Controller) Navigations() <-chan Navigation {
	return c.navigations
}

// SetPendingRedirect records a page to open after the next successful
// connect. While Connected the navigation is issued at once and nothing is
// kept. An empty path clears it.
func (c *Controller) SetPendingRedirect(path string) {
	c.mu.Lock()
	if path != "" && c.state.Phase == PhaseConnected {
		c.pending = ""
		c.mu.Unlock()
		c.navigate(path, ReasonResume)
		return
	}
	c.pending = path
	c.mu.Unlock()
}

// PendingRedirect returns the recorded target, if any.
func (c *Controller) PendingRedirect() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pending
}

// Run subscribes to wallet notifications, restores an existing session and
// then applies notifications in arrival order until ctx ends.
func (c *Controller) Run(ctx context.Context) error {
	if !c.gateway.Available() {
		c.logger.Warn("no wallet provider available, running disconnected")
		c.writeFlag(ctx, false)
		<-ctx.Done()
		return nil
	}

	sub, err := c.gateway.Subscribe(ctx)
	if err != nil {
		return err
	}
	defer sub.Close()

	c.hydrate(ctx)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-sub.Done():
			return nil
		case ev := <-sub.Events():
			c.apply(ctx, ev)
		}
	}
}

func (c *Controller) apply(ctx context.Context, ev provider.Event) {
	switch ev.Name {
	case provider.EventAccountsChanged:
		c.onAccountsChanged(ctx, ev.Accounts)
	case provider.EventChainChanged:
		c.onChainChanged(ctx, ev.ChainID)
	default:
		c.logger.Debug("ignoring wallet event", "event", string(ev.Name))
	}
}

// hydrate reads the wallet silently, without prompting the user.
func (c *Controller) hydrate(ctx context.Context) {
	accounts, err := c.gateway.Accounts(ctx)
	if err != nil {
		c.logger.Warn("read authorised accounts failed", "error", err)
	}
	chainID, chainErr := c.gateway.ChainID(ctx)
	if chainErr != nil {
		c.logger.Warn("read chain id failed", "error", chainErr)
	}

	c.mu.Lock()
	if chainErr == nil {
		c.setChainLocked(chainID)
	}
	restored := err == nil && len(accounts) > 0
	if restored {
		c.state.Phase = PhaseConnected
		c.state.Address = accounts[0]
	}
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.writeFlag(ctx, restored)
	if !restored {
		return
	}
	c.logger.Info("wallet session restored", "address", snapshot.Address)
	c.publish(ctx, notify.TypeConnected, snapshot)
	c.refreshBalance(ctx)
}

// Connect prompts the wallet for accounts and asks once for the default
// chain. It returns nil without doing anything while a connect is in flight.
// A failed prompt from Disconnected ends Disconnected; a failed prompt over
// an existing session keeps that session. Either way the coded error is
// returned.
func (c *Controller) Connect(ctx context.Context) error {
	c.mu.Lock()
	if c.state.Phase == PhaseConnecting {
		c.mu.Unlock()
		return nil
	}
	previous := c.state.clone()
	c.state.Phase = PhaseConnecting
	c.mu.Unlock()

	accounts, err := c.gateway.RequestAccounts(ctx)
	if err == nil && len(accounts) == 0 {
		err = xerrors.New(xerrors.CodeUserRejected, "wallet returned no accounts")
	}
	if err != nil {
		c.mu.Lock()
		if previous.Connected() && c.state.Phase == PhaseConnecting {
			c.state = previous
		} else if c.state.Phase == PhaseConnecting {
			c.resetLocked()
		}
		kept := c.state.Connected()
		c.mu.Unlock()
		if !kept {
			c.writeFlag(ctx, false)
		}
		c.logger.Info("wallet connect failed", "code", string(xerrors.CodeOf(err)), "error", err)
		return err
	}

	chainID, chainErr := c.gateway.ChainID(ctx)
	if chainErr != nil {
		c.logger.Warn("read chain id after connect failed", "error", chainErr)
	}

	c.mu.Lock()
	c.state.Phase = PhaseConnected
	c.state.Address = accounts[0]
	if previous.Address != accounts[0] {
		c.state.Balance = ""
	}
	if chainErr == nil {
		c.setChainLocked(chainID)
	}
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.writeFlag(ctx, true)
	switch {
	case !previous.Connected():
		c.logger.Info("wallet connected", "address", snapshot.Address, "chain_id", chainID)
		c.publish(ctx, notify.TypeConnected, snapshot)
	case previous.Address != snapshot.Address:
		c.logger.Info("wallet account changed", "address", snapshot.Address)
		c.publish(ctx, notify.TypeAccountChanged, snapshot)
	}

	c.enforceDefaultChain(ctx, chainID, chainErr == nil)
	c.refreshBalance(ctx)

	c.mu.Lock()
	target := c.takePendingLocked()
	c.mu.Unlock()
	c.navigate(target, ReasonResume)
	return nil
}

// enforceDefaultChain asks the wallet once to move to the default chain. A
// rejection leaves the connection in place on the current chain.
func (c *Controller) enforceDefaultChain(ctx context.Context, current uint64, known bool) {
	target := c.registry.Default()
	if known && current == target.ID {
		return
	}
	outcome, err := c.gateway.SwitchChain(ctx, target)
	if err != nil {
		if xerrors.HasCode(err, xerrors.CodeChainSwitchRejected) {
			c.logger.Info("default chain switch rejected", "chain_id", target.ID)
			c.publish(ctx, notify.TypeChainSwitchRejected, c.State())
			return
		}
		c.logger.Warn("default chain switch failed", "chain_id", target.ID, "error", err)
		return
	}
	c.logger.Info("default chain switch requested", "chain_id", target.ID, "outcome", string(outcome))
}

// Disconnect forgets the account locally. Wallets have no revoke call, so
// the wallet itself keeps its authorisation.
func (c *Controller) Disconnect(ctx context.Context) error {
	c.mu.Lock()
	c.resetLocked()
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.writeFlag(ctx, false)
	c.logger.Info("wallet disconnected")
	c.publish(ctx, notify.TypeDisconnected, snapshot)
	c.navigate(c.connectPath, ReasonDisconnected)
	return nil
}

// SwitchChain asks the wallet to move to chainID. State changes arrive
// through the chainChanged notification.
func (c *Controller) SwitchChain(ctx context.Context, chainID uint64) (provider.SwitchOutcome, error) {
	target, ok := c.registry.Lookup(chainID)
	if !ok {
		return provider.SwitchRejected, xerrors.New(xerrors.CodeUnsupportedChain, "",
			xerrors.WithMetadata("chain_id", chains.EncodeID(chainID)))
	}
	outcome, err := c.gateway.SwitchChain(ctx, target)
	if err != nil {
		c.logger.Info("chain switch failed", "chain_id", chainID, "code", string(xerrors.CodeOf(err)))
		if xerrors.HasCode(err, xerrors.CodeChainSwitchRejected) {
			c.publish(ctx, notify.TypeChainSwitchRejected, c.State())
		}
		return outcome, err
	}
	return outcome, nil
}

// SendTransaction submits a contract call signed by the adopted account.
func (c *Controller) SendTransaction(ctx context.Context, to common.Address, data []byte) (common.Hash, error) {
	st := c.State()
	if !st.Connected() || !common.IsHexAddress(st.Address) {
		return common.Hash{}, xerrors.New(xerrors.CodeNotConnected, "")
	}
	hash, err := c.gateway.SendTransaction(ctx, common.HexToAddress(st.Address), to, data)
	if err != nil {
		c.logger.Info("transaction not sent", "to", to.Hex(), "code", string(xerrors.CodeOf(err)))
		return common.Hash{}, err
	}
	c.logger.Info("transaction sent", "from", st.Address, "to", to.Hex(), "tx_hash", hash.Hex())
	return hash, nil
}

func (c *Controller) onAccountsChanged(ctx context.Context, accounts []string) {
	if len(accounts) == 0 {
		c.mu.Lock()
		c.resetLocked()
		snapshot := c.state.clone()
		c.mu.Unlock()

		c.writeFlag(ctx, false)
		c.logger.Info("wallet revoked all accounts")
		c.publish(ctx, notify.TypeDisconnected, snapshot)
		c.navigate(homePath, ReasonAccountsCleared)
		return
	}

	c.mu.Lock()
	previous := c.state.Address
	c.state.Phase = PhaseConnected
	c.state.Address = accounts[0]
	if previous != accounts[0] {
		c.state.Balance = ""
	}
	snapshot := c.state.clone()
	target := c.takePendingLocked()
	c.mu.Unlock()

	c.writeFlag(ctx, true)
	if previous != snapshot.Address {
		c.logger.Info("wallet account changed", "address", snapshot.Address)
		c.publish(ctx, notify.TypeAccountChanged, snapshot)
	}
	c.refreshBalance(ctx)
	c.navigate(target, ReasonResume)
}

func (c *Controller) onChainChanged(ctx context.Context, raw string) {
	chainID, err := chains.ParseID(raw)
	if err != nil {
		c.logger.Warn("malformed chainChanged payload", "chain_id", raw, "error", err)
		return
	}

	c.mu.Lock()
	c.setChainLocked(chainID)
	snapshot := c.state.clone()
	c.mu.Unlock()

	c.logger.Info("wallet chain changed", "chain_id", chainID, "supported", snapshot.Supported())
	c.publish(ctx, notify.TypeChainChanged, snapshot)
	c.refreshBalance(ctx)
}

// refreshBalance reads the native balance of the adopted account. Read
// failures keep the previous value.
func (c *Controller) refreshBalance(ctx context.Context) {
	c.mu.Lock()
	address, connected := c.state.Address, c.state.Phase == PhaseConnected
	c.mu.Unlock()
	if !connected || address == "" {
		return
	}

	wei, err := c.gateway.Balance(ctx, address)
	if err != nil {
		c.logger.Warn("read balance failed", "address", address, "error", err)
		return
	}

	c.mu.Lock()
	if c.state.Phase == PhaseConnected && c.state.Address == address {
		c.state.Balance = format.FormatNative(wei)
	}
	c.mu.Unlock()
}

func (c *Controller) setChainLocked(chainID uint64) {
	id := chainID
	c.state.ChainID = &id
	if cfg, ok := c.registry.Lookup(chainID); ok {
		c.state.Chain = &cfg
	} else {
		c.state.Chain = nil
	}
}

// resetLocked returns to Disconnected. The chain id is dropped as well; it
// is read again on the next connect.
func (c *Controller) resetLocked() {
	c.state = State{Phase: PhaseDisconnected}
}

func (c *Controller) takePendingLocked() string {
	target := c.pending
	c.pending = ""
	return target
}

func (c *Controller) navigate(path string, reason Reason) {
	if path == "" {
		return
	}
	select {
	case c.navigations <- Navigation{Path: path, Reason: reason}:
	default:
		c.logger.Warn("navigation intent dropped, consumer is not keeping up", "path", path)
	}
}

func (c *Controller) writeFlag(ctx context.Context, connected bool) {
	if c.flag == nil {
		return
	}
	if err := c.flag.SetConnected(ctx, connected); err != nil {
		c.logger.Warn("persist connected flag failed", "connected", connected, "error", err)
	}
}

func (c *Controller) publish(ctx context.Context, typ notify.Type, snapshot State) {
	ev := notify.NewEvent(typ, snapshot.Address, snapshot.ChainID)
	if err := c.publisher.Publish(ctx, ev); err != nil {
		c.logger.Warn("publish wallet transition failed", "type", string(typ), "error", err)
	}
}

var _ Gateway = (*provider.Gateway)(nil)
