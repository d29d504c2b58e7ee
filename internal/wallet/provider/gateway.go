package provider

import (
	"context"
	stdErrors "errors"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"sync"

	"AuditFi/internal/chains"
	xerrors "AuditFi/internal/errors"
	loggerpkg "AuditFi/pkg/logger"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

// SwitchOutcome reports how a chain switch request resolved.
type SwitchOutcome string

const (
	SwitchSwitched SwitchOutcome = "switched"
	SwitchAdded    SwitchOutcome = "added"
	SwitchRejected SwitchOutcome = "rejected"
)

const subscriptionBuffer = 64

// Gateway is the typed boundary to a wallet provider. A Gateway without a
// provider is valid and reports every operation as ProviderUnavailable.
type Gateway struct {
	provider Provider
	logger   *slog.Logger
}

// GatewayOption customises a Gateway.
type GatewayOption func(*Gateway)

// WithGatewayLogger overrides the logger.
func WithGatewayLogger(logger *slog.Logger) GatewayOption {
	return func(g *Gateway) {
		if logger != nil {
			g.logger = logger
		}
	}
}

// NewGateway wraps p. p may be nil when no wallet is present.
func NewGateway(p Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{logger: loggerpkg.Named("wallet_gateway")}
	if detected, ok := Detect(p); ok {
		g.provider = detected
	}
	for _, opt := range opts {
		if opt != nil {
			opt(g)
		}
	}
	return g
}

// Available reports whether a conforming provider is present.
func (g *Gateway) Available() bool {
	return g != nil && g.provider != nil
}

// RequestAccounts prompts the user to connect and returns the authorised
// accounts, selected account first.
func (g *Gateway) RequestAccounts(ctx context.Context) ([]string, error) {
	if !g.Available() {
		return nil, errUnavailable()
	}
	var accounts []string
	if err := g.provider.Request(ctx, &accounts, MethodRequestAccounts); err != nil {
		return nil, classify(err, MethodRequestAccounts, xerrors.CodeUserRejected, xerrors.CodeProviderFailure)
	}
	return cleanAccounts(accounts), nil
}

// Accounts reads the currently authorised accounts without prompting.
func (g *Gateway) Accounts(ctx context.Context) ([]string, error) {
	if !g.Available() {
		return nil, errUnavailable()
	}
	var accounts []string
	if err := g.provider.Request(ctx, &accounts, MethodAccounts); err != nil {
		return nil, classify(err, MethodAccounts, xerrors.CodeUserRejected, xerrors.CodeNetworkRead)
	}
	return cleanAccounts(accounts), nil
}

// ChainID returns the wallet's active chain id.
func (g *Gateway) ChainID(ctx context.Context) (uint64, error) {
	if !g.Available() {
		return 0, errUnavailable()
	}
	var raw string
	if err := g.provider.Request(ctx, &raw, MethodChainID); err != nil {
		return 0, classify(err, MethodChainID, xerrors.CodeUserRejected, xerrors.CodeNetworkRead)
	}
	id, err := chains.ParseID(raw)
	if err != nil {
		return 0, xerrors.Wrap(xerrors.CodeNetworkRead, err, "wallet returned a malformed chain id")
	}
	return id, nil
}

// Balance returns the smallest-unit balance of account on the active chain.
func (g *Gateway) Balance(ctx context.Context, account string) (*big.Int, error) {
	if !g.Available() {
		return nil, errUnavailable()
	}
	var out hexutil.Big
	if err := g.provider.Request(ctx, &out, MethodGetBalance, account, "latest"); err != nil {
		return nil, classify(err, MethodGetBalance, xerrors.CodeUserRejected, xerrors.CodeNetworkRead)
	}
	return out.ToInt(), nil
}

type switchChainParams struct {
	ChainID string `json:"chainId"`
}

type nativeCurrency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

type addChainParams struct {
	ChainID           string         `json:"chainId"`
	ChainName         string         `json:"chainName"`
	NativeCurrency    nativeCurrency `json:"nativeCurrency"`
	RPCURLs           []string       `json:"rpcUrls"`
	BlockExplorerURLs []string       `json:"blockExplorerUrls,omitempty"`
}

// SwitchChain asks the wallet to change its active chain. When the wallet does
// not know the chain it is registered first and the switch is retried.
func (g *Gateway) SwitchChain(ctx context.Context, target chains.Config) (SwitchOutcome, error) {
	if !g.Available() {
		return SwitchRejected, errUnavailable()
	}

	err := g.requestSwitch(ctx, target)
	if err == nil {
		return SwitchSwitched, nil
	}
	if rpcCode(err) != ErrCodeUnrecognisedChain {
		return SwitchRejected, classify(err, MethodSwitchChain, xerrors.CodeChainSwitchRejected, xerrors.CodeProviderFailure)
	}

	g.logger.Info("chain unknown to wallet, registering", "chain_id", target.ID, "name", target.Name)
	params := addChainParams{
		ChainID:   target.HexID(),
		ChainName: target.Name,
		NativeCurrency: nativeCurrency{
			Name:     target.Currency,
			Symbol:   target.Currency,
			Decimals: 18,
		},
		RPCURLs: []string{target.RPCURL},
	}
	if target.ExplorerURL != "" {
		params.BlockExplorerURLs = []string{target.ExplorerURL}
	}
	if err := g.provider.Request(ctx, nil, MethodAddChain, params); err != nil {
		return SwitchRejected, classify(err, MethodAddChain, xerrors.CodeChainSwitchRejected, xerrors.CodeProviderFailure)
	}
	if err := g.requestSwitch(ctx, target); err != nil {
		return SwitchRejected, classify(err, MethodSwitchChain, xerrors.CodeChainSwitchRejected, xerrors.CodeProviderFailure)
	}
	return SwitchAdded, nil
}

func (g *Gateway) requestSwitch(ctx context.Context, target chains.Config) error {
	return g.provider.Request(ctx, nil, MethodSwitchChain, switchChainParams{ChainID: target.HexID()})
}

// TransactionArgs is the eth_sendTransaction payload. Gas and fees are left
// to the wallet.
type TransactionArgs struct {
	From string        `json:"from"`
	To   string        `json:"to"`
	Data hexutil.Bytes `json:"data"`
}

// SendTransaction asks the wallet to sign and broadcast a contract call from
// the given account and returns the transaction hash.
func (g *Gateway) SendTransaction(ctx context.Context, from, to common.Address, data []byte) (common.Hash, error) {
	if !g.Available() {
		return common.Hash{}, errUnavailable()
	}
	args := TransactionArgs{From: from.Hex(), To: to.Hex(), Data: data}
	var hash common.Hash
	if err := g.provider.Request(ctx, &hash, MethodSendTransaction, args); err != nil {
		return common.Hash{}, classify(err, MethodSendTransaction, xerrors.CodeUserRejected, xerrors.CodeProviderFailure)
	}
	return hash, nil
}

// Subscription delivers wallet notifications in arrival order until closed.
type Subscription struct {
	events  chan Event
	done    chan struct{}
	once    sync.Once
	release func()
}

// Events returns the notification channel. It is never closed; select on
// Done as well.
func (s *Subscription) Events() <-chan Event {
	return s.events
}

// Done is closed once the subscription ends.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close deregisters the underlying listeners.
func (s *Subscription) Close() {
	if s == nil {
		return
	}
	s.once.Do(func() {
		close(s.done)
		if s.release != nil {
			s.release()
		}
	})
}

// Subscribe registers for accountsChanged and chainChanged. The subscription
// is released when ctx ends or Close is called.
func (g *Gateway) Subscribe(ctx context.Context) (*Subscription, error) {
	if !g.Available() {
		return nil, errUnavailable()
	}

	sub := &Subscription{
		events: make(chan Event, subscriptionBuffer),
		done:   make(chan struct{}),
	}
	deliver := func(ev Event) {
		select {
		case sub.events <- ev:
		case <-sub.done:
		}
	}
	accountsID := g.provider.On(EventAccountsChanged, func(ev Event) {
		ev.Name = EventAccountsChanged
		ev.Accounts = cleanAccounts(ev.Accounts)
		deliver(ev)
	})
	chainID := g.provider.On(EventChainChanged, func(ev Event) {
		ev.Name = EventChainChanged
		deliver(ev)
	})
	sub.release = func() {
		g.provider.RemoveListener(EventAccountsChanged, accountsID)
		g.provider.RemoveListener(EventChainChanged, chainID)
	}

	go func() {
		select {
		case <-ctx.Done():
			sub.Close()
		case <-sub.done:
		}
	}()
	return sub, nil
}

func cleanAccounts(accounts []string) []string {
	out := make([]string, 0, len(accounts))
	for _, a := range accounts {
		if a = strings.TrimSpace(a); a != "" {
			out = append(out, a)
		}
	}
	return out
}

func errUnavailable() error {
	return xerrors.New(xerrors.CodeProviderUnavailable, "no wallet provider found, install a web3 wallet")
}

func rpcCode(err error) int {
	var rpcErr gethrpc.Error
	if stdErrors.As(err, &rpcErr) {
		return rpcErr.ErrorCode()
	}
	return 0
}

// classify maps a provider error onto the wallet error taxonomy. Rejections
// by the user become rejected; everything else becomes fallback.
func classify(err error, method string, rejected, fallback xerrors.Code) error {
	if _, ok := xerrors.From(err); ok {
		return err
	}
	if rpcCode(err) == ErrCodeUserRejected {
		return xerrors.Wrap(rejected, err, "", xerrors.WithMetadata("method", method))
	}
	return xerrors.Wrap(fallback, err, fmt.Sprintf("%s failed", method), xerrors.WithMetadata("method", method))
}
