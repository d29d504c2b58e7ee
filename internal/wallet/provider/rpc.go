package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"sync"
	"time"

	loggerpkg "AuditFi/pkg/logger"

	gethrpc "github.com/ethereum/go-ethereum/rpc"
)

const defaultPollInterval = 2 * time.Second

// RPCConfig describes how to reach a wallet bridge over JSON-RPC.
type RPCConfig struct {
	URL          string
	PollInterval time.Duration
}

// caller mirrors the subset of *rpc.Client the provider needs.
type caller interface {
	CallContext(ctx context.Context, result any, method string, args ...any) error
	Close()
}

type listener struct {
	id      ListenerID
	event   EventName
	handler Handler
}

// RPCProvider implements Provider on top of a JSON-RPC connection to a wallet
// bridge. Plain JSON-RPC has no push channel for wallet events, so
// accountsChanged and chainChanged are derived by polling eth_accounts and
// eth_chainId while at least one listener is registered.
type RPCProvider struct {
	client   caller
	interval time.Duration
	logger   *slog.Logger

	mu        sync.Mutex
	nextID    ListenerID
	listeners []listener
	stopPoll  context.CancelFunc
	pollDone  chan struct{}

	lastAccounts []string
	lastChain    string
	primed       bool
}

// DialRPC connects to the wallet bridge at cfg.URL.
func DialRPC(ctx context.Context, cfg RPCConfig) (*RPCProvider, error) {
	url := strings.TrimSpace(cfg.URL)
	if url == "" {
		return nil, errors.New("wallet provider url is required")
	}
	client, err := gethrpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connect wallet provider: %w", err)
	}
	return NewRPCProvider(client, cfg.PollInterval), nil
}

// NewRPCProvider wraps an established RPC client.
func NewRPCProvider(client caller, interval time.Duration) *RPCProvider {
	if interval <= 0 {
		interval = defaultPollInterval
	}
	return &RPCProvider{
		client:   client,
		interval: interval,
		logger:   loggerpkg.Named("wallet_rpc"),
	}
}

// Request forwards a wallet request.
func (p *RPCProvider) Request(ctx context.Context, result any, method string, params ...any) error {
	return p.client.CallContext(ctx, result, method, params...)
}

// On registers handler for event and starts polling if needed. A loop left
// over from a previous RemoveListener is drained before the new one polls.
func (p *RPCProvider) On(event EventName, handler Handler) ListenerID {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.nextID++
	id := p.nextID
	p.listeners = append(p.listeners, listener{id: id, event: event, handler: handler})
	if p.stopPoll == nil {
		ctx, cancel := context.WithCancel(context.Background())
		prev := p.pollDone
		p.stopPoll = cancel
		p.pollDone = make(chan struct{})
		go p.pollLoop(ctx, prev, p.pollDone)
	}
	return id
}

// RemoveListener deregisters a handler; polling stops with the last one.
// It does not block on the loop, so handlers may call it.
func (p *RPCProvider) RemoveListener(event EventName, id ListenerID) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.listeners = slices.DeleteFunc(p.listeners, func(l listener) bool {
		return l.id == id && l.event == event
	})
	if len(p.listeners) == 0 && p.stopPoll != nil {
		p.stopPoll()
		p.stopPoll = nil
	}
}

// Close stops polling, waits for every loop to exit and releases the
// connection.
func (p *RPCProvider) Close() {
	p.mu.Lock()
	if p.stopPoll != nil {
		p.stopPoll()
		p.stopPoll = nil
	}
	done := p.pollDone
	p.listeners = nil
	p.mu.Unlock()

	if done != nil {
		<-done
	}
	p.client.Close()
}

// pollLoop closes done only after prev is closed, so loops exit in start
// order and Close can wait on the newest one alone.
func (p *RPCProvider) pollLoop(ctx context.Context, prev, done chan struct{}) {
	defer close(done)
	if prev != nil {
		<-prev
	}

	p.mu.Lock()
	p.lastAccounts = nil
	p.lastChain = ""
	p.primed = false
	p.mu.Unlock()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	p.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.poll(ctx)
		}
	}
}

// poll compares the wallet's accounts and chain with the previous snapshot
// and emits an event for each difference. The first poll only records the
// snapshot.
func (p *RPCProvider) poll(ctx context.Context) {
	var accounts []string
	accountsErr := p.client.CallContext(ctx, &accounts, MethodAccounts)
	var chainID string
	chainErr := p.client.CallContext(ctx, &chainID, MethodChainID)
	if ctx.Err() != nil {
		return
	}
	if accountsErr != nil {
		p.logger.Debug("poll accounts failed", "error", accountsErr)
	}
	if chainErr != nil {
		p.logger.Debug("poll chain id failed", "error", chainErr)
	}

	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	var pending []Event
	if !p.primed {
		if accountsErr == nil {
			p.lastAccounts = accounts
		}
		if chainErr == nil {
			p.lastChain = chainID
		}
		p.primed = accountsErr == nil && chainErr == nil
		p.mu.Unlock()
		return
	}
	if accountsErr == nil && !slices.Equal(accounts, p.lastAccounts) {
		p.lastAccounts = accounts
		pending = append(pending, Event{Name: EventAccountsChanged, Accounts: slices.Clone(accounts)})
	}
	if chainErr == nil && !strings.EqualFold(chainID, p.lastChain) {
		p.lastChain = chainID
		pending = append(pending, Event{Name: EventChainChanged, ChainID: chainID})
	}
	p.mu.Unlock()

	for _, ev := range pending {
		p.emit(ctx, ev)
	}
}

// Emit delivers an event to the registered handlers. Bridges that do push
// notifications (for example over a websocket side channel) call this
// directly.
func (p *RPCProvider) Emit(ev Event) {
	p.emit(context.Background(), ev)
}

// emit drops events from a poll loop that was stopped after it read the
// wallet, so they never reach listeners registered later.
func (p *RPCProvider) emit(ctx context.Context, ev Event) {
	p.mu.Lock()
	if ctx.Err() != nil {
		p.mu.Unlock()
		return
	}
	handlers := make([]Handler, 0, len(p.listeners))
	for _, l := range p.listeners {
		if l.event == ev.Name {
			handlers = append(handlers, l.handler)
		}
	}
	p.mu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}

var _ Provider = (*RPCProvider)(nil)
