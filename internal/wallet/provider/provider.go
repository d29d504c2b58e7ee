package provider

import (
	"context"
	"fmt"
)

// Wallet request methods.
const (
	MethodAccounts        = "eth_accounts"
	MethodRequestAccounts = "eth_requestAccounts"
	MethodChainID         = "eth_chainId"
	MethodGetBalance      = "eth_getBalance"
	MethodSwitchChain     = "wallet_switchEthereumChain"
	MethodAddChain        = "wallet_addEthereumChain"
	MethodSendTransaction = "eth_sendTransaction"
)

// EIP-1193 / EIP-3326 provider error codes.
const (
	ErrCodeUserRejected      = 4001
	ErrCodeUnauthorized      = 4100
	ErrCodeUnsupported       = 4200
	ErrCodeDisconnected      = 4900
	ErrCodeUnrecognisedChain = 4902
)

// EventName identifies a wallet notification.
type EventName string

const (
	EventAccountsChanged EventName = "accountsChanged"
	EventChainChanged    EventName = "chainChanged"
)

// Event is a notification pushed by the wallet. Accounts is populated for
// accountsChanged, ChainID (hex encoded) for chainChanged.
type Event struct {
	Name     EventName
	Accounts []string
	ChainID  string
}

// Handler receives wallet notifications. It is called on a goroutine owned by
// the provider.
type Handler func(Event)

// ListenerID identifies a registered handler.
type ListenerID uint64

// Provider is the capability every wallet adapter must implement: a
// request/response channel and listener registration for notifications.
type Provider interface {
	Request(ctx context.Context, result any, method string, params ...any) error
	On(event EventName, handler Handler) ListenerID
	RemoveListener(event EventName, id ListenerID)
}

// Detect reports whether v is a usable wallet provider.
func Detect(v any) (Provider, bool) {
	if v == nil {
		return nil, false
	}
	p, ok := v.(Provider)
	if !ok || p == nil {
		return nil, false
	}
	return p, true
}

// RPCError is a wallet error carrying an EIP-1193 code. It satisfies the
// go-ethereum rpc.Error interface so both real and fake providers classify
// the same way.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("wallet error %d", e.Code)
	}
	return e.Message
}

// ErrorCode implements rpc.Error.
func (e *RPCError) ErrorCode() int {
	return e.Code
}
