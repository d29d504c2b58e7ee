package wallet

import "AuditFi/internal/chains"

// Phase is the connection lifecycle stage.
type Phase string

const (
	PhaseDisconnected Phase = "disconnected"
	PhaseConnecting   Phase = "connecting"
	PhaseConnected    Phase = "connected"
)

// State is a snapshot of the connection. Address is set only while
// Connected; Chain is set only when ChainID resolves in the registry.
type State struct {
	Phase   Phase          `json:"phase"`
	Address string         `json:"address,omitempty"`
	ChainID *uint64        `json:"chain_id,omitempty"`
	Chain   *chains.Config `json:"chain,omitempty"`
	Balance string         `json:"balance,omitempty"`
}

// Connected reports whether an account is adopted.
func (s State) Connected() bool {
	return s.Phase == PhaseConnected
}

// Supported reports whether the active chain is known to the registry.
func (s State) Supported() bool {
	return s.Chain != nil
}

func (s State) clone() State {
	out := s
	if s.ChainID != nil {
		id := *s.ChainID
		out.ChainID = &id
	}
	if s.Chain != nil {
		cfg := *s.Chain
		out.Chain = &cfg
	}
	return out
}

// Reason explains why a navigation was requested.
type Reason string

const (
	ReasonResume          Reason = "resume"
	ReasonDisconnected    Reason = "disconnected"
	ReasonAccountsCleared Reason = "accounts_cleared"
)

// Navigation is a request for the hosting shell to change page.
type Navigation struct {
	Path   string `json:"path"`
	Reason Reason `json:"reason"`
}
