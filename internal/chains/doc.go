// Package chains holds the static set of networks AuditFi supports, the
// default chain users are expected to operate on, and helpers for the hex
// chain id encoding wallets use on the wire.
package chains
