// Package wallet implements the connection state machine that sits between
// a wallet provider and the HTTP shell. The controller exposes snapshots of
// the connection and emits navigation intents; it never performs
// navigation itself.
package wallet
