// Package api hosts the AuditFi HTTP shell: guarded page routes, the wallet
// connection endpoints, audit submission and report listing, the on-chain
// registry proxy and the metrics exposition.
package api
