// Package identity authenticates callers and performs the owner capability
// check required before any mutation that references an agent. Callers are
// identified by their EVM address; requests are signed with secp256k1 keys.
package identity
