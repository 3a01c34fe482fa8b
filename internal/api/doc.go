// Package api exposes the agent ledger over HTTP. Mutating requests are
// authenticated by the identity middleware; reads are public.
package api
