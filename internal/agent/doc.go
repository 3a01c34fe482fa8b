// Package agent implements the agent ledger: agent registration plus the
// contract analysis, transaction optimization and security report records
// an agent produces. Every mutating operation runs as one atomic ledger
// transaction that creates or updates a single record and the owning
// agent's counters, and emits an event only after the transaction commits.
package agent
