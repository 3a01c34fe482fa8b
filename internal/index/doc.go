// Package index keeps the secondary lookup from an agent to its most recent
// security report. It sits outside the ledger and is populated from
// committed security events through Feed.
package index
