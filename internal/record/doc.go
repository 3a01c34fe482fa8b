// Package record defines the persisted entities of the agent ledger (Agent,
// ContractAnalysis, TransactionOptimization and SecurityMonitor), their status
// state machines and the fixed-size binary layout used to store them. Every
// record is prefixed with an 8-byte discriminator and never grows past the
// space reserved for its kind.
package record
