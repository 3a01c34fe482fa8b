// Package ledger stores fixed-size records in address-keyed slots. A Store
// runs every state change inside Apply so that allocation, rent collection
// and record writes either all take effect or none do. The memory backend
// serves tests and single-node development; SQLStore persists slots and payer
// balances in MySQL or SQLite.
package ledger
