// Package clock supplies the timestamps stamped on ledger records. The
// system clock is used by default; Chain reads the timestamp of the latest
// block from an EVM node so records carry chain time.
package clock
