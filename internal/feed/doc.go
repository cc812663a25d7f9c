// Package feed acquires market data from the configured sources. Each cycle
// fans out one quote request per (source, symbol) pair and joins all of them
// before analysis starts.
package feed
