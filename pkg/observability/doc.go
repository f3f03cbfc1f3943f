/*
Package observability exposes the ledger's activity as Prometheus metrics.

A Collector subscribes to the bus for per-operation snapshot counts and tracker
transitions, and reads report outcomes, History occupancy and writer delivery
counters on scrape.
*/
package observability
