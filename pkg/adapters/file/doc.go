// Package file persists snapshot records as JSON Lines, optionally zstd-compressed.
//
// A compressed file is a concatenation of zstd frames, one per record, so it
// stays readable while the sink is still appending to it.
package file
