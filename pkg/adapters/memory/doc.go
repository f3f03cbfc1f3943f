// Package memory provides an in-memory snapshot sink, mainly for tests and the demo.
package memory
