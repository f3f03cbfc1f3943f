// Package fingerprint computes the content digest the tracker uses to detect
// repeated reports of the same logical operation.
package fingerprint

import (
	"cmp"
	"encoding/hex"
	"fmt"
	"slices"

	"github.com/aretw0/lineage/internal/codec"
	"github.com/aretw0/lineage/pkg/domain"
	"github.com/zeebo/blake3"
)

// Fingerprint is a 32-byte keyed BLAKE3 digest.
type Fingerprint [32]byte

// domainKey separates report fingerprints from any other BLAKE3 use of the same
// bytes. ASCII of the domain name, zero-padded to 32 bytes.
var domainKey = [32]byte{
	'l', 'i', 'n', 'e', 'a', 'g', 'e', '.', 's', 'n', 'a', 'p', 's', 'h', 'o', 't',
	'.', 'f', 'i', 'n', 'g', 'e', 'r', 'p', 'r', 'i', 'n', 't', 0, 0, 0, 0,
}

// Input is the semantic content of one report.
type Input struct {
	Operation string
	Parents   []string
	Shape     domain.Shape
	Args      []any
	Kwargs    map[string]any
}

// canonical is the encoded form. Parents stay a CBOR array so no id can
// imitate a list of ids, and kwargs are sorted into [key, value] pairs so the encoding never depends on map order.
type canonical struct {
	Operation string   `cbor:"1,keyasint"`
	Parents   []string `cbor:"2,keyasint"`
	Shape     []int    `cbor:"3,keyasint"`
	Args      []any    `cbor:"4,keyasint"`
	Kwargs    [][]any  `cbor:"5,keyasint"`
}

// Compute returns the fingerprint of in. Deterministic for identical input;
// positional args are order-dependent, kwargs are not. Values the encoder cannot
// represent (funcs, channels, cyclic data) are replaced by their %#v rendering.
func Compute(in Input) Fingerprint {
	c := canonical{
		Operation: in.Operation,
		Parents:   slices.Clone(in.Parents),
		Shape:     []int(in.Shape),
		Args:      make([]any, len(in.Args)),
		Kwargs:    make([][]any, 0, len(in.Kwargs)),
	}
	if c.Parents == nil {
		c.Parents = []string{}
	}
	if c.Shape == nil {
		c.Shape = []int{}
	}
	for i, a := range in.Args {
		c.Args[i] = encodable(a)
	}
	keys := make([]string, 0, len(in.Kwargs))
	for k := range in.Kwargs {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, cmp.Compare[string])
	for _, k := range keys {
		c.Kwargs = append(c.Kwargs, []any{k, encodable(in.Kwargs[k])})
	}

	data, err := codec.Marshal(c)
	if err != nil {
		// Every leaf passed encodable, so this only triggers on exotic nesting.
		data = []byte(fmt.Sprintf("%#v", c))
	}
	return Sum(data)
}

// Sum hashes raw bytes under the fingerprint domain key.
func Sum(data []byte) Fingerprint {
	h, err := blake3.NewKeyed(domainKey[:])
	if err != nil {
		panic("fingerprint: BLAKE3 keyed hash initialization failed: " + err.Error())
	}
	_, _ = h.Write(data)
	var fp Fingerprint
	copy(fp[:], h.Sum(nil))
	return fp
}

// encodable returns v if the canonical encoder accepts it, else a string rendering.
func encodable(v any) any {
	if _, err := codec.Marshal(v); err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return v
}

// Hex renders the fingerprint as lowercase hex.
func (f Fingerprint) Hex() string {
	return hex.EncodeToString(f[:])
}

func (f Fingerprint) String() string {
	return f.Hex()
}

// IsZero reports whether f is the zero value (no fingerprint recorded).
func (f Fingerprint) IsZero() bool {
	return f == Fingerprint{}
}
