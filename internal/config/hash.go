package config

import (
	"bytes"
	"encoding/json"
	"hash/fnv"
)

func hashBytes(b []byte) uint64 {
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

// canonicalHashJSON hashes v after a decode/encode round trip, so key order
// and whitespace differences do not count as changes.
func canonicalHashJSON(v any) uint64 {
	b, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	var anyV any
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	if err := dec.Decode(&anyV); err != nil {
		return hashBytes(b)
	}
	cb, err := json.Marshal(anyV)
	if err != nil {
		return hashBytes(b)
	}
	return hashBytes(cb)
}
