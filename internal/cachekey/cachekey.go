// Package cachekey builds deterministic response cache keys.
//
// A key has the form prefix:scope:params, where params is the request's
// parameter object serialized as JSON with object keys sorted at every level.
// Keys are a pure function of their inputs.
package cachekey

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/goccy/go-json"
	"golang.org/x/crypto/blake2b"
)

const emptyParams = "{}"

// Make returns prefix + ":" + scope + ":" + canonical(params).
// Callers must include every value that changes the response in params.
func Make(prefix, scope string, params any) string {
	return prefix + ":" + scope + ":" + Canonical(params)
}

// Canonical serializes v as JSON with sorted object keys. Numbers keep their
// literal form. A nil value serializes as {}.
func Canonical(v any) string {
	if v == nil {
		return emptyParams
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}

	// Round-tripping through an untyped value turns structs into maps, whose
	// keys the encoder emits in sorted order.
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var generic any
	if err := dec.Decode(&generic); err != nil {
		return string(raw)
	}
	if generic == nil {
		return emptyParams
	}
	out, err := json.Marshal(generic)
	if err != nil {
		return string(raw)
	}
	return string(out)
}

// Scope derives an opaque per-caller token from identity using a truncated
// BLAKE2b-256 digest. The raw identity never appears in the token.
func Scope(identity string) string {
	sum := blake2b.Sum256([]byte(identity))
	return hex.EncodeToString(sum[:8])
}
