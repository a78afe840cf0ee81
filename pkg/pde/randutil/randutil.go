/*
 * Copyright (c) 2020 Baidu, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *     http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package randutil provides the unpredictable-offset primitive spec.md
// §9 calls for: every header's payload offset and keyfile-slice offset
// must be unguessable to an adversary holding the header and key files,
// so this draws from crypto/rand rather than a seeded PRNG.
package randutil

import (
	"crypto/rand"
	"encoding/binary"
	"math/big"
)

// Uint64n returns a uniform random value in [0, n). Panics if n == 0.
func Uint64n(n uint64) uint64 {
	if n == 0 {
		panic("randutil: Uint64n(0)")
	}
	v, err := rand.Int(rand.Reader, new(big.Int).SetUint64(n))
	if err != nil {
		// crypto/rand failing is a fatal environment error, not something
		// a caller can recover from meaningfully.
		panic("randutil: crypto/rand unavailable: " + err.Error())
	}
	return v.Uint64()
}

// Uint64nBetween returns a uniform random value in [lo, hi] inclusive.
func Uint64nBetween(lo, hi uint64) uint64 {
	if hi < lo {
		panic("randutil: hi < lo")
	}
	return lo + Uint64n(hi-lo+1)
}

// Shuffle permutes indices [0, n) uniformly using crypto/rand as the
// entropy source for each Fisher-Yates swap, so header-creation order
// carries no correlation with key order (spec.md §4.G).
func Shuffle(n int, swap func(i, j int)) {
	for i := n - 1; i > 0; i-- {
		j := int(Uint64n(uint64(i + 1)))
		swap(i, j)
	}
}

// Bytes returns n cryptographically random bytes, used only for in-process
// values (e.g. ephemeral mount-point suffixes); key and header material
// itself is always sourced from /dev/urandom via the Tool Invoker per
// spec.md §4.F, never generated in-process.
func Bytes(n int) []byte {
	b := make([]byte, n)
	if _, err := rand.Read(b); err != nil {
		panic("randutil: crypto/rand unavailable: " + err.Error())
	}
	return b
}

// HexSuffix returns a short hex string suitable for disambiguating
// ephemeral paths (mount points, temp dirs).
func HexSuffix() string {
	b := Bytes(4)
	var v uint32
	v = binary.BigEndian.Uint32(b)
	return itohex(v)
}

func itohex(v uint32) string {
	const hex = "0123456789abcdef"
	buf := make([]byte, 8)
	for i := 7; i >= 0; i-- {
		buf[i] = hex[v&0xf]
		v >>= 4
	}
	return string(buf)
}
