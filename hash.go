// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package swiss

import (
	"hash/maphash"
	"math/bits"
)

// processSeed keys the maphash based default hash function. Per-map seeds are
// mixed in by defaultHash so that two maps never share a probe order.
var processSeed = maphash.MakeSeed()

// defaultHash hashes key with maphash.Comparable and mixes in the map's seed.
func defaultHash[K comparable](key *K, seed uintptr) uintptr {
	return uintptr(mix(maphash.Comparable(processSeed, *key), uint64(seed)))
}

// mix folds the 128-bit product of a and b, as in wyhash.
func mix(a, b uint64) uint64 {
	hi, lo := bits.Mul64(a^0xa0761d6478bd642f, b^0xe7037ed1a0b428db)
	return hi ^ lo
}
