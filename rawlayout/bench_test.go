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

package rawlayout_test

import (
	"strconv"
	"testing"

	"github.com/aclements/go-perfevent/perfbench"

	swiss "github.com/ribbitbits/swissview"
	"github.com/ribbitbits/swissview/inspect"
	"github.com/ribbitbits/swissview/rawlayout"
)

// BenchmarkInspectImage measures inspection through the raw reader, where
// every control byte and entry is decoded from the image.
func BenchmarkInspectImage(b *testing.B) {
	for _, n := range []int{8, 512, 4096, 1 << 16} {
		b.Run("len="+strconv.Itoa(n), func(b *testing.B) {
			m := swiss.New[string, int64](n)
			for i := 0; i < n; i++ {
				m.Put(strconv.Itoa(i), int64(i))
			}
			l, err := rawlayout.DefaultLayout().WithElements("String", "i64")
			if err != nil {
				b.Fatal(err)
			}
			d, err := rawlayout.Capture[string, int64](m.Table(), l, 0x10000)
			if err != nil {
				b.Fatal(err)
			}
			tbl, err := d.Open()
			if err != nil {
				b.Fatal(err)
			}

			cs := perfbench.Open(b)
			b.ResetTimer()
			cs.Reset()
			for i := 0; i < b.N; i++ {
				v, err := inspect.Inspect[any, any](tbl)
				if err != nil || !v.Consistent() {
					b.Fatalf("inconsistent inspection: %v", err)
				}
			}
		})
	}
}
