// Copyright 2025 The fawa Authors
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

package util

import (
	"crypto/rand"
)

const alphabet = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// maxByte is the largest multiple of len(alphabet) that fits in a byte.
// Bytes at or above it are discarded so every symbol is equally likely.
const maxByte = 256 - 256%len(alphabet)

// RandomString returns n symbols drawn uniformly from [a-zA-Z0-9]
// using the operating system's CSPRNG.
func RandomString(n int) string {
	if n <= 0 {
		return ""
	}
	b := make([]byte, n)
	buf := make([]byte, n+n/2)
	for i := 0; i < n; {
		// crypto/rand.Read never returns an error since Go 1.24.
		_, _ = rand.Read(buf)
		for _, c := range buf {
			if int(c) >= maxByte {
				continue
			}
			b[i] = alphabet[int(c)%len(alphabet)]
			i++
			if i == n {
				break
			}
		}
	}
	return string(b)
}
