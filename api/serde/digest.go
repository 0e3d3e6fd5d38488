// Copyright 2025 The Evergreen Dragon OS Authors
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

package serde

import (
	"crypto/sha256"
	"encoding/hex"
)

// Digest returns the hex sha256 of a serialized payload. Audit records keep
// the digest instead of the payload itself.
func Digest(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// DigestValue serializes value with s and digests the result.
func DigestValue(s BinarySerde, value any) (string, error) {
	data, err := s.SerializeBinary(value)
	if err != nil {
		return "", err
	}
	return Digest(data), nil
}
