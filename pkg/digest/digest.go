// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

// Package digest computes the MD5 digests used by APOP (RFC 1939) and
// CRAM-MD5 (RFC 2195).
package digest

import (
	"crypto/hmac"
	"crypto/md5"
	"encoding/hex"
)

// Size is the length of a raw digest in bytes.
const Size = md5.Size

// Sum returns the digest of msg. With a non-nil key the digest is keyed
// (HMAC-MD5); otherwise it is plain MD5.
func Sum(key, msg []byte) [Size]byte {
	var out [Size]byte
	if key == nil {
		return md5.Sum(msg)
	}
	mac := hmac.New(md5.New, key)
	mac.Write(msg)
	copy(out[:], mac.Sum(nil))
	return out
}

// Hex formats a raw digest as 32 lowercase hexadecimal characters.
func Hex(sum [Size]byte) string {
	return hex.EncodeToString(sum[:])
}

// APOP returns the APOP digest for a greeting timestamp and shared secret.
func APOP(timestamp, secret string) string {
	return Hex(Sum(nil, []byte(timestamp+secret)))
}

// HMACHex returns the keyed digest of msg in hexadecimal.
func HMACHex(key, msg []byte) string {
	if key == nil {
		key = []byte{}
	}
	return Hex(Sum(key, msg))
}
