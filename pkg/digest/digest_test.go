// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package digest

import "testing"

// RFC 1939 § 7
func TestAPOP(t *testing.T) {
	if want, got := "c4c9334bac560ecc979e58001b3e22fb", APOP("<1896.697170952@dbc.mtview.ca.us>", "tanstaaf"); want != got {
		t.Errorf("Expected digest %s, got %s", want, got)
	}
}

// RFC 2195 § 2
func TestHMAC(t *testing.T) {
	challenge := []byte("<1896.697170952@postoffice.reston.mci.net>")
	if want, got := "b913a602c7eda7a495b4e6e7334d3890", HMACHex([]byte("tanstaaftanstaaf"), challenge); want != got {
		t.Errorf("Expected digest %s, got %s", want, got)
	}
}

func TestEmptyKeyIsKeyed(t *testing.T) {
	if Sum(nil, []byte("x")) == Sum([]byte{}, []byte("x")) {
		t.Errorf("Expected an empty key to produce a keyed digest")
	}
	if want, got := 32, len(HMACHex(nil, []byte("x"))); want != got {
		t.Errorf("Expected %d hex characters, got %d", want, got)
	}
}
