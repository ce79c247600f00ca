// mailshuttle
// Copyright 2026 Blue Static <https://www.bluestatic.org>
// This program is free software licensed under the GNU General Public License,
// version 3.0. The full text of the license can be found in LICENSE.txt.
// SPDX-License-Identifier: GPL-3.0-only

package session

import (
	"bufio"
	"bytes"
	"io"
	"strings"
)

// SplitLines splits a data block into lines, accepting CRLF or bare LF line
// endings. A trailing line ending does not produce an empty final line.
func SplitLines(block []byte) []string {
	if len(block) == 0 {
		return nil
	}
	s := string(block)
	s = strings.TrimSuffix(s, "\n")
	lines := strings.Split(s, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimSuffix(line, "\r")
	}
	return lines
}

// Unstuff reverses dot-stuffing on a raw data block and normalises line
// endings to "\n". Every line ends with "\n" in the result.
func Unstuff(block []byte) []byte {
	var out bytes.Buffer
	out.Grow(len(block))
	for _, line := range SplitLines(block) {
		if strings.HasPrefix(line, ".") {
			line = line[1:]
		}
		out.WriteString(line)
		out.WriteByte('\n')
	}
	return out.Bytes()
}

// WriteStuffed copies r to w, dot-stuffing lines that begin with "." and
// terminating every line with CRLF. A final line without a line ending gets
// one, so the caller can write the "." terminator directly afterwards.
func WriteStuffed(w io.Writer, r io.Reader) (int64, error) {
	br := bufio.NewReader(r)
	bw := bufio.NewWriter(w)
	var n int64
	for {
		line, err := br.ReadString('\n')
		if len(line) > 0 {
			line = strings.TrimSuffix(line, "\n")
			line = strings.TrimSuffix(line, "\r")
			if strings.HasPrefix(line, ".") {
				bw.WriteByte('.')
				n++
			}
			bw.WriteString(line)
			bw.WriteString("\r\n")
			n += int64(len(line)) + 2
		}
		if err == io.EOF {
			break
		}
		if err != nil {
			return n, err
		}
	}
	return n, bw.Flush()
}
