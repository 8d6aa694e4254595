// MIT License
//
// Copyright (c) 2022-2026 GoAkt Team
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

package artifact

import (
	"fmt"
	"strings"
)

// parseFilename splits {type}_{timestamp}_{correlationId}.{ext}.
// The correlation id may contain underscores but not dots.
func parseFilename(filename string) (kind Kind, timestamp, correlationID, extension string, err error) {
	dot := strings.LastIndexByte(filename, '.')
	if dot <= 0 || dot == len(filename)-1 {
		return "", "", "", "", fmt.Errorf("filename %q has no extension", filename)
	}

	name, extension := filename[:dot], filename[dot+1:]
	if strings.Contains(name, ".") {
		return "", "", "", "", fmt.Errorf("filename %q has more than one extension", filename)
	}

	parts := strings.SplitN(name, "_", 3)
	if len(parts) != 3 {
		return "", "", "", "", fmt.Errorf("filename %q does not match {type}_{timestamp}_{id}.{ext}", filename)
	}

	kind, err = ParseKind(parts[0])
	if err != nil {
		return "", "", "", "", err
	}

	timestamp = parts[1]
	if !isDigits(timestamp) {
		return "", "", "", "", fmt.Errorf("filename %q has a non numeric timestamp", filename)
	}

	correlationID = parts[2]
	if correlationID == "" {
		return "", "", "", "", fmt.Errorf("filename %q has an empty correlation id", filename)
	}

	return kind, timestamp, correlationID, extension, nil
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
