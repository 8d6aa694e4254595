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

// Package notification decodes the storage events announcing an artifact
// upload.
package notification

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"strings"

	serrors "github.com/tochemey/sagamatch/errors"
)

// Encoding is the transport encoding of notification bodies.
type Encoding string

const (
	// EncodingAuto accepts plain JSON and base64 encoded JSON.
	EncodingAuto Encoding = "auto"
	// EncodingJSON expects plain JSON.
	EncodingJSON Encoding = "json"
	// EncodingBase64 expects base64 encoded JSON.
	EncodingBase64 Encoding = "base64"
)

// Encodings lists the valid encodings.
var Encodings = []string{string(EncodingAuto), string(EncodingJSON), string(EncodingBase64)}

// ParseEncoding validates s. It is case insensitive.
func ParseEncoding(s string) (Encoding, error) {
	switch enc := Encoding(strings.ToLower(strings.TrimSpace(s))); enc {
	case EncodingAuto, EncodingJSON, EncodingBase64:
		return enc, nil
	default:
		return "", fmt.Errorf("unknown notification encoding %q", s)
	}
}

// Notification is a storage event. Fields other than the subject are ignored.
type Notification struct {
	Subject string `json:"subject"`
}

// Decoder reads notification bodies.
type Decoder struct {
	encoding Encoding
}

// NewDecoder creates a Decoder for enc.
func NewDecoder(enc Encoding) *Decoder {
	return &Decoder{encoding: enc}
}

// Decode reads body. Every failure wraps errors.ErrMalformedNotification.
func (d *Decoder) Decode(body []byte) (*Notification, error) {
	payload := bytes.TrimSpace(body)
	if len(payload) == 0 {
		return nil, serrors.NewErrMalformedNotification("empty body")
	}

	switch d.encoding {
	case EncodingJSON:
	case EncodingBase64:
		decoded, err := decodeBase64(payload)
		if err != nil {
			return nil, err
		}
		payload = decoded
	default:
		if payload[0] != '{' {
			decoded, err := decodeBase64(payload)
			if err != nil {
				return nil, err
			}
			payload = decoded
		}
	}

	notification := new(Notification)
	if err := json.Unmarshal(payload, notification); err != nil {
		return nil, serrors.NewErrMalformedNotification("invalid JSON: %v", err)
	}
	if strings.TrimSpace(notification.Subject) == "" {
		return nil, serrors.NewErrMalformedNotification("missing subject")
	}
	return notification, nil
}

// Encode builds the body announcing subject. EncodingAuto produces plain JSON.
func Encode(subject string, enc Encoding) ([]byte, error) {
	payload, err := json.Marshal(&Notification{Subject: subject})
	if err != nil {
		return nil, err
	}
	if enc != EncodingBase64 {
		return payload, nil
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(payload)))
	base64.StdEncoding.Encode(out, payload)
	return out, nil
}

func decodeBase64(payload []byte) ([]byte, error) {
	out := make([]byte, base64.StdEncoding.DecodedLen(len(payload)))
	n, err := base64.StdEncoding.Decode(out, payload)
	if err != nil {
		return nil, serrors.NewErrMalformedNotification("invalid base64: %v", err)
	}
	return bytes.TrimSpace(out[:n]), nil
}
