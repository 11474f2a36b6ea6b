// Package nut18 implements Cashu NUT-18 payment requests: CBOR-encoded,
// base64url-serialized requests prefixed with "creqA", and the payload a
// payer POSTs back to the transport target.
package nut18

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/fxamacker/cbor/v2"
)

const (
	Prefix  = "creq"
	Version = "A"
)

const (
	TransportTypePost  = "post"
	TransportTypeNostr = "nostr"
)

type Transport struct {
	Type   string     `cbor:"t" json:"t"`
	Target string     `cbor:"a" json:"a"`
	Tags   [][]string `cbor:"g,omitempty" json:"g,omitempty"`
}

type PaymentRequest struct {
	PaymentId   string      `cbor:"i,omitempty" json:"i,omitempty"`
	Amount      uint64      `cbor:"a,omitempty" json:"a,omitempty"`
	Unit        string      `cbor:"u,omitempty" json:"u,omitempty"`
	SingleUse   bool        `cbor:"s,omitempty" json:"s,omitempty"`
	Mints       []string    `cbor:"m,omitempty" json:"m,omitempty"`
	Description string      `cbor:"d,omitempty" json:"d,omitempty"`
	Transports  []Transport `cbor:"t,omitempty" json:"t,omitempty"`
}

// Encode serializes the request to its "creqA..." string form.
func (pr *PaymentRequest) Encode() (string, error) {
	data, err := cbor.Marshal(pr)
	if err != nil {
		return "", err
	}
	return Prefix + Version + base64.URLEncoding.WithPadding(base64.NoPadding).EncodeToString(data), nil
}

// Decode parses a "creqA..." string back into a PaymentRequest.
func Decode(encoded string) (*PaymentRequest, error) {
	if !strings.HasPrefix(encoded, Prefix) {
		return nil, errors.New("invalid payment request: missing creq prefix")
	}
	rest := strings.TrimPrefix(encoded, Prefix)
	if !strings.HasPrefix(rest, Version) {
		return nil, fmt.Errorf("unsupported payment request version: %q", rest[:1])
	}
	data, err := base64.URLEncoding.WithPadding(base64.NoPadding).DecodeString(strings.TrimPrefix(rest, Version))
	if err != nil {
		// some encoders emit padded base64
		data, err = base64.URLEncoding.DecodeString(strings.TrimPrefix(rest, Version))
		if err != nil {
			return nil, err
		}
	}

	var pr PaymentRequest
	if err := cbor.Unmarshal(data, &pr); err != nil {
		return nil, err
	}
	return &pr, nil
}

// Proof is a single ecash proof included in a payment payload. The engine
// never verifies proof signatures itself; that is between the wallet layer
// and the issuing mint.
type Proof struct {
	Amount uint64 `json:"amount"`
	Id     string `json:"id"`
	Secret string `json:"secret"`
	C      string `json:"C"`
}

// PaymentRequestPayload is what the payer POSTs to the transport target.
type PaymentRequestPayload struct {
	Id     string  `json:"id,omitempty"`
	Memo   string  `json:"memo,omitempty"`
	Mint   string  `json:"mint"`
	Unit   string  `json:"unit"`
	Proofs []Proof `json:"proofs"`
}

// TotalAmount sums the proof amounts carried by the payload.
func (p *PaymentRequestPayload) TotalAmount() uint64 {
	var total uint64
	for _, proof := range p.Proofs {
		total += proof.Amount
	}
	return total
}
