// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package field

import (
	"bytes"
	"testing"
)

func TestField_ZeroIsEmptyLeaf(t *testing.T) {
	zero := Zero()
	if !zero.IsZero() {
		t.Errorf("zero element is not zero: %v", zero.String())
	}
	if want, got := make([]byte, Size), Encode(&zero); !bytes.Equal(want, got) {
		t.Errorf("unexpected encoding of zero: %x", got)
	}
}

func TestField_EncodingIsBigEndianFixedWidth(t *testing.T) {
	e := FromUint64(0x0102)
	data := Encode(&e)
	if len(data) != Size {
		t.Fatalf("unexpected encoding length %d", len(data))
	}
	if data[Size-2] != 0x01 || data[Size-1] != 0x02 {
		t.Errorf("unexpected encoding %x", data)
	}
}

func TestField_DecodeRestoresEncodedElements(t *testing.T) {
	for _, v := range []uint64{0, 1, 2, 1 << 40, ^uint64(0)} {
		e := FromUint64(v)
		restored, err := Decode(Encode(&e))
		if err != nil {
			t.Fatalf("failed to decode %d: %v", v, err)
		}
		if !restored.Equal(&e) {
			t.Errorf("decoding mismatch, wanted %v, got %v", e.String(), restored.String())
		}
	}
}

func TestField_DecodeRejectsInvalidInput(t *testing.T) {
	if _, err := Decode([]byte{1, 2, 3}); err == nil {
		t.Errorf("short input should be rejected")
	}
	overflow := bytes.Repeat([]byte{0xff}, Size)
	if _, err := Decode(overflow); err == nil {
		t.Errorf("non-canonical input should be rejected")
	}
}

func TestField_ParseAcceptsDecimalAndHex(t *testing.T) {
	dec, err := Parse("255")
	if err != nil {
		t.Fatalf("failed to parse decimal: %v", err)
	}
	hex, err := Parse("0xff")
	if err != nil {
		t.Fatalf("failed to parse hex: %v", err)
	}
	want := FromUint64(255)
	if !dec.Equal(&want) || !hex.Equal(&want) {
		t.Errorf("unexpected parse results %v and %v", dec.String(), hex.String())
	}
	if _, err := Parse("not-a-number"); err == nil {
		t.Errorf("invalid input should be rejected")
	}
}

func TestField_FromBytesIsDeterministic(t *testing.T) {
	a := FromBytes([]byte("hello"))
	b := FromBytes([]byte("hello"))
	c := FromBytes([]byte("world"))
	if !a.Equal(&b) {
		t.Errorf("same input produced different elements")
	}
	if a.Equal(&c) {
		t.Errorf("different inputs produced the same element")
	}
}
