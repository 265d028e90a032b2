// Copyright (c) 2024 Fantom Foundation
//
// Use of this software is governed by the Business Source License included
// in the LICENSE file and at fantom.foundation/bsl11.
//
// Change Date: 2028-4-16
//
// On the date above, in accordance with the Business Source License, use of
// this software will be governed by the GNU Lesser General Public License v3.

package panoptes

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/holiman/uint256"
)

func TestAddress_WordRoundTrip(t *testing.T) {
	address := Address{0xde, 0xad, 0xbe, 0xef}
	word := address.ToWord()
	for i := 0; i < 12; i++ {
		if word[i] != 0 {
			t.Fatalf("upper bytes of address word not zero: %v", word)
		}
	}
	if restored := AddressFromWord(word); restored != address {
		t.Errorf("round trip failed, wanted %v, got %v", address, restored)
	}
}

func TestAddressFromWord_TruncatesHighBits(t *testing.T) {
	word := Word{}
	for i := range word {
		word[i] = byte(i + 1)
	}
	address := AddressFromWord(word)
	if !bytes.Equal(address[:], word[12:]) {
		t.Errorf("wanted low 160 bits %x, got %x", word[12:], address)
	}
}

func TestValue_NewValue(t *testing.T) {
	tests := map[string]struct {
		args []uint64
		want Value
	}{
		"empty":    {nil, Value{}},
		"one":      {[]uint64{1}, Value{31: 1}},
		"big":      {[]uint64{1, 0, 0, 0}, Value{7: 1}},
		"all-args": {[]uint64{1, 2, 3, 4}, Value{7: 1, 15: 2, 23: 3, 31: 4}},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			if got := NewValue(test.args...); got != test.want {
				t.Errorf("wanted %x, got %x", test.want, got)
			}
		})
	}
}

func TestValue_Arithmetic(t *testing.T) {
	one := NewValue(1)
	two := NewValue(2)
	three := NewValue(3)
	if got := Add(one, two); got != three {
		t.Errorf("1+2 = %v", got)
	}
	if got := Sub(three, two); got != one {
		t.Errorf("3-2 = %v", got)
	}
	max := ValueFromUint256(new(uint256.Int).SetAllOne())
	if got := Add(max, one); got != NewValue(0) {
		t.Errorf("wrap-around failed, got %v", got)
	}
	if got := Sub(NewValue(0), one); got != max {
		t.Errorf("underflow wrap failed, got %v", got)
	}
}

func TestValue_MulWide(t *testing.T) {
	max := ValueFromUint256(new(uint256.Int).SetAllOne())
	hi, lo := MulWide(max, max)
	// (2^256-1)^2 = 2^512 - 2^257 + 1
	if got, want := hi, Sub(max, NewValue(1)); got != want {
		t.Errorf("wanted high half %v, got %v", want, got)
	}
	if got, want := lo, NewValue(1); got != want {
		t.Errorf("wanted low half %v, got %v", want, got)
	}

	hi, lo = MulWide(NewValue(3), NewValue(7))
	if hi != (Value{}) || lo != NewValue(21) {
		t.Errorf("small product wrong: hi %v, lo %v", hi, lo)
	}
}

func TestValue_Scale(t *testing.T) {
	if got, want := NewValue(3).Scale(7), NewValue(21); got != want {
		t.Errorf("wanted %v, got %v", want, got)
	}
}

func TestValue_JSON_Encoding(t *testing.T) {
	value := NewValue(255)
	encoded, err := json.Marshal(value)
	if err != nil {
		t.Fatalf("failed to encode value: %v", err)
	}
	want := `"0x00000000000000000000000000000000000000000000000000000000000000ff"`
	if string(encoded) != want {
		t.Fatalf("unexpected encoding, wanted %s, got %s", want, encoded)
	}
	var restored Value
	if err := json.Unmarshal(encoded, &restored); err != nil {
		t.Fatalf("failed to decode value: %v", err)
	}
	if restored != value {
		t.Errorf("round trip failed, wanted %v, got %v", value, restored)
	}
}

func TestValue_JSON_InvalidValueDecodingFails(t *testing.T) {
	for _, input := range []string{
		`"ff"`,          // missing prefix
		`"0xf"`,         // wrong length
		`"0xzz"`,        // not hex
		`12`,            // not a string
	} {
		var value Value
		if err := json.Unmarshal([]byte(input), &value); err == nil {
			t.Errorf("decoding of %s should have failed", input)
		}
	}
}

func TestCallKind_JSON_Encoding(t *testing.T) {
	for kind, want := range map[CallKind]string{
		Call:         `"call"`,
		StaticCall:   `"static_call"`,
		DelegateCall: `"delegate_call"`,
		CallCode:     `"call_code"`,
		Create:       `"create"`,
		Create2:      `"create2"`,
	} {
		encoded, err := json.Marshal(kind)
		if err != nil {
			t.Fatalf("failed to encode %v: %v", kind, err)
		}
		if string(encoded) != want {
			t.Errorf("wanted %s, got %s", want, encoded)
		}
		var restored CallKind
		if err := json.Unmarshal(encoded, &restored); err != nil {
			t.Fatalf("failed to decode %s: %v", encoded, err)
		}
		if restored != kind {
			t.Errorf("round trip failed, wanted %v, got %v", kind, restored)
		}
	}
}

func TestParameters_InputSegment(t *testing.T) {
	params := &Parameters{Input: Data{1, 2, 3, 4, 5}}
	tests := map[string]struct {
		offset, size  uint64
		want          []byte
		wantAvailable uint64
	}{
		"full":            {0, 5, []byte{1, 2, 3, 4, 5}, 5},
		"prefix":          {0, 3, []byte{1, 2, 3}, 3},
		"suffix":          {3, 10, []byte{4, 5}, 2},
		"past-the-end":    {7, 4, nil, 0},
		"zero-size":       {1, 0, nil, 0},
		"offset-overflow": {^uint64(0), 32, nil, 0},
	}
	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			got, available := params.InputSegment(test.offset, test.size)
			if available != test.wantAvailable {
				t.Errorf("wanted %d available bytes, got %d", test.wantAvailable, available)
			}
			if !bytes.Equal(got, test.want) {
				t.Errorf("wanted %v, got %v", test.want, got)
			}
		})
	}
}
