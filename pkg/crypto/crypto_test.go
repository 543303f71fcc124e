package crypto

import (
	"bytes"
	"errors"
	"testing"
)

func TestHashPINVerify(t *testing.T) {
	h, err := HashPIN("4321")
	if err != nil {
		t.Fatalf("HashPIN: %v", err)
	}

	type tcase struct {
		pin  string
		want bool
	}
	tests := map[string]tcase{
		"match":    {pin: "4321", want: true},
		"mismatch": {pin: "1234", want: false},
		"empty":    {pin: "", want: false},
		"prefix":   {pin: "432", want: false},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			if got := h.Verify(tc.pin); got != tc.want {
				t.Errorf("Verify(%q) = %v, want %v", tc.pin, got, tc.want)
			}
		})
	}
}

func TestHashPINSaltsDiffer(t *testing.T) {
	a, err := HashPIN("0000")
	if err != nil {
		t.Fatal(err)
	}
	b, err := HashPIN("0000")
	if err != nil {
		t.Fatal(err)
	}
	if bytes.Equal(a.sum, b.sum) {
		t.Error("two hashes of the same pin are identical")
	}
}

func TestZeroHashMatchesNothing(t *testing.T) {
	var h PINHash
	if h.Set() || h.Verify("") {
		t.Error("zero PINHash verified")
	}
	if _, err := HashPIN(""); !errors.Is(err, ErrEmptyPIN) {
		t.Errorf("HashPIN(\"\") err = %v, want ErrEmptyPIN", err)
	}
}
