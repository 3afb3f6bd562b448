package subscription

import (
	"errors"
	"testing"
)

func TestParseKey(t *testing.T) {
	tests := []struct {
		in      string
		want    Key
		wantErr bool
	}{
		{"bms/voltage", Key{"bms", "voltage"}, false},
		{"bms/cell/3", Key{"bms", "cell/3"}, false},
		{"bms", Key{}, true},
		{"/voltage", Key{}, true},
		{"bms/", Key{}, true},
		{"bms/ voltage", Key{}, true},
	}

	for _, tt := range tests {
		got, err := ParseKey(tt.in)
		if tt.wantErr {
			if !errors.Is(err, ErrInvalidKey) {
				t.Errorf("ParseKey(%q) error = %v, want ErrInvalidKey", tt.in, err)
			}
			continue
		}
		if err != nil {
			t.Errorf("ParseKey(%q) unexpected error: %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseKey(%q) = %+v, want %+v", tt.in, got, tt.want)
		}
		if got.String() != tt.in {
			t.Errorf("String() = %q, want %q", got.String(), tt.in)
		}
	}
}

func TestKeyEquality(t *testing.T) {
	m := map[Key]int{NewKey("bms", "voltage"): 1}
	if m[Key{Node: "bms", Entry: "voltage"}] != 1 {
		t.Error("keys with equal names must be equal map keys")
	}
}
