package core

import "testing"

func TestParseDecimal(t *testing.T) {
	cases := []struct {
		in  string
		out string
		ok  bool
	}{
		{"1", "1", true},
		{"1.23", "1.23", true},
		{"1,23", "1.23", true},
		{"-40.5", "-40.5", true},
		{"1.005", "1.01", true}, // half-up rounding
		{" 2.50 ", "2.5", true},
		{"0", "0", true},
		{"abc", "", false},
		{"1.2.3", "", false},
		{"", "", false},
	}
	for _, tc := range cases {
		got, err := ParseDecimal(tc.in)
		if tc.ok {
			if err != nil || got.String() != tc.out {
				t.Fatalf("%q expected %s, got %s (err=%v)", tc.in, tc.out, got, err)
			}
		} else if err == nil {
			t.Fatalf("%q expected error", tc.in)
		}
	}
}

func TestParseAmount(t *testing.T) {
	if _, err := ParseAmount("0.01"); err != nil {
		t.Fatalf("expected ok, got %v", err)
	}
	for _, in := range []string{"0", "-1", "x"} {
		if _, err := ParseAmount(in); err == nil {
			t.Fatalf("%q expected error", in)
		}
	}
}
