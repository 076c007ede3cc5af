package btcverify

import "testing"

func TestClassifyAddress(t *testing.T) {
	cases := []struct {
		addr string
		kind AddressKind
	}{
		{"bc1qar0srrr7xfkvy5l643lydnw9re59gtzzwf5mdq", AddressKindP2WPKH},
		{"bc1p5cyxnuxmeuwuvkwfem96lqzszd02n6xdcjrs20cac6yqjjwudpxqkedrcr", AddressKindP2TR},
		{"1BvBMSEYstWetqTFn5Au4m4GFg7xJaNVN2", AddressKindP2PKH},
		{"3J98t1WpEZ73CNmQviecrnyiWrnqRhWNLy", AddressKindP2SH},
		{"tb1qw508d6qejxtdg4y5r3zarvary0c5xw7kxpjzsx", AddressKindP2WPKH},
		{"mipcBbFg9gMiCh81Kj8tqqdgoZub1ZJRfn", AddressKindP2PKH},
		{"2N2JD6wb56AfK4tfmM6PwdVmoYk2dCKf4Br", AddressKindP2SH},
	}
	for _, c := range cases {
		kind, _, err := ClassifyAddress(c.addr)
		if err != nil {
			t.Fatalf("ClassifyAddress(%q): %v", c.addr, err)
		}
		if kind != c.kind {
			t.Errorf("ClassifyAddress(%q) = %v, want %v", c.addr, kind, c.kind)
		}
	}
}

func TestClassifyAddress_Unknown(t *testing.T) {
	if _, _, err := ClassifyAddress("not-an-address"); err == nil {
		t.Error("expected error for unrecognized prefix")
	}
}
