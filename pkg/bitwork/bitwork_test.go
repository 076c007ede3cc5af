package bitwork

import "testing"

func TestFromHeight(t *testing.T) {
	cases := []struct {
		height, epoch uint64
		wantPre       int
		wantPost      byte
	}{
		{0, 4, 0, 0},
		{4 * 16, 4, 1, 0},
		{4 * 17, 4, 1, 1},
		{4 * 16 * 64, 4, 64, 0},
	}
	for _, c := range cases {
		got, err := FromHeight(c.height, c.epoch)
		if err != nil {
			t.Fatalf("FromHeight(%d,%d): %v", c.height, c.epoch, err)
		}
		if got.Pre != c.wantPre || got.PostHex != c.wantPost {
			t.Errorf("FromHeight(%d,%d) = %+v, want {%d %d}", c.height, c.epoch, got, c.wantPre, c.wantPost)
		}
	}
}

func TestPlusMinusBit(t *testing.T) {
	cases := []struct {
		in   Bitwork
		n    int
		want Bitwork
	}{
		{Bitwork{3, 0x3}, 4, Bitwork{3, 0x7}},
		{Bitwork{3, 0xc}, 4, Bitwork{4, 0x0}},
		{Bitwork{0, 0x3}, -0, Bitwork{0, 0x3}},
	}
	for _, c := range cases {
		got, err := PlusBit(c.in, c.n)
		if err != nil {
			t.Fatalf("PlusBit(%+v,%d): %v", c.in, c.n, err)
		}
		if !got.Equal(c.want) {
			t.Errorf("PlusBit(%+v,%d) = %+v, want %+v", c.in, c.n, got, c.want)
		}
	}

	minusCases := []struct {
		in   Bitwork
		n    int
		want Bitwork
	}{
		{Bitwork{0, 0x3}, 4, Bitwork{0, 0x0}},
		{Bitwork{1, 0x4}, 4, Bitwork{1, 0x0}},
		{Bitwork{1, 0x3}, 4, Bitwork{0, 0xf}},
	}
	for _, c := range minusCases {
		got, err := MinusBit(c.in, c.n)
		if err != nil {
			t.Fatalf("MinusBit(%+v,%d): %v", c.in, c.n, err)
		}
		if !got.Equal(c.want) {
			t.Errorf("MinusBit(%+v,%d) = %+v, want %+v", c.in, c.n, got, c.want)
		}
	}
}

func TestPlusMinusRoundTrip(t *testing.T) {
	b := Bitwork{Pre: 10, PostHex: 5}
	up, err := PlusBit(b, 3)
	if err != nil {
		t.Fatal(err)
	}
	down, err := MinusBit(up, 3)
	if err != nil {
		t.Fatal(err)
	}
	if !down.Equal(b) {
		t.Errorf("round trip: got %+v, want %+v", down, b)
	}
}

func TestMatch(t *testing.T) {
	b := Bitwork{Pre: 2, PostHex: 0x5}
	current := "ab7ff0000000000000000000000000000000000000000000000000000000"
	target := "ab0000000000000000000000000000000000000000000000000000000000"
	ok, err := Match(current, target, b, false)
	if err != nil {
		t.Fatal(err)
	}
	if !ok {
		t.Error("expected match")
	}

	low := Bitwork{Pre: 2, PostHex: 0xf}
	ok, err = Match(current, target, low, false)
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Error("expected mismatch on post_hex requirement")
	}
}

func TestValidateClamp(t *testing.T) {
	bad := Bitwork{Pre: 64, PostHex: 1}
	if err := bad.Validate(); err == nil {
		t.Error("expected error for pre=64 with non-zero post_hex")
	}
}
