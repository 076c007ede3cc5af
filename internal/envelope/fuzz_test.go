package envelope

import "testing"

// FuzzParseFromTransaction tests that arbitrary bytes placed in a
// transaction's witness never panic the envelope decoder.
func FuzzParseFromTransaction(f *testing.F) {
	valid, _ := Encode(mineEnvelope([]byte{0x01, 0x02}))
	f.Add(valid)
	f.Add([]byte{})
	f.Add([]byte{0xa0})
	f.Add([]byte{0xde, 0xad, 0xbe, 0xef})

	f.Fuzz(func(t *testing.T, data []byte) {
		tx := txWithWitnessItem(data)
		ParseFromTransaction(tx)
	})
}

// FuzzTryParse tests the single-item CBOR decode path directly.
func FuzzTryParse(f *testing.F) {
	valid, _ := Encode(mineEnvelope([]byte{0x01}))
	f.Add(valid)
	f.Add([]byte(nil))
	f.Add([]byte{0x00})

	f.Fuzz(func(t *testing.T, data []byte) {
		tryParse(data)
	})
}
