package domain

import "testing"

// FuzzParseTxHash checks that parsing never panics and that accepted hashes
// round-trip unchanged.
func FuzzParseTxHash(f *testing.F) {
	f.Add("")
	f.Add("0x0000000000000000000000000000000000000000000000000000000000000000")
	f.Add("0xABCDEF0000000000000000000000000000000000000000000000000000000000")
	f.Add("0x")
	f.Add("'; DROP TABLE blockchain_transactions;--")
	f.Add(string([]byte{0x00, 0x01, 0x02}))

	f.Fuzz(func(t *testing.T, input string) {
		h, err := ParseTxHash(input)
		if err != nil {
			return
		}
		again, err := ParseTxHash(h.String())
		if err != nil {
			t.Fatalf("accepted hash failed round-trip: %v", err)
		}
		if again != h {
			t.Fatalf("round-trip changed value: %q != %q", again, h)
		}
		if len(h) != 66 {
			t.Fatalf("accepted hash has length %d", len(h))
		}
	})
}

// FuzzParseApplicationID checks that accepted IDs are always positive.
func FuzzParseApplicationID(f *testing.F) {
	f.Add("42")
	f.Add("-1")
	f.Add("")
	f.Add("9223372036854775807")

	f.Fuzz(func(t *testing.T, input string) {
		id, err := ParseApplicationID(input)
		if err == nil && id <= 0 {
			t.Fatalf("accepted non-positive id %d from %q", id, input)
		}
	})
}
