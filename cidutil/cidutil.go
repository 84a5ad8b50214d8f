// Package cidutil derives content identifiers locally.
//
// Production code never mints identifiers (the daemon does); these helpers
// back test fakes and local diagnostics, where identical bytes must map to
// identical identifiers.
package cidutil

import (
	"github.com/ipfs/go-cid"
	"github.com/multiformats/go-multihash"
)

// CIDv1RawSHA256 returns the CIDv1 string (raw codec, sha2-256) of data.
func CIDv1RawSHA256(data []byte) string {
	id, err := CIDv1RawSHA256CID(data)
	if err != nil {
		// multihash.Sum only fails for unknown codes or invalid lengths.
		return ""
	}
	return id.String()
}

// CIDv1RawSHA256CID returns a CIDv1 (raw + sha2-256) derived from data.
func CIDv1RawSHA256CID(data []byte) (cid.Cid, error) {
	sum, err := multihash.Sum(data, multihash.SHA2_256, -1)
	if err != nil {
		return cid.Undef, err
	}
	return cid.NewCidV1(cid.Raw, sum), nil
}

// Matches reports whether id is the raw sha2-256 identifier of data.
func Matches(id string, data []byte) bool {
	want, err := CIDv1RawSHA256CID(data)
	if err != nil {
		return false
	}
	got, err := cid.Decode(id)
	if err != nil {
		return false
	}
	return got.Equals(want)
}
