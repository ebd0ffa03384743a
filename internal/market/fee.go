package market

import "math/bits"

// PerMillion is the denominator for fee cuts: a cut of 25_000 takes 2.5%.
const PerMillion = 1_000_000

// ValidCut reports whether cut is a legal per-million fee configuration.
// Validity is enforced when the cut is configured, not per settlement.
func ValidCut(cut uint64) bool {
	return cut < PerMillion
}

// ComputeShares splits price into the platform share and the seller share.
// The platform share is floor(price * cut / 1e6); the seller receives the
// remainder, so the two shares always sum to price exactly. The product is
// computed in 128 bits so no price within uint64 range can overflow.
func ComputeShares(price, cutPerMillion uint64) (platformShare, sellerShare uint64) {
	hi, lo := bits.Mul64(price, cutPerMillion)
	// hi < PerMillion because cutPerMillion < PerMillion, so Div64 cannot trap.
	platformShare, _ = bits.Div64(hi, lo, PerMillion)
	return platformShare, price - platformShare
}
