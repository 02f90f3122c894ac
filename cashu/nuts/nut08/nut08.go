// Package nut08 implements the blank-output change calculation from
// [NUT-08]: when a melt's lightning payment costs less than the quote's
// reserved fee, the mint signs a set of blank (undetermined amount)
// outputs supplied alongside the melt request and returns the overpaid
// amount as new blind signatures that the wallet can unblind like any
// other mint signature.
//
// [NUT-08]: https://github.com/cashubtc/nuts/blob/main/08.md
package nut08

import "math/bits"

// BlankOutputCount returns the number of blank outputs a wallet should
// attach to a melt request so the mint can return up to feeReserve as
// change, regardless of how much of the reserve goes unused:
//
//	count = max(ceil(log2(feeReserve)), 1)
//
// A feeReserve of 0 still gets one blank output, since the mint may end up
// overpaying by some small amount it cannot predict in advance.
func BlankOutputCount(feeReserve uint64) int {
	if feeReserve <= 1 {
		return 1
	}
	// bits.Len64(n-1) == ceil(log2(n)) for n > 1
	count := bits.Len64(feeReserve - 1)
	if count < 1 {
		count = 1
	}
	return count
}
