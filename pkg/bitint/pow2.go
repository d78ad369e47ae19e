// SPDX-License-Identifier: MIT

// Package bitint holds the power-of-two helpers used when sizing FFT
// blocks and capture buffers. Every function is branch-light and
// allocation-free so it can be called on the audio thread.
package bitint

import "math/bits"

// NextPowerOfTwo returns the smallest power of two >= size. Sizes <= 0
// return 1.
//
//	Input  Output
//	4      4
//	5      8
//	0      1
func NextPowerOfTwo(size int) int {
	if size <= 0 {
		return 1
	}
	// size-1 keeps exact powers of two from being doubled.
	return 1 << bits.Len(uint(size-1))
}

// IsPowerOfTwo reports whether n is a positive power of two.
func IsPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// FFTSizeFor picks the transform size for a capture buffer of
// framesPerBuffer samples, never going below minSize.
func FFTSizeFor(framesPerBuffer, minSize int) int {
	return NextPowerOfTwo(max(framesPerBuffer, minSize))
}
