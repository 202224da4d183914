package bulk

// XorInto XORs a and b byte-for-byte into dst, reusing dst's backing array
// when it is large enough. Precondition: len(a) == len(b). The loop makes a
// single fixed pass with no data-dependent branch, per §4.3.
func XorInto(dst, a, b []byte) ([]byte, error) {
	if len(a) != len(b) {
		return nil, ErrLengthMismatch
	}
	if cap(dst) < len(a) {
		dst = make([]byte, len(a))
	} else {
		dst = dst[:len(a)]
	}
	for i := range a {
		dst[i] = a[i] ^ b[i]
	}
	return dst, nil
}

// XorAccumulate XORs delta into acc in place, zero-extending acc first if
// it is shorter than delta. Used to fold successive peers' xor messages
// into the running bulk buffer in non-application-broadcast mode.
func XorAccumulate(acc, delta []byte) []byte {
	if len(acc) < len(delta) {
		grown := make([]byte, len(delta))
		copy(grown, acc)
		acc = grown
	}
	for i := range delta {
		acc[i] ^= delta[i]
	}
	return acc
}
