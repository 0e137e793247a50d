package crux

// Seq is a wrap-safe 32-bit sequence number. Arithmetic is modular: the
// comparison and distance operations treat the space as a ring of 2^32
// values and are only meaningful for pairs within 2^31 of each other, per
// the usual TCP-style sequence-number convention.
type Seq uint32

// Next returns the sequence number immediately following s, wrapping from
// MaxUint32 back to 0.
func (s Seq) Next() Seq {
	return s + 1
}

// Distance returns the signed distance from s to other, chosen as the
// representative of minimum absolute value modulo 2^32. The result lies in
// [-2^31, 2^31-1]. Positive means other is ahead of s.
func (s Seq) Distance(other Seq) int32 {
	return int32(other - s)
}

// Less reports whether s precedes other in sequence order, accounting for
// wraparound: true iff Distance(s, other) > 0.
func (s Seq) Less(other Seq) bool {
	return s.Distance(other) > 0
}

// Equal reports whether s and other are the same sequence number.
func (s Seq) Equal(other Seq) bool {
	return s == other
}
