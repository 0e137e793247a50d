package crux

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func frontOf(t *testing.T, seqs ...Seq) (Seq, uint16) {
	t.Helper()
	var c CumulativeSet
	for _, s := range seqs {
		c.Insert(s)
	}
	cum, bits, ok := c.Front()
	require.True(t, ok)
	return cum, bits
}

func TestCumulativeSetEmpty(t *testing.T) {
	var c CumulativeSet
	assert.True(t, c.Empty())
	_, _, ok := c.Front()
	assert.False(t, ok)
}

func TestCumulativeSetSingleElement(t *testing.T) {
	cum, bits := frontOf(t, 1)
	assert.Equal(t, Seq(1), cum)
	assert.Equal(t, uint16(0), bits)
}

func TestCumulativeSetNackVectors(t *testing.T) {
	cases := []struct {
		name string
		seqs []Seq
		cum  Seq
		bits uint16
	}{
		{"gap of one", []Seq{1, 3}, 1, 0x0001},
		{"gap of two", []Seq{1, 4}, 1, 0x0003},
		{"gap of three", []Seq{1, 5}, 1, 0x0007},
		{"gap beyond bitmap clamps", []Seq{1, 99}, 1, 0xFFFF},
		{"alternating gaps", []Seq{1, 3, 5, 7, 9, 11, 13, 15}, 1, 0x1555},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cum, bits := frontOf(t, tc.seqs...)
			assert.Equal(t, tc.cum, cum)
			assert.Equal(t, tc.bits, bits)
		})
	}
}

func TestCumulativeSetContiguousPruning(t *testing.T) {
	var c CumulativeSet
	c.Insert(5)
	c.Insert(6)
	c.Insert(7)
	cum, bits, ok := c.Front()
	require.True(t, ok)
	assert.Equal(t, Seq(7), cum)
	assert.Equal(t, uint16(0), bits)
}

func TestCumulativeSetOutOfOrderInsertStillPrunes(t *testing.T) {
	var c CumulativeSet
	c.Insert(3)
	c.Insert(1)
	c.Insert(2)
	cum, _, ok := c.Front()
	require.True(t, ok)
	assert.Equal(t, Seq(3), cum)
}

func TestCumulativeSetDuplicateInsertIsNoop(t *testing.T) {
	var c CumulativeSet
	c.Insert(1)
	c.Insert(1)
	c.Insert(3)
	cum, bits, ok := c.Front()
	require.True(t, ok)
	assert.Equal(t, Seq(1), cum)
	assert.Equal(t, uint16(0x0001), bits)
}

func TestCumulativeSetFrontIsLargestContiguousPrefix(t *testing.T) {
	// A gap after the contiguous prefix should leave the cumulative point
	// at the end of that prefix, regardless of insertion order.
	var c CumulativeSet
	inserted := []Seq{15, 10, 16, 11, 12}
	for _, s := range inserted {
		c.Insert(s)
	}
	cum, bits, ok := c.Front()
	require.True(t, ok)
	assert.Equal(t, Seq(12), cum)
	assert.Equal(t, uint16(0x0003), bits) // 13,14 missing; 15,16 present
}
