package models

import (
	"encoding/json"
	"math/bits"
)

// NumberSet is a bitset over MinNumber..MaxNumber. The zero value is empty.
type NumberSet [6]uint64

func (s *NumberSet) Has(n int) bool {
	if !InRange(n) {
		return false
	}
	return s[n/64]&(1<<(uint(n)%64)) != 0
}

// Add inserts n and reports whether the set changed.
func (s *NumberSet) Add(n int) bool {
	if !InRange(n) || s.Has(n) {
		return false
	}
	s[n/64] |= 1 << (uint(n) % 64)
	return true
}

func (s *NumberSet) Len() int {
	c := 0
	for _, w := range s {
		c += bits.OnesCount64(w)
	}
	return c
}

func (s *NumberSet) Sum() int {
	sum := 0
	for n := MinNumber; n <= MaxNumber; n++ {
		if s.Has(n) {
			sum += n
		}
	}
	return sum
}

// Slice returns the members in ascending order.
func (s *NumberSet) Slice() []int {
	out := make([]int, 0, s.Len())
	for n := MinNumber; n <= MaxNumber; n++ {
		if s.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

// Remaining returns MinNumber..MaxNumber minus the set, ascending.
func (s *NumberSet) Remaining() []int {
	out := make([]int, 0, MaxNumber-MinNumber+1-s.Len())
	for n := MinNumber; n <= MaxNumber; n++ {
		if !s.Has(n) {
			out = append(out, n)
		}
	}
	return out
}

func (s NumberSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Slice())
}

// UnmarshalJSON accepts an array of ints in any order. Values outside the
// range are dropped; callers that care compare lengths.
func (s *NumberSet) UnmarshalJSON(b []byte) error {
	var nums []int
	if err := json.Unmarshal(b, &nums); err != nil {
		return err
	}
	*s = NumberSet{}
	for _, n := range nums {
		s.Add(n)
	}
	return nil
}
