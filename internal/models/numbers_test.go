package models

import (
	"encoding/json"
	"testing"
	"time"
)

func TestNumberSet_AddHas(t *testing.T) {
	var s NumberSet
	for _, n := range []int{1, 63, 64, 65, 127, 128, 365} {
		if !s.Add(n) {
			t.Fatalf("Add(%d) = false on first insert", n)
		}
		if s.Add(n) {
			t.Fatalf("Add(%d) = true on second insert", n)
		}
		if !s.Has(n) {
			t.Fatalf("Has(%d) = false after Add", n)
		}
	}
	if got := s.Len(); got != 7 {
		t.Fatalf("Len = %d; want 7", got)
	}
	if got, want := s.Sum(), 1+63+64+65+127+128+365; got != want {
		t.Fatalf("Sum = %d; want %d", got, want)
	}
}

func TestNumberSet_OutOfRange(t *testing.T) {
	var s NumberSet
	for _, n := range []int{-1, 0, 366, 1000} {
		if s.Add(n) {
			t.Fatalf("Add(%d) accepted out-of-range value", n)
		}
		if s.Has(n) {
			t.Fatalf("Has(%d) = true", n)
		}
	}
	if s.Len() != 0 {
		t.Fatalf("set not empty: %v", s.Slice())
	}
}

func TestNumberSet_RemainingIsComplement(t *testing.T) {
	var s NumberSet
	used := map[int]bool{}
	for n := 3; n <= MaxNumber; n += 7 {
		s.Add(n)
		used[n] = true
	}

	rem := s.Remaining()
	if len(rem)+s.Len() != MaxNumber {
		t.Fatalf("len(remaining)=%d + len(used)=%d != %d", len(rem), s.Len(), MaxNumber)
	}
	prev := 0
	for _, n := range rem {
		if n <= prev {
			t.Fatalf("remaining not strictly ascending at %d (prev %d)", n, prev)
		}
		if used[n] {
			t.Fatalf("remaining contains used number %d", n)
		}
		prev = n
	}
}

func TestNumberSet_JSON(t *testing.T) {
	var s NumberSet
	s.Add(300)
	s.Add(5)
	s.Add(42)

	b, err := json.Marshal(s)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if string(b) != "[5,42,300]" {
		t.Fatalf("marshal = %s; want [5,42,300]", b)
	}

	var back NumberSet
	if err := json.Unmarshal([]byte("[300, 0, 5, 42, 999, 5]"), &back); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if back != s {
		t.Fatalf("unmarshal = %v; want %v", back.Slice(), s.Slice())
	}
}

func TestStrategyTotal(t *testing.T) {
	if got := StrategyTotal(); got != 66795 {
		t.Fatalf("StrategyTotal = %d; want 66795", got)
	}
}

func TestUserRecord_CloneDetached(t *testing.T) {
	h, on := 9, true
	now := time.Date(2026, time.October, 16, 9, 0, 0, 0, time.UTC)
	r := UserRecord{UserID: 1, NotificationTime: &h, EnableCongratulations: &on, LastTopUpDate: &now}
	r.Used.Add(7)

	c := r.Clone()
	*r.NotificationTime = 12
	*r.EnableCongratulations = false
	r.Used.Add(8)

	if *c.NotificationTime != 9 || !c.WantsCongratulations() || c.Used.Has(8) {
		t.Fatalf("clone shares state with its source: %+v", c)
	}
}
