package indexer

import (
	"reflect"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

func TestSplitRange(t *testing.T) {
	got, err := SplitRange(100, 104, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	want := []BlockRange{
		{From: 100, To: 101},
		{From: 102, To: 103},
		{From: 104, To: 104},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("ranges mismatch: %+v != %+v", got, want)
	}

	var total uint64
	for _, r := range got {
		total += r.Len()
	}
	if total != 5 {
		t.Fatalf("ranges should cover 5 blocks, got %d", total)
	}
}

func TestSplitRangeSingleAndMaxBlock(t *testing.T) {
	got, err := SplitRange(5, 5, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []BlockRange{{From: 5, To: 5}}) {
		t.Fatalf("single range mismatch: %+v", got)
	}

	const top = ^uint64(0)
	got, err = SplitRange(top-2, top, 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !reflect.DeepEqual(got, []BlockRange{{From: top - 2, To: top - 1}, {From: top, To: top}}) {
		t.Fatalf("ranges near the top must not overflow: %+v", got)
	}
}

func TestSplitRangeInvalid(t *testing.T) {
	if _, err := SplitRange(10, 9, 1); err == nil {
		t.Fatalf("expected error for invalid range")
	}
	if _, err := SplitRange(1, 10, 0); err == nil {
		t.Fatalf("expected error for zero batch size")
	}
}

func TestSafeHead(t *testing.T) {
	cases := []struct {
		latest, confirmations, to uint64
		head                      uint64
		ok                        bool
	}{
		{latest: 100, head: 100, ok: true},
		{latest: 100, confirmations: 12, head: 88, ok: true},
		{latest: 100, confirmations: 12, to: 50, head: 50, ok: true},
		{latest: 100, confirmations: 12, to: 95, head: 88, ok: true},
		{latest: 5, confirmations: 12, ok: false},
	}
	for _, c := range cases {
		head, ok := SafeHead(c.latest, c.confirmations, c.to)
		if head != c.head || ok != c.ok {
			t.Fatalf("SafeHead(%d, %d, %d) = %d, %v; want %d, %v", c.latest, c.confirmations, c.to, head, ok, c.head, c.ok)
		}
	}
}

func TestParseTopic0(t *testing.T) {
	a := "0xaa" + strings.Repeat("0", 62)
	b := "0xbb" + strings.Repeat("0", 62)
	got, err := ParseTopic0([]string{a, " ", a, b})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 || got[0] != common.HexToHash(a) {
		t.Fatalf("expected 2 unique topics in order, got %v", got)
	}
	if _, err := ParseTopic0([]string{"0x1234"}); err == nil {
		t.Fatalf("expected short topic error")
	}
	if _, err := ParseTopic0([]string{"zz"}); err == nil {
		t.Fatalf("expected invalid hex error")
	}
}
