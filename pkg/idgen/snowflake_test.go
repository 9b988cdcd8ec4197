package idgen

import (
	"strings"
	"sync"
	"testing"
)

func TestGenerateUnique(t *testing.T) {
	gen := &Snowflake{workerID: 1}

	const goroutines = 8
	const perGoroutine = 2000

	var mu sync.Mutex
	seen := make(map[int64]struct{}, goroutines*perGoroutine)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			ids := make([]int64, 0, perGoroutine)
			for i := 0; i < perGoroutine; i++ {
				ids = append(ids, gen.Generate())
			}
			mu.Lock()
			defer mu.Unlock()
			for _, id := range ids {
				if _, dup := seen[id]; dup {
					t.Errorf("duplicate id %d", id)
				}
				seen[id] = struct{}{}
			}
		}()
	}
	wg.Wait()
}

func TestNumberedPrefixes(t *testing.T) {
	cases := []struct {
		gen    func() string
		prefix string
	}{
		{GenerateTransactionNo, "TXN"},
		{GenerateRequestNo, "DRQ"},
		{GenerateOpportunityNo, "OPP"},
		{GenerateWithdrawalNo, "WDR"},
	}
	for _, tc := range cases {
		no := tc.gen()
		if !strings.HasPrefix(no, tc.prefix) {
			t.Errorf("got %s, want prefix %s", no, tc.prefix)
		}
		if len(no) != len(tc.prefix)+14+8 {
			t.Errorf("unexpected length for %s", no)
		}
	}
}
