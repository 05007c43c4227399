package scan

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MJE43/plinko-fair/internal/digest"
	"github.com/MJE43/plinko-fair/internal/engine"
	"github.com/MJE43/plinko-fair/internal/payout"
	"github.com/MJE43/plinko-fair/internal/plinko"
)

const (
	testServer = "ServerSeedHash..."
	testClient = "ClientSeed123"
)

func TestTargetEvaluator(t *testing.T) {
	tests := []struct {
		op     TargetOp
		v1, v2 float64
		metric float64
		want   bool
	}{
		{OpEqual, 1000, 0, 1000, true},
		{OpEqual, 1000, 0, 999.9, false},
		{OpGreater, 2, 0, 2, false},
		{OpGreater, 2, 0, 2.1, true},
		{OpGreaterEqual, 2, 0, 2, true},
		{OpLess, 1, 0, 0.5, true},
		{OpLess, 1, 0, 1, false},
		{OpLessEqual, 1, 0, 1, true},
		{OpBetween, 1, 3, 3, true},
		{OpBetween, 1, 3, 3.5, false},
		{OpOutside, 1, 3, 0.5, true},
		{OpOutside, 1, 3, 2, false},
		{TargetOp("bogus"), 1, 3, 2, false},
	}
	for _, tt := range tests {
		te := NewTargetEvaluator(tt.op, tt.v1, tt.v2, DefaultTolerance)
		if got := te.Matches(tt.metric); got != tt.want {
			t.Errorf("%s(%v, %v).Matches(%v) = %v, want %v", tt.op, tt.v1, tt.v2, tt.metric, got, tt.want)
		}
	}
}

func TestParseTargetOp(t *testing.T) {
	if op, err := ParseTargetOp(""); err != nil || op != OpGreaterEqual {
		t.Errorf("empty op = %q, %v", op, err)
	}
	if op, err := ParseTargetOp(" BETWEEN "); err != nil || op != OpBetween {
		t.Errorf("BETWEEN = %q, %v", op, err)
	}
	if _, err := ParseTargetOp("approx"); !errors.Is(err, ErrInvalidTarget) {
		t.Errorf("approx error = %v", err)
	}
}

// sequential recomputes a range one nonce at a time.
func sequential(t *testing.T, table *payout.Table, from, to uint64, rows int, risk payout.Risk, te *TargetEvaluator) (slots []uint64, hits []Hit, total decimal.Decimal) {
	t.Helper()
	mults, err := table.Multipliers(rows, risk)
	if err != nil {
		t.Fatal(err)
	}
	slots = make([]uint64, rows+1)
	total = decimal.Zero
	for n := from; n <= to; n++ {
		out, err := engine.Compute(testServer, testClient, n, rows, digest.EncodingLatin1)
		if err != nil {
			t.Fatal(err)
		}
		slots[out.SlotIndex]++
		total = total.Add(mults[out.SlotIndex])
		m := mults[out.SlotIndex].InexactFloat64()
		if te.Matches(m) {
			hits = append(hits, Hit{Nonce: n, Slot: out.SlotIndex, Multiplier: m})
		}
	}
	return slots, hits, total
}

func TestScanMatchesSequentialReplay(t *testing.T) {
	table := payout.MustDefault()
	req := Request{
		ServerSeed: testServer,
		ClientSeed: testClient,
		NonceStart: 1,
		NonceEnd:   3000,
		Rows:       16,
		Risk:       payout.RiskNormal,
		TargetOp:   OpGreaterEqual,
		TargetVal:  3,
	}

	slots, wantHits, total := sequential(t, table, 1, 3000, 16, payout.RiskNormal,
		NewTargetEvaluator(OpGreaterEqual, 3, 0, DefaultTolerance))

	for _, workers := range []int{1, 4} {
		scanner := NewScanner(table, WithWorkers(workers), WithBatchSize(97))
		res, err := scanner.Scan(context.Background(), req)
		if err != nil {
			t.Fatalf("Scan(workers=%d): %v", workers, err)
		}

		s := res.Summary
		if s.TotalEvaluated != 3000 || s.Histogram.Total != 3000 {
			t.Errorf("workers=%d evaluated %d (histogram %d), want 3000", workers, s.TotalEvaluated, s.Histogram.Total)
		}
		for k, c := range slots {
			if s.Histogram.Counts[k] != c {
				t.Errorf("workers=%d slot %d count = %d, want %d", workers, k, s.Histogram.Counts[k], c)
			}
		}
		if s.HitsFound != uint64(len(wantHits)) || len(res.Hits) != len(wantHits) {
			t.Fatalf("workers=%d hits = %d/%d, want %d", workers, s.HitsFound, len(res.Hits), len(wantHits))
		}
		for i := range wantHits {
			if res.Hits[i] != wantHits[i] {
				t.Errorf("workers=%d hit %d = %+v, want %+v", workers, i, res.Hits[i], wantHits[i])
			}
		}

		wantRTP := total.Mul(decimal.NewFromInt(100)).DivRound(decimal.NewFromInt(3000), 12)
		if !s.EmpiricalRTP.Equal(wantRTP) {
			t.Errorf("workers=%d empirical RTP = %s, want %s", workers, s.EmpiricalRTP, wantRTP)
		}
		if s.ExpectedRTP.IsZero() {
			t.Error("expected RTP not reported")
		}
		if s.DegreesOfFreedom != 16 {
			t.Errorf("dof = %d, want 16", s.DegreesOfFreedom)
		}
		if s.TimedOut {
			t.Error("scan without timeout reported TimedOut")
		}
	}
}

func TestScanLimitKeepsLowestNonces(t *testing.T) {
	table := payout.MustDefault()
	req := Request{
		ServerSeed: testServer,
		ClientSeed: testClient,
		NonceStart: 1,
		NonceEnd:   2000,
		Rows:       8,
		Risk:       payout.RiskLow,
		TargetOp:   OpLess,
		TargetVal:  1,
		Limit:      5,
	}

	_, all, _ := sequential(t, table, 1, 2000, 8, payout.RiskLow, NewTargetEvaluator(OpLess, 1, 0, DefaultTolerance))
	if len(all) < 5 {
		t.Fatalf("fixture produced only %d hits", len(all))
	}

	res, err := NewScanner(table, WithWorkers(3), WithBatchSize(64)).Scan(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 5 {
		t.Fatalf("got %d hits, want 5", len(res.Hits))
	}
	for i, h := range res.Hits {
		if h.Nonce != all[i].Nonce {
			t.Errorf("hit %d nonce = %d, want %d", i, h.Nonce, all[i].Nonce)
		}
		if h.Multiplier >= 1 {
			t.Errorf("hit %d multiplier %v does not satisfy lt 1", i, h.Multiplier)
		}
	}
	if res.Summary.HitsFound != uint64(len(all)) {
		t.Errorf("HitsFound = %d, want %d", res.Summary.HitsFound, len(all))
	}
}

func TestScanUnlimitedIsCapped(t *testing.T) {
	table := payout.MustDefault()
	req := Request{
		ServerSeed: testServer,
		ClientSeed: testClient,
		NonceStart: 1,
		NonceEnd:   3000,
		Rows:       8,
		Risk:       payout.RiskLow,
		TargetOp:   OpGreaterEqual,
		TargetVal:  0,
	}

	res, err := NewScanner(table, WithWorkers(4), WithBatchSize(50), WithMaxHits(100)).Scan(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 100 {
		t.Fatalf("got %d hits, want the cap of 100", len(res.Hits))
	}
	for i, h := range res.Hits {
		if h.Nonce != uint64(i+1) {
			t.Fatalf("hit %d nonce = %d, want %d", i, h.Nonce, i+1)
		}
	}
	if res.Summary.HitsFound != 3000 || !res.Summary.HitsTruncated {
		t.Errorf("HitsFound = %d truncated = %v, want 3000 and true", res.Summary.HitsFound, res.Summary.HitsTruncated)
	}

	// A limit above the cap is held to it as well.
	req.Limit = 1000
	res, err = NewScanner(table, WithBatchSize(50), WithMaxHits(100)).Scan(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 100 {
		t.Errorf("limit above cap: got %d hits, want 100", len(res.Hits))
	}

	req.Limit, req.NonceEnd = 0, 80
	res, err = NewScanner(table, WithBatchSize(50), WithMaxHits(100)).Scan(context.Background(), req)
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 80 || res.Summary.HitsTruncated {
		t.Errorf("under cap: got %d hits truncated = %v, want 80 and false", len(res.Hits), res.Summary.HitsTruncated)
	}
}

func TestScanSingleNonce(t *testing.T) {
	table := payout.MustDefault()
	res, err := NewScanner(table).Scan(context.Background(), Request{
		ServerSeed: testServer,
		ClientSeed: testClient,
		NonceStart: 1,
		NonceEnd:   1,
		Rows:       14,
		Risk:       payout.RiskNormal,
		TargetOp:   OpGreaterEqual,
		TargetVal:  0,
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(res.Hits) != 1 || res.Hits[0].Slot != 5 {
		t.Fatalf("hits = %+v, want slot 5 at nonce 1", res.Hits)
	}
	want, _ := table.Multiplier(14, payout.RiskNormal, 5)
	if res.Summary.MinMultiplier != want.InexactFloat64() || res.Summary.MaxMultiplier != want.InexactFloat64() {
		t.Errorf("min/max = %v/%v, want %v", res.Summary.MinMultiplier, res.Summary.MaxMultiplier, want)
	}
}

func TestScanTopOfNonceRange(t *testing.T) {
	res, err := NewScanner(payout.MustDefault(), WithBatchSize(3)).Scan(context.Background(), Request{
		ServerSeed: testServer,
		ClientSeed: testClient,
		NonceStart: math.MaxUint64 - 9,
		NonceEnd:   math.MaxUint64,
		Rows:       16,
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Summary.TotalEvaluated != 10 {
		t.Errorf("evaluated %d, want 10", res.Summary.TotalEvaluated)
	}
}

func TestScanValidation(t *testing.T) {
	scanner := NewScanner(payout.MustDefault())
	base := Request{ServerSeed: testServer, ClientSeed: testClient, NonceStart: 1, NonceEnd: 10, Rows: 16}

	tests := []struct {
		name   string
		mutate func(*Request)
		want   error
	}{
		{"reversed range", func(r *Request) { r.NonceStart, r.NonceEnd = 10, 1 }, ErrInvalidRange},
		{"rows too small", func(r *Request) { r.Rows = 7 }, plinko.ErrInvalidRows},
		{"unknown op", func(r *Request) { r.TargetOp = "near" }, ErrInvalidTarget},
		{"inverted between", func(r *Request) { r.TargetOp, r.TargetVal, r.TargetVal2 = OpBetween, 5, 1 }, ErrInvalidTarget},
		{"unknown risk", func(r *Request) { r.Risk = "extreme" }, payout.ErrNoTable},
		{"unencodable seed", func(r *Request) { r.ServerSeed = "€" }, digest.ErrUnencodable},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := base
			tt.mutate(&req)
			if _, err := scanner.Scan(context.Background(), req); !errors.Is(err, tt.want) {
				t.Errorf("error = %v, want %v", err, tt.want)
			}
		})
	}
}

func TestScanTimeout(t *testing.T) {
	res, err := NewScanner(payout.MustDefault(), WithBatchSize(1024)).Scan(context.Background(), Request{
		ServerSeed: testServer,
		ClientSeed: testClient,
		NonceStart: 1,
		NonceEnd:   1 << 40,
		Rows:       16,
		Timeout:    20 * time.Millisecond,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Summary.TimedOut {
		t.Error("expected TimedOut")
	}
	if res.Summary.TotalEvaluated != res.Summary.Histogram.Total {
		t.Errorf("evaluated %d but histogram holds %d", res.Summary.TotalEvaluated, res.Summary.Histogram.Total)
	}
}
