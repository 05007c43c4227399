// Package scan replays a revealed seed pair over a nonce range and audits
// the outcomes against a payout table and the binomial model.
package scan

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MJE43/plinko-fair/internal/digest"
	"github.com/MJE43/plinko-fair/internal/engine"
	"github.com/MJE43/plinko-fair/internal/fairness"
	"github.com/MJE43/plinko-fair/internal/payout"
	"github.com/MJE43/plinko-fair/internal/plinko"
)

const defaultBatchSize = 8192 // 8k nonces per batch for good throughput

// MaxHits bounds the hits a scan keeps in memory. A Limit of zero, or one
// above the cap, reports at most this many.
const MaxHits = 100_000

// Request describes one scan.
type Request struct {
	ServerSeed string          `json:"server_seed"`
	ClientSeed string          `json:"client_seed"`
	Encoding   digest.Encoding `json:"encoding"`
	NonceStart uint64          `json:"nonce_start"`
	NonceEnd   uint64          `json:"nonce_end"`
	Rows       int             `json:"rows"`
	Risk       payout.Risk     `json:"risk"`
	TargetOp   TargetOp        `json:"target_op"`
	TargetVal  float64         `json:"target_val"`
	TargetVal2 float64         `json:"target_val2,omitempty"` // for "between" and "outside"
	Tolerance  float64         `json:"tolerance"`
	Limit      int             `json:"limit,omitempty"`
	Timeout    time.Duration   `json:"timeout,omitempty"`
}

// Hit is one nonce whose multiplier matched the target.
type Hit struct {
	Nonce      uint64  `json:"nonce"`
	Slot       int     `json:"slot"`
	Multiplier float64 `json:"multiplier"`
}

// Summary contains aggregate statistics over every evaluated nonce, not
// only the hits.
type Summary struct {
	TotalEvaluated   uint64              `json:"total_evaluated"`
	HitsFound        uint64              `json:"hits_found"`
	MinMultiplier    float64             `json:"min_multiplier"`
	MaxMultiplier    float64             `json:"max_multiplier"`
	MeanMultiplier   float64             `json:"mean_multiplier"`
	EmpiricalRTP     decimal.Decimal     `json:"empirical_rtp"`
	ExpectedRTP      decimal.Decimal     `json:"expected_rtp"`
	Histogram        *fairness.Histogram `json:"histogram"`
	ChiSquare        float64             `json:"chi_square"`
	DegreesOfFreedom int                 `json:"degrees_of_freedom"`
	TimedOut         bool                `json:"timed_out,omitempty"`
	HitsTruncated    bool                `json:"hits_truncated,omitempty"`
}

// Result contains the complete scan results
type Result struct {
	Hits    []Hit   `json:"hits"`
	Summary Summary `json:"summary"`
	Echo    Request `json:"echo"`
}

type job struct {
	start uint64
	end   uint64
}

// batchResult is one worker's tally for one job. hits holds at most the
// first limit matches of the batch, in nonce order.
type batchResult struct {
	hist    *fairness.Histogram
	hits    []Hit
	matched uint64
}

// Scanner performs parallel scanning across nonce ranges
type Scanner struct {
	table       *payout.Table
	workerCount int
	batchSize   uint64
	maxHits     int
}

type Option func(*Scanner)

// WithWorkers overrides the worker count, which defaults to GOMAXPROCS.
func WithWorkers(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.workerCount = n
		}
	}
}

// WithBatchSize overrides how many nonces a worker takes per job.
func WithBatchSize(n uint64) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.batchSize = n
		}
	}
}

// WithMaxHits lowers or raises the MaxHits cap for this scanner.
func WithMaxHits(n int) Option {
	return func(s *Scanner) {
		if n > 0 {
			s.maxHits = n
		}
	}
}

func NewScanner(table *payout.Table, opts ...Option) *Scanner {
	s := &Scanner{
		table:       table,
		workerCount: runtime.GOMAXPROCS(0),
		batchSize:   defaultBatchSize,
		maxHits:     MaxHits,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scanner) validate(req *Request) error {
	if req.NonceEnd < req.NonceStart {
		return fmt.Errorf("%w: end %d before start %d", ErrInvalidRange, req.NonceEnd, req.NonceStart)
	}
	if err := plinko.ValidateRows(req.Rows); err != nil {
		return err
	}
	if req.Risk == "" {
		req.Risk = plinko.DefaultRisk
	}
	op, err := ParseTargetOp(string(req.TargetOp))
	if err != nil {
		return err
	}
	req.TargetOp = op
	if (op == OpBetween || op == OpOutside) && req.TargetVal2 < req.TargetVal {
		return fmt.Errorf("%w: %s needs target_val2 >= target_val", ErrInvalidTarget, op)
	}
	if req.Tolerance == 0 {
		req.Tolerance = DefaultTolerance
	}
	if req.Encoding == "" {
		req.Encoding = digest.EncodingLatin1
	}
	// Surface encoding problems once instead of per nonce.
	if _, err := engine.Compute(req.ServerSeed, req.ClientSeed, req.NonceStart, req.Rows, req.Encoding); err != nil {
		return err
	}
	return nil
}

// Scan evaluates every nonce in [NonceStart, NonceEnd]. On timeout the
// partial result is returned with Summary.TimedOut set.
func (s *Scanner) Scan(ctx context.Context, req Request) (*Result, error) {
	if err := s.validate(&req); err != nil {
		return nil, err
	}
	multipliers, err := s.table.Multipliers(req.Rows, req.Risk)
	if err != nil {
		return nil, err
	}
	expected, err := fairness.ExpectedReturn(s.table, req.Rows, req.Risk)
	if err != nil {
		return nil, err
	}

	if req.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, req.Timeout)
		defer cancel()
	}

	metrics := make([]float64, len(multipliers))
	for i, m := range multipliers {
		metrics[i] = m.InexactFloat64()
	}
	evaluator := NewTargetEvaluator(req.TargetOp, req.TargetVal, req.TargetVal2, req.Tolerance)
	limit := req.Limit
	if limit <= 0 || limit > s.maxHits {
		limit = s.maxHits
	}

	jobs := make(chan job, s.workerCount*2)
	results := make(chan batchResult, s.workerCount*2)
	var evaluated uint64
	var wg sync.WaitGroup

	for i := 0; i < s.workerCount; i++ {
		w := &worker{
			req:       &req,
			limit:     limit,
			metrics:   metrics,
			evaluator: evaluator,
			jobs:      jobs,
			results:   results,
			evaluated: &evaluated,
		}
		wg.Add(1)
		go w.run(ctx, &wg)
	}

	go s.generateJobs(ctx, jobs, req.NonceStart, req.NonceEnd)
	go func() {
		wg.Wait()
		close(results)
	}()

	hist := fairness.NewHistogram(req.Rows)
	var hits []Hit
	var matched uint64
	for br := range results {
		hist.Merge(br.hist)
		hits = append(hits, br.hits...)
		matched += br.matched
		if len(hits) >= 2*limit {
			hits = lowestNonces(hits, limit)
		}
	}

	hits = lowestNonces(hits, limit)
	if hits == nil {
		hits = []Hit{}
	}

	summary := summarize(hist, multipliers, metrics)
	summary.TotalEvaluated = atomic.LoadUint64(&evaluated)
	summary.HitsFound = matched
	summary.HitsTruncated = matched > uint64(len(hits))
	summary.ExpectedRTP = expected
	span := req.NonceEnd - req.NonceStart + 1
	summary.TimedOut = ctx.Err() != nil && summary.TotalEvaluated != span

	return &Result{Hits: hits, Summary: summary, Echo: req}, nil
}

// lowestNonces sorts hits by nonce and keeps the first limit.
func lowestNonces(hits []Hit, limit int) []Hit {
	sort.Slice(hits, func(i, j int) bool { return hits[i].Nonce < hits[j].Nonce })
	if len(hits) > limit {
		hits = hits[:limit:limit]
	}
	return hits
}

// generateJobs splits [start, end] into batches without overflowing at the
// top of the uint64 range.
func (s *Scanner) generateJobs(ctx context.Context, jobs chan<- job, start, end uint64) {
	defer close(jobs)

	for current := start; ; {
		batchEnd := end
		if end-current >= s.batchSize {
			batchEnd = current + s.batchSize - 1
		}

		select {
		case jobs <- job{start: current, end: batchEnd}:
		case <-ctx.Done():
			return
		}

		if batchEnd == end {
			return
		}
		current = batchEnd + 1
	}
}

type worker struct {
	req       *Request
	limit     int
	metrics   []float64
	evaluator *TargetEvaluator
	jobs      <-chan job
	results   chan<- batchResult
	evaluated *uint64
}

func (w *worker) run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	for {
		select {
		case j, ok := <-w.jobs:
			if !ok {
				return
			}
			w.results <- w.process(ctx, j)
		case <-ctx.Done():
			return
		}
	}
}

// process evaluates one batch. It stops early, keeping what it has, when
// ctx is cancelled.
func (w *worker) process(ctx context.Context, j job) batchResult {
	br := batchResult{hist: fairness.NewHistogram(w.req.Rows)}

	for nonce := j.start; ; nonce++ {
		if nonce&0xff == 0 && ctx.Err() != nil {
			return br
		}

		out, err := engine.Compute(w.req.ServerSeed, w.req.ClientSeed, nonce, w.req.Rows, w.req.Encoding)
		if err == nil {
			atomic.AddUint64(w.evaluated, 1)
			br.hist.Add(out.SlotIndex)

			metric := w.metrics[out.SlotIndex]
			if w.evaluator.Matches(metric) {
				br.matched++
				if len(br.hits) < w.limit {
					br.hits = append(br.hits, Hit{Nonce: nonce, Slot: out.SlotIndex, Multiplier: metric})
				}
			}
		}

		if nonce == j.end {
			return br
		}
	}
}

// summarize derives multiplier statistics from the slot histogram, which
// keeps the return figure exact.
func summarize(hist *fairness.Histogram, multipliers []decimal.Decimal, metrics []float64) Summary {
	stat, dof := hist.ChiSquare()
	summary := Summary{
		Histogram:        hist,
		ChiSquare:        stat,
		DegreesOfFreedom: dof,
		EmpiricalRTP:     decimal.Zero,
	}
	if hist.Total == 0 {
		return summary
	}

	total := decimal.Zero
	first := true
	for slot, count := range hist.Counts {
		if count == 0 {
			continue
		}
		total = total.Add(multipliers[slot].Mul(decimal.NewFromInt(int64(count))))
		if first || metrics[slot] < summary.MinMultiplier {
			summary.MinMultiplier = metrics[slot]
		}
		if first || metrics[slot] > summary.MaxMultiplier {
			summary.MaxMultiplier = metrics[slot]
		}
		first = false
	}

	n := decimal.NewFromInt(int64(hist.Total))
	mean := total.DivRound(n, 12)
	summary.MeanMultiplier = mean.InexactFloat64()
	summary.EmpiricalRTP = total.Mul(decimal.NewFromInt(100)).DivRound(n, 12)
	return summary
}
