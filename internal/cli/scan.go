package cli

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/MJE43/plinko-fair/internal/plinko"
	"github.com/MJE43/plinko-fair/internal/scan"
)

func (a *app) newScanCmd() *cobra.Command {
	var (
		req     scan.Request
		rows    string
		risk    string
		op      string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "scan",
		Short: "Replay a nonce range and audit the outcome distribution",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			rows, risk, err := a.board(cmd, rows, risk)
			if err != nil {
				return err
			}
			table, err := a.tables("")
			if err != nil {
				return err
			}

			req.Rows = rows
			req.Risk = risk
			req.TargetOp = scan.TargetOp(op)
			req.Encoding = a.enc

			a.log.Debug("scan started", "from", req.NonceStart, "to", req.NonceEnd, "rows", rows, "risk", risk, "op", op)
			started := time.Now()
			res, err := scan.NewScanner(table, scan.WithWorkers(workers)).Scan(cmd.Context(), req)
			if err != nil {
				return err
			}
			a.log.Debug("scan finished", "evaluated", res.Summary.TotalEvaluated, "elapsed", time.Since(started))
			if res.Summary.TimedOut {
				a.log.Warn("scan timed out, summary covers a partial range", "evaluated", res.Summary.TotalEvaluated)
			}
			if res.Summary.HitsTruncated {
				a.log.Warn("more hits than reported, raise --limit or narrow the range", "found", res.Summary.HitsFound, "reported", len(res.Hits))
			}

			return a.emit(cmd, res, func(w io.Writer) error {
				s := res.Summary
				kv(w,
					"evaluated", s.TotalEvaluated,
					"hits", s.HitsFound,
					"min multiplier", s.MinMultiplier,
					"max multiplier", s.MaxMultiplier,
					"mean multiplier", s.MeanMultiplier,
					"empirical rtp", s.EmpiricalRTP.StringFixed(4)+"%",
					"expected rtp", s.ExpectedRTP.StringFixed(4)+"%",
					"chi-square", fmt.Sprintf("%.4f (dof %d)", s.ChiSquare, s.DegreesOfFreedom),
				)
				if len(res.Hits) == 0 {
					return nil
				}
				tw := newTable(w)
				fmt.Fprintln(tw, "NONCE\tSLOT\tMULTIPLIER")
				for _, h := range res.Hits {
					fmt.Fprintf(tw, "%d\t%d\t%gx\n", h.Nonce, h.Slot, h.Multiplier)
				}
				return tw.Flush()
			})
		},
	}

	f := cmd.Flags()
	f.StringVar(&req.ServerSeed, "server-seed", "", "revealed server seed")
	f.StringVar(&req.ClientSeed, "client-seed", "", "client seed")
	f.Uint64Var(&req.NonceStart, "from", 1, "first nonce (inclusive)")
	f.Uint64Var(&req.NonceEnd, "to", 1000, "last nonce (inclusive)")
	f.StringVar(&rows, "rows", "", "board rows, 8-16 (default from config)")
	f.StringVar(&risk, "risk", string(plinko.DefaultRisk), "risk level: low, normal, high")
	f.StringVar(&op, "op", string(scan.OpGreaterEqual), "target comparison: eq, gt, ge, lt, le, between, outside")
	f.Float64Var(&req.TargetVal, "target", 0, "target multiplier")
	f.Float64Var(&req.TargetVal2, "target2", 0, "upper bound for between and outside")
	f.Float64Var(&req.Tolerance, "tolerance", scan.DefaultTolerance, "float tolerance for eq")
	f.IntVar(&req.Limit, "limit", 100, fmt.Sprintf("maximum hits to report (0 means %d)", scan.MaxHits))
	f.DurationVar(&req.Timeout, "timeout", 0, "stop after this long (0 for no limit)")
	f.IntVar(&workers, "workers", 0, "worker goroutines (0 for GOMAXPROCS)")
	_ = cmd.MarkFlagRequired("server-seed")
	_ = cmd.MarkFlagRequired("client-seed")
	return cmd
}
