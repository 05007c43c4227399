package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/MJE43/plinko-fair/internal/engine"
	"github.com/MJE43/plinko-fair/internal/payout"
	"github.com/MJE43/plinko-fair/internal/plinko"
)

// Round is one played or verified outcome with its payout.
type Round struct {
	engine.Outcome
	Risk       payout.Risk     `json:"risk"`
	Multiplier decimal.Decimal `json:"multiplier"`
}

func resolveRound(table *payout.Table, risk payout.Risk, out engine.Outcome) (Round, error) {
	res, err := plinko.Resolve(table, out.Rows, risk, out.Path)
	if err != nil {
		return Round{}, err
	}
	return Round{Outcome: out, Risk: res.Risk, Multiplier: res.Multiplier}, nil
}

func printRounds(w io.Writer, rounds []Round) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "NONCE\tSLOT\tMULTIPLIER\tPATH\tDIGEST")
	for _, r := range rounds {
		fmt.Fprintf(tw, "%d\t%d\t%sx\t%s\t%s\n", r.Nonce, r.SlotIndex, r.Multiplier.String(), r.Path, r.DigestHex)
	}
	return tw.Flush()
}

type roundPlayer interface {
	NextOutcome(ctx context.Context, sessionID string, rows int) (engine.Outcome, error)
}

// playRounds plays up to count rounds. On error it returns the rounds that
// completed before it, since their nonces are already spent.
func playRounds(ctx context.Context, p roundPlayer, table *payout.Table, sessionID string, rows int, risk payout.Risk, count int) ([]Round, error) {
	rounds := make([]Round, 0, count)
	for i := 0; i < count; i++ {
		out, err := p.NextOutcome(ctx, sessionID, rows)
		if err != nil {
			return rounds, err
		}
		round, err := resolveRound(table, risk, out)
		if err != nil {
			return rounds, err
		}
		rounds = append(rounds, round)
	}
	return rounds, nil
}

// finishPlay prints whatever was played, then reports playErr.
func (a *app) finishPlay(cmd *cobra.Command, rounds []Round, requested int, playErr error) error {
	if len(rounds) > 0 || playErr == nil {
		if err := a.emit(cmd, rounds, func(w io.Writer) error { return printRounds(w, rounds) }); err != nil {
			return err
		}
	}
	if playErr != nil {
		return fmt.Errorf("played %d of %d rounds: %w", len(rounds), requested, playErr)
	}
	return nil
}

func (a *app) newPlayCmd() *cobra.Command {
	var (
		rows  string
		risk  string
		count int
	)
	cmd := &cobra.Command{
		Use:   "play <session-id>",
		Short: "Play rounds, consuming one nonce each",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			rows, risk, err := a.board(cmd, rows, risk)
			if err != nil {
				return err
			}
			if count < 1 {
				return fmt.Errorf("--count must be at least 1, got %d", count)
			}
			table, err := a.tables("")
			if err != nil {
				return err
			}

			e, st, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			rounds, playErr := playRounds(cmd.Context(), e, table, args[0], rows, risk, count)
			if playErr != nil {
				a.log.Warn("play stopped early", "session_id", args[0], "played", len(rounds), "requested", count, "error", playErr)
			}
			return a.finishPlay(cmd, rounds, count, playErr)
		},
	}
	cmd.Flags().StringVar(&rows, "rows", "", "board rows, 8-16 (default from config)")
	cmd.Flags().StringVar(&risk, "risk", string(plinko.DefaultRisk), "risk level: low, normal, high")
	cmd.Flags().IntVar(&count, "count", 1, "number of rounds to play")
	return cmd
}

func (a *app) newRotateCmd() *cobra.Command {
	var clientSeed string
	cmd := &cobra.Command{
		Use:   "rotate <session-id>",
		Short: "Reveal the server seed and commit a new one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, st, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			reveal, err := e.Rotate(cmd.Context(), args[0], clientSeed)
			if err != nil {
				return err
			}
			return a.emit(cmd, reveal, func(w io.Writer) error {
				fmt.Fprintln(w, "revealed:")
				kv(w,
					"server seed", reveal.ServerSeed,
					"server seed hash", reveal.ServerSeedHash,
					"client seed", reveal.ClientSeed,
					"final nonce", reveal.FinalNonce,
				)
				fmt.Fprintln(w, "next:")
				return printCommitment(w, reveal.Next)
			})
		},
	}
	cmd.Flags().StringVar(&clientSeed, "client-seed", "", "new client seed (keeps the current one when empty)")
	return cmd
}
