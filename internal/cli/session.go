package cli

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/MJE43/plinko-fair/internal/engine"
	"github.com/MJE43/plinko-fair/internal/store"
)

func (a *app) newSessionCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Create and inspect seed sessions",
	}
	cmd.AddCommand(a.newSessionNewCmd(), a.newSessionShowCmd(), a.newSessionListCmd())
	return cmd
}

func printCommitment(w io.Writer, c engine.Commitment) error {
	kv(w,
		"session", c.SessionID,
		"server seed hash", c.ServerSeedHash,
		"client seed", c.ClientSeed,
		"nonce", c.Nonce,
		"rotation", c.Rotation,
	)
	return nil
}

type sessionHistory struct {
	engine.Commitment
	Reveals []engine.RevealedSeed `json:"reveals"`
}

func (a *app) newSessionNewCmd() *cobra.Command {
	var clientSeed string
	cmd := &cobra.Command{
		Use:   "new",
		Short: "Commit a fresh server seed and start at nonce 0",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			e, st, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			c, err := e.StartSession(cmd.Context(), clientSeed)
			if err != nil {
				return err
			}
			return a.emit(cmd, c, func(w io.Writer) error { return printCommitment(w, c) })
		},
	}
	cmd.Flags().StringVar(&clientSeed, "client-seed", "", "client seed (random when empty)")
	return cmd
}

func (a *app) newSessionShowCmd() *cobra.Command {
	var reveals bool
	cmd := &cobra.Command{
		Use:   "show <session-id>",
		Short: "Show the published commitment of a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, st, err := a.openEngine(cmd.Context())
			if err != nil {
				return err
			}
			defer st.Close()

			c, err := e.Commitment(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			if !reveals {
				return a.emit(cmd, c, func(w io.Writer) error { return printCommitment(w, c) })
			}

			revealed, err := e.Reveals(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			v := sessionHistory{Commitment: c, Reveals: revealed}
			return a.emit(cmd, v, func(w io.Writer) error {
				printCommitment(w, c)
				if len(revealed) == 0 {
					_, err := fmt.Fprintln(w, "no seeds revealed yet")
					return err
				}
				fmt.Fprintln(w)
				tw := newTable(w)
				fmt.Fprintln(tw, "ROTATION\tFINAL NONCE\tCLIENT SEED\tSERVER SEED\tSERVER SEED HASH\tREVEALED")
				for _, r := range revealed {
					fmt.Fprintf(tw, "%d\t%d\t%s\t%s\t%s\t%s\n",
						r.Rotation, r.FinalNonce, r.ClientSeed, r.ServerSeed, r.ServerSeedHash, r.RevealedAt.Format("2006-01-02 15:04:05"))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&reveals, "reveals", false, "also list every server seed the session has revealed")
	return cmd
}

func (a *app) newSessionListCmd() *cobra.Command {
	var query store.SessionsQuery
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List sessions, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			st, err := store.Open(cmd.Context(), a.cfg.StoreOptions())
			if err != nil {
				return err
			}
			defer st.Close()

			list, err := st.ListSessions(cmd.Context(), query)
			if err != nil {
				return err
			}
			return a.emit(cmd, list, func(w io.Writer) error {
				tw := newTable(w)
				fmt.Fprintln(tw, "SESSION\tNONCE\tROTATION\tCLIENT SEED\tSERVER SEED HASH\tCREATED")
				for _, s := range list.Sessions {
					fmt.Fprintf(tw, "%s\t%d\t%d\t%s\t%s\t%s\n",
						s.ID, s.Nonce, s.Rotation, s.ClientSeed, s.ServerSeedHash, s.CreatedAt.Format("2006-01-02 15:04:05"))
				}
				tw.Flush()
				fmt.Fprintf(w, "page %d/%d, %d sessions\n", list.Page, list.TotalPages, list.TotalCount)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&query.Page, "page", 1, "page number")
	cmd.Flags().IntVar(&query.PerPage, "per-page", 50, "sessions per page")
	return cmd
}
