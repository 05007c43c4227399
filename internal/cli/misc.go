package cli

import (
	"fmt"
	"io"
	"runtime"

	"github.com/spf13/cobra"

	"github.com/MJE43/plinko-fair/internal/digest"
)

func (a *app) newHashCmd() *cobra.Command {
	var encoding string
	cmd := &cobra.Command{
		Use:   "hash <text>",
		Short: "Print the SHA-256 digest of text as the engine hashes it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			enc := a.enc
			if cmd.Flags().Changed("encoding") {
				var err error
				if enc, err = digest.ParseEncoding(encoding); err != nil {
					return err
				}
			}
			d, err := digest.SumText(args[0], enc)
			if err != nil {
				return err
			}
			v := struct {
				Encoding digest.Encoding `json:"encoding"`
				Digest   string          `json:"digest"`
			}{enc, d.Hex()}
			return a.emit(cmd, v, func(w io.Writer) error {
				_, err := fmt.Fprintln(w, v.Digest)
				return err
			})
		},
	}
	cmd.Flags().StringVar(&encoding, "encoding", "", "latin1 or utf8 (default from config)")
	return cmd
}

func (a *app) newVersionCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Print the build version",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			v := map[string]string{"version": Version, "go": runtime.Version()}
			return a.emit(cmd, v, func(w io.Writer) error {
				_, err := fmt.Fprintf(w, "plinkofair %s (%s)\n", Version, runtime.Version())
				return err
			})
		},
	}
}
