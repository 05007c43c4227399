package cli

import (
	"errors"
	"fmt"
	"io"

	"github.com/shopspring/decimal"
	"github.com/spf13/cobra"

	"github.com/MJE43/plinko-fair/internal/fairness"
)

var errValidationFailed = errors.New("payout tables exceed the expected return ceiling")

func (a *app) newValidateCmd() *cobra.Command {
	var (
		ceiling    float64
		tablesPath string
	)
	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Check every payout table against the expected return ceiling",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !cmd.Flags().Changed("ceiling") {
				ceiling = a.cfg.Fairness.Ceiling
			}
			if ceiling <= 0 {
				return fmt.Errorf("--ceiling must be positive, got %v", ceiling)
			}
			table, err := a.tables(tablesPath)
			if err != nil {
				return err
			}

			report := fairness.ValidateAll(table, decimal.NewFromFloat(ceiling))
			for _, c := range report.Failures() {
				a.log.Warn("payout table failed validation",
					"rows", c.Rows, "risk", c.Risk, "expected_return", c.ExpectedReturn.StringFixed(6), "error", c.Error)
			}

			err = a.emit(cmd, report, func(w io.Writer) error {
				tw := newTable(w)
				fmt.Fprintln(tw, "RISK\tROWS\tEXPECTED RETURN\tRESULT")
				for _, c := range report.Checks {
					result := "ok"
					switch {
					case c.Err != nil:
						result = "error: " + c.Error
					case !c.Pass:
						result = "over ceiling"
					}
					fmt.Fprintf(tw, "%s\t%d\t%s%%\t%s\n", c.Risk, c.Rows, c.ExpectedReturn.StringFixed(6), result)
				}
				tw.Flush()
				if best, ok := report.Max(); ok {
					fmt.Fprintf(w, "highest: %s/%d at %s%% (ceiling %s%%)\n",
						best.Risk, best.Rows, best.ExpectedReturn.StringFixed(6), report.Ceiling.String())
				}
				return nil
			})
			if err != nil {
				return err
			}
			if !report.OK() {
				return fmt.Errorf("%w: %d of %d combinations", errValidationFailed, len(report.Failures()), len(report.Checks))
			}
			return nil
		},
	}
	cmd.Flags().Float64Var(&ceiling, "ceiling", fairness.DefaultCeiling.InexactFloat64(), "maximum expected return in percent")
	cmd.Flags().StringVar(&tablesPath, "tables", "", "payout table file (json or yaml) instead of the configured one")
	return cmd
}
