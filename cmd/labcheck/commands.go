package main

import (
	"errors"
	"fmt"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"labcheck/app"
)

func newCheckCommand(opts *rootOptions) *cobra.Command {
	var values []string

	cmd := &cobra.Command{
		Use:   "check",
		Short: "Run the rule-based check on the given values",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			if err := applyValues(rt.state, values); err != nil {
				return err
			}
			result := rt.state.RuleCheck()

			out := cmd.OutOrStdout()
			if opts.output == "json" {
				return printJSON(out, result)
			}
			for _, f := range result.Findings {
				fmt.Fprintf(out, "- %s\n", f)
			}
			fmt.Fprintln(out, result.Message)
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&values, "value", nil, `lab value as "Name=value" (repeatable)`)
	return cmd
}

func newTrainCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "train",
		Short: "Train the demo model and save it to the local store",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			out := cmd.OutOrStdout()
			quiet := opts.output == "json"
			err = rt.state.TrainDemo(cmd.Context(), func(status string) {
				if !quiet {
					fmt.Fprintln(out, status)
				}
			})
			if err != nil {
				return err
			}
			if quiet {
				history, err := rt.state.TrainingHistory(cmd.Context(), 1)
				if err != nil {
					return err
				}
				if len(history) > 0 {
					return printJSON(out, history[0])
				}
			}
			return nil
		},
	}
}

func newPredictCommand(opts *rootOptions) *cobra.Command {
	var values []string

	cmd := &cobra.Command{
		Use:   "predict",
		Short: "Score the given values with the saved model",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			found, err := rt.state.Restore(cmd.Context())
			if err != nil {
				return err
			}
			if !found {
				return errors.New(app.StatusNoModel)
			}
			if err := applyValues(rt.state, values); err != nil {
				return err
			}
			p, err := rt.state.Predict(cmd.Context())
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.output == "json" {
				return printJSON(out, map[string]float64{"probability": p})
			}
			fmt.Fprintf(out, "ML Risk Score: %s%%\n", strconv.FormatFloat(p*100, 'f', 1, 64))
			return nil
		},
	}
	cmd.Flags().StringArrayVar(&values, "value", nil, `lab value as "Name=value" (repeatable)`)
	return cmd
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recorded training runs, newest first",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			rt, err := newRuntime(opts, false)
			if err != nil {
				return err
			}
			defer rt.Close()

			logs, err := rt.state.TrainingHistory(cmd.Context(), limit)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if opts.output == "json" {
				return printJSON(out, logs)
			}
			if len(logs) == 0 {
				fmt.Fprintln(out, "no training runs recorded")
				return nil
			}
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "TRAINED AT\tMODEL\tEPOCHS\tLOSS\tACCURACY\tPRECISION\tRECALL\tPOINTS")
			for _, l := range logs {
				fmt.Fprintf(tw, "%s\t%s\t%d\t%.4f\t%.3f\t%.3f\t%.3f\t%d\n",
					l.TrainedAt.Local().Format(time.RFC3339), l.ModelName, l.Epochs,
					l.Loss, l.Accuracy, l.Precision, l.Recall, l.DataPoints)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 10, "maximum number of runs to show (0 for all)")
	return cmd
}
