package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/davehusk/millennium-qecc/internal/stabilizer"
)

var (
	stabilizeProblem string
	stabilizeDivisor float64
	stabilizeSteps   int
	stabilizeTrace   bool
)

var stabilizeCmd = &cobra.Command{
	Use:   "stabilize [values...]",
	Short: "Run the syndrome decay demo",
	Long: `Repeatedly divides a syndrome vector by --divisor and prints its
magnitude. With no values the syndrome is [1].`,
	RunE: runStabilize,
}

func init() {
	stabilizeCmd.Flags().StringVar(&stabilizeProblem, "problem", "RH", "Problem label")
	stabilizeCmd.Flags().Float64Var(&stabilizeDivisor, "divisor", 2, "Operator index applied each step")
	stabilizeCmd.Flags().IntVar(&stabilizeSteps, "steps", 10, "Number of steps")
	stabilizeCmd.Flags().BoolVar(&stabilizeTrace, "trace", false, "Print the magnitude after every step")
}

func runStabilize(cmd *cobra.Command, args []string) error {
	values, err := parseValues(args)
	if err != nil {
		return err
	}
	if stabilizeSteps < 0 {
		return fmt.Errorf("steps must be non-negative, got %d", stabilizeSteps)
	}

	q := stabilizer.NewQubit(stabilizeProblem, values)
	start := q.Norm()
	trace, err := q.Run(stabilizeSteps, stabilizeDivisor)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "%s: |s| = %g\n", q.Problem, start)
	if stabilizeTrace {
		for i, n := range trace {
			fmt.Fprintf(out, "  step %d: %g\n", i+1, n)
		}
	}
	fmt.Fprintf(out, "%s: syndrome %v after %d steps (|s| = %g)\n", q.Problem, q.Syndrome, len(trace), q.Norm())
	return nil
}

func parseValues(args []string) ([]float64, error) {
	if len(args) == 0 {
		return []float64{1}, nil
	}
	values := make([]float64, 0, len(args))
	for _, a := range args {
		v, err := strconv.ParseFloat(a, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid value %q: %w", a, err)
		}
		values = append(values, v)
	}
	return values, nil
}
