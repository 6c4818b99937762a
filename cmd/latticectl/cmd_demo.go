package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"patternlattice/internal/engine"
	"patternlattice/internal/position"
	"patternlattice/internal/search"
)

// mutexNetwork has three candidates sharing an inhibitor: each candidate
// excites the inhibitor, which suppresses every candidate it did not come
// from, so at most one survives.
const mutexNetwork = `
inputs: [inA, inB, inC]
neurons:
  - {label: A, bias: 3, synapses: [{input: inA, weight: 1, mapping: direct}]}
  - {label: B, bias: 5, synapses: [{input: inB, weight: 1, mapping: direct}]}
  - {label: C, bias: 2, synapses: [{input: inC, weight: 1, mapping: direct}]}
  - label: I
    bias: -0.5
    synapses:
      - {input: A, weight: 1, mapping: direct}
      - {input: B, weight: 1, mapping: direct}
      - {input: C, weight: 1, mapping: direct}
links:
  - {output: A, input: I, weight: -100, recurrent: true, mapping: direct}
  - {output: B, input: I, weight: -100, recurrent: true, mapping: direct}
  - {output: C, input: I, weight: -100, recurrent: true, mapping: direct}
`

var demoCmd = &cobra.Command{
	Use:   "demo",
	Short: "Resolve a three-way mutual exclusion in best and soft-max mode",
	Args:  cobra.NoArgs,
	RunE:  runDemo,
}

func runDemo(cmd *cobra.Command, args []string) error {
	ctx, cancel := commandContext()
	defer cancel()
	out := cmd.OutOrStdout()

	net, err := parseNetwork([]byte(mutexNetwork))
	if err != nil {
		return err
	}
	for _, m := range []search.Mode{search.ModeBest, search.ModeSoftMax} {
		cfg.Engine.Mode = m.String()
		s, err := openSession()
		if err != nil {
			return err
		}
		if err := net.Build(s.model); err != nil {
			s.Close()
			return err
		}
		d := s.model.NewDocument("mutex-" + m.String())
		for _, in := range net.Inputs {
			if _, err := d.AddInput(in, engine.Input{Range: position.NewRange(0, 1)}); err != nil {
				s.Close()
				return err
			}
		}
		res, err := d.Process(ctx)
		if err != nil {
			s.Close()
			return err
		}
		fmt.Fprintf(out, "%s mode: %s\n", m, res)
		for _, label := range []string{"A", "B", "C"} {
			for a := range s.model.Neuron(label).Activations(d, false) {
				fmt.Fprintf(out, "  %s value=%.4f p=%.4f final=%t\n", label, a.Value, a.Probability, a.Final)
			}
		}
		_ = d.Close()
		s.Close()
	}
	return nil
}
