package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ieee0824/otcalign/graph"
	"github.com/ieee0824/otcalign/vocab"
)

func newGraphCommand(ctx *commandContext) *cobra.Command {
	var tokensPath string
	var expand bool

	cmd := &cobra.Command{
		Use:   "graph PIECE...",
		Short: "Print the alignment graph compiled for a reference",
		Long: "Compile sentencepiece pieces into the error-tolerant alignment graph and print its arcs.\n" +
			"With --ctc the graph is expanded with the CTC topology the decoder searches.",
		Args: cobra.ArbitraryArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.ensureConfig()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("tokens") {
				cfg.Paths.Tokens = tokensPath
			}
			if strings.TrimSpace(cfg.Paths.Tokens) == "" {
				return errors.New("no tokens file: pass --tokens or set paths.tokens")
			}

			v, err := vocab.LoadFile(cfg.Paths.Tokens, cfg.OTC.Token)
			if err != nil {
				return err
			}
			c, err := graph.NewCompiler(v, graphOptions(cfg))
			if err != nil {
				return err
			}
			words, err := v.Words(args)
			if err != nil {
				return err
			}

			var g *graph.Fsa
			if expand {
				g, err = c.CompileDecoding(words)
			} else {
				g, err = c.Compile(words)
			}
			if err != nil {
				return err
			}

			rows := make([][]string, 0, g.NumArcs())
			for _, a := range g.Arcs() {
				label, _ := v.Token(int(a.Label))
				rows = append(rows, []string{
					strconv.Itoa(int(a.Src)),
					strconv.Itoa(int(a.Dst)),
					label,
					a.Kind.String(),
					strconv.FormatFloat(a.Weight, 'g', -1, 64),
				})
			}
			out := cmd.OutOrStdout()
			writeTable(out, []string{"SRC", "DST", "LABEL", "KIND", "WEIGHT"}, rows,
				[]columnAlignment{alignRight, alignRight, alignLeft, alignLeft, alignRight})
			fmt.Fprintf(out, "states: %d  arcs: %d  final: %v\n", g.NumStates(), g.NumArcs(), g.FinalStates())
			return nil
		},
	}

	cmd.Flags().StringVar(&tokensPath, "tokens", "", "tokens.txt (overrides paths.tokens)")
	cmd.Flags().BoolVar(&expand, "ctc", false, "Expand with the CTC topology")
	return cmd
}
