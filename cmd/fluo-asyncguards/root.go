package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	fluo "github.com/anggasct/fluo-asyncguards"
	"github.com/anggasct/fluo-asyncguards/asyncguard"
)

var rootCmd = &cobra.Command{
	Use:   "fluo-asyncguards",
	Short: "Compile statecharts that use async guards",
	Long: `fluo-asyncguards loads a YAML state declaration, expands every async guard
into its cascade of substates, and renders, validates or simulates the result.`,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringP("file", "f", "machine.yaml", "YAML state declaration")
	rootCmd.PersistentFlags().Bool("leading", true, "check 'in' conditions before starting a guard")
	rootCmd.PersistentFlags().Bool("trailing", false, "check 'in' conditions again when a guard resolves")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "log compiler and runtime activity")
}

// newLogger returns a development logger when verbose output is requested
func newLogger(cmd *cobra.Command) *zap.Logger {
	verbose, _ := cmd.Flags().GetBool("verbose")
	if !verbose {
		return zap.NewNop()
	}
	logger, err := zap.NewDevelopment()
	if err != nil {
		return zap.NewNop()
	}
	return logger
}

// loadChart reads the declaration and compiles its async guards. Guards
// missing from registry are stubbed so the structure can still be built.
func loadChart(cmd *cobra.Command, registry asyncguard.Registry, extra ...asyncguard.Option) (fluo.StateNode, error) {
	path, _ := cmd.Flags().GetString("file")
	leading, _ := cmd.Flags().GetBool("leading")
	trailing, _ := cmd.Flags().GetBool("trailing")

	node, err := fluo.LoadYAMLFile(path, noopBindings{})
	if err != nil {
		return fluo.StateNode{}, err
	}

	guards := asyncguard.Registry{}
	for _, name := range asyncguard.GuardNames(node) {
		guards[name] = stubGuard(false)
	}
	for name, fn := range registry {
		guards[name] = fn
	}

	opts := append([]asyncguard.Option{
		asyncguard.WithAmbientGuardEvaluation(leading, trailing),
		asyncguard.WithGuards(guards),
		asyncguard.WithLogger(newLogger(cmd)),
	}, extra...)

	return asyncguard.Apply(node, opts...)
}
