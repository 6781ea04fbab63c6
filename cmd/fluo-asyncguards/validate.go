package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/spf13/cobra"

	fluo "github.com/anggasct/fluo-asyncguards"
	"github.com/anggasct/fluo-asyncguards/asyncguard"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Check that the declaration compiles and builds",
	Long:  `Loads the declaration, compiles its async guards and builds a machine definition, reporting the guards and generated states.`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runValidate(cmd); err != nil {
			fmt.Printf("Validation failed: %v\n", err)
			os.Exit(1)
		}
		fmt.Fprintln(cmd.OutOrStdout(), "Statechart is valid")
	},
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command) error {
	path, _ := cmd.Flags().GetString("file")
	node, err := fluo.LoadYAMLFile(path, noopBindings{})
	if err != nil {
		return err
	}

	compiled, err := loadChart(cmd, nil)
	if err != nil {
		return err
	}

	definition, err := fluo.NewDefinition(compiled)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	for _, name := range asyncguard.GuardNames(node) {
		fmt.Fprintf(out, "async guard: %s\n", name)
	}

	var generated []string
	for id, state := range definition.GetStates() {
		if _, ok := node.Find(id); !ok && state.Parent() != nil {
			generated = append(generated, id)
		}
	}
	sort.Strings(generated)
	for _, id := range generated {
		fmt.Fprintf(out, "generated state: %s\n", id)
	}
	return nil
}
