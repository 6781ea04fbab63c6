package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	fluo "github.com/anggasct/fluo-asyncguards"
	"github.com/anggasct/fluo-asyncguards/visualization"
)

var compileCmd = &cobra.Command{
	Use:   "compile",
	Short: "Expand async guards and print the compiled statechart",
	Long: `Compiles every async guard in the declaration and writes the resulting tree
as YAML, a Graphviz DOT graph, or SVG (requires the dot binary).`,
	Run: func(cmd *cobra.Command, args []string) {
		if err := runCompile(cmd); err != nil {
			fmt.Printf("Compile failed: %v\n", err)
			os.Exit(1)
		}
	},
}

func init() {
	compileCmd.Flags().String("format", "yaml", "output format: yaml, dot or svg")
	compileCmd.Flags().StringP("output", "o", "", "write to a file instead of stdout")
	rootCmd.AddCommand(compileCmd)
}

func runCompile(cmd *cobra.Command) error {
	format, _ := cmd.Flags().GetString("format")
	output, _ := cmd.Flags().GetString("output")

	compiled, err := loadChart(cmd, nil)
	if err != nil {
		return err
	}

	content, err := render(compiled, format)
	if err != nil {
		return err
	}

	if output == "" {
		_, err = fmt.Fprint(cmd.OutOrStdout(), content)
		return err
	}
	return os.WriteFile(output, []byte(content), 0644)
}

func render(node fluo.StateNode, format string) (string, error) {
	switch format {
	case "yaml":
		data, err := fluo.MarshalYAML(node)
		return string(data), err
	case "dot":
		return visualization.NewDOTGeneratorFromNode(node).Generate()
	case "svg":
		return visualization.NewDOTGeneratorFromNode(node).GenerateSVG()
	default:
		return "", fmt.Errorf("unknown format %q", format)
	}
}
