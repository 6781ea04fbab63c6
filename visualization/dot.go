package visualization

import (
	"bytes"
	"fmt"
	"os"
	"os/exec"
	"sort"
	"strings"

	fluo "github.com/anggasct/fluo-asyncguards"
	"github.com/anggasct/fluo-asyncguards/asyncguard"
)

// DOTGenerator generates Graphviz DOT format representations of state machines
type DOTGenerator struct {
	root    fluo.StateNode
	options DOTOptions
}

// DOTOptions configures the DOT generation
type DOTOptions struct {
	ShowGuardConditions bool
	ShowActions         bool
	// ShowInternalTransitions draws targetless transitions as self loops
	ShowInternalTransitions bool
	RankDirection           string // "TB", "LR", "BT", "RL"
	NodeShape               string
	TransitionStyle         string
	CompositeStateColor     string
	ParallelStateColor      string
	AsyncStepColor          string
}

// DefaultDOTOptions returns sensible default options for DOT generation
func DefaultDOTOptions() DOTOptions {
	return DOTOptions{
		ShowGuardConditions:     true,
		ShowActions:             true,
		ShowInternalTransitions: true,
		RankDirection:           "TB",
		NodeShape:               "box",
		TransitionStyle:         "solid",
		CompositeStateColor:     "lightcyan",
		ParallelStateColor:      "lavender",
		AsyncStepColor:          "lightyellow",
	}
}

// NewDOTGenerator creates a new DOT generator for the given machine definition
func NewDOTGenerator(definition fluo.MachineDefinition, options ...DOTOptions) *DOTGenerator {
	return NewDOTGeneratorFromNode(definition.Declaration(), options...)
}

// NewDOTGeneratorFromNode renders a declaration that has not been built yet
func NewDOTGeneratorFromNode(root fluo.StateNode, options ...DOTOptions) *DOTGenerator {
	opts := DefaultDOTOptions()
	if len(options) > 0 {
		opts = options[0]
	}

	return &DOTGenerator{
		root:    root,
		options: opts,
	}
}

// Generate creates a DOT representation of the state machine
func (g *DOTGenerator) Generate() (string, error) {
	if g.root.ID == "" {
		return "", fmt.Errorf("failed to generate states: %w", fluo.NewConfigurationError("StateNode", "state ID is mandatory"))
	}

	var dot strings.Builder

	dot.WriteString("digraph StateMachine {\n")
	dot.WriteString(fmt.Sprintf("  rankdir=%s;\n", g.options.RankDirection))
	dot.WriteString("  compound=true;\n")
	dot.WriteString(fmt.Sprintf("  node [shape=%s];\n", g.options.NodeShape))
	dot.WriteString("  edge [fontsize=10];\n\n")

	dot.WriteString("  // States\n")
	g.generateState(&dot, g.root, true, "  ")

	dot.WriteString("\n  // Transitions\n")
	g.root.Walk(func(node fluo.StateNode) bool {
		g.generateTransitions(&dot, node)
		return true
	})

	dot.WriteString("}\n")

	return dot.String(), nil
}

// generateState writes a node for a leaf or a cluster for a compound state
func (g *DOTGenerator) generateState(dot *strings.Builder, node fluo.StateNode, isInitial bool, indent string) {
	kind := node.Kind()
	if kind == fluo.Compound || kind == fluo.Parallel {
		color := g.options.CompositeStateColor
		label := node.ID
		if kind == fluo.Parallel {
			color = g.options.ParallelStateColor
			label += "\\n(parallel)"
		}

		dot.WriteString(fmt.Sprintf("%ssubgraph %s {\n", indent, quote("cluster_"+node.ID)))
		dot.WriteString(fmt.Sprintf("%s  label=%s;\n", indent, quote(label)))
		dot.WriteString(fmt.Sprintf("%s  style=\"rounded,filled\";\n", indent))
		dot.WriteString(fmt.Sprintf("%s  fillcolor=%s;\n", indent, color))
		dot.WriteString(fmt.Sprintf("%s  %s [shape=point width=0.1];\n", indent, quote(node.ID)))

		initial := node.Initial
		if initial == "" && len(node.States) > 0 {
			initial = node.States[0].ID
		}
		for _, child := range node.States {
			g.generateState(dot, child, kind == fluo.Compound && child.ID == initial, indent+"  ")
		}
		dot.WriteString(indent + "}\n")
		return
	}

	shape := g.options.NodeShape
	fillColor := "lightblue"
	label := node.ID

	if guard, ok := node.Meta[asyncguard.MetaGuard].(string); ok {
		fillColor = g.options.AsyncStepColor
		label += fmt.Sprintf("\\nawait %s", guard)
	}
	if isInitial {
		fillColor = "lightgreen"
		label += "\\n(initial)"
	}
	if kind == fluo.Final {
		shape = "doublecircle"
		fillColor = "lightcoral"
	}

	dot.WriteString(fmt.Sprintf("%s%s [shape=%s style=\"filled\" fillcolor=%s label=%s];\n",
		indent, quote(node.ID), shape, fillColor, quote(label)))
}

// generateTransitions writes the edges declared on one state in event order
func (g *DOTGenerator) generateTransitions(dot *strings.Builder, node fluo.StateNode) {
	events := make([]string, 0, len(node.On))
	for event := range node.On {
		events = append(events, event)
	}
	sort.Strings(events)

	for _, event := range events {
		for _, decl := range node.On[event] {
			target := decl.Target
			style := g.options.TransitionStyle
			if target == "" {
				if !g.options.ShowInternalTransitions {
					continue
				}
				target = node.ID
				style = "dashed"
			}

			dot.WriteString(fmt.Sprintf("  %s -> %s [label=%s style=%s];\n",
				quote(node.ID), quote(target), quote(g.edgeLabel(event, decl)), style))
		}
	}
}

// edgeLabel renders event [conditions] / actions
func (g *DOTGenerator) edgeLabel(event string, decl fluo.TransitionDecl) string {
	label := event

	if g.options.ShowGuardConditions {
		var conditions []string
		if decl.AsyncGuard != nil {
			conditions = append(conditions, "await "+decl.AsyncGuard.DisplayName())
		}
		if decl.Guard != nil {
			conditions = append(conditions, "guarded")
		}
		if decl.In != "" {
			conditions = append(conditions, "in "+decl.In)
		}
		if len(conditions) > 0 {
			label += " [" + strings.Join(conditions, ", ") + "]"
		}
	}

	if g.options.ShowActions && len(decl.Actions) > 0 {
		label += fmt.Sprintf(" / %d action(s)", len(decl.Actions))
	}

	return label
}

func quote(s string) string {
	return "\"" + strings.ReplaceAll(s, "\"", "\\\"") + "\""
}

// GenerateToFile writes the DOT representation to a file
func (g *DOTGenerator) GenerateToFile(filename string) error {
	content, err := g.Generate()
	if err != nil {
		return err
	}

	return os.WriteFile(filename, []byte(content), 0644)
}

// SVGGenerator generates SVG representations by calling Graphviz
type SVGGenerator struct {
	dotGenerator *DOTGenerator
}

// NewSVGGenerator creates a new SVG generator
func NewSVGGenerator(definition fluo.MachineDefinition, options ...DOTOptions) *SVGGenerator {
	return &SVGGenerator{
		dotGenerator: NewDOTGenerator(definition, options...),
	}
}

// Generate creates an SVG representation of the state machine
func (g *SVGGenerator) Generate() (string, error) {
	dotContent, err := g.dotGenerator.Generate()
	if err != nil {
		return "", err
	}

	cmd := exec.Command("dot", "-Tsvg")
	cmd.Stdin = strings.NewReader(dotContent)

	var out bytes.Buffer
	cmd.Stdout = &out

	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("failed to execute dot command: %w (make sure Graphviz is installed)", err)
	}

	return out.String(), nil
}

// GenerateSVG creates an SVG representation of the state machine
func (g *DOTGenerator) GenerateSVG() (string, error) {
	svgGen := &SVGGenerator{dotGenerator: g}
	return svgGen.Generate()
}
