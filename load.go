package fluo

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Bindings resolves the action and synchronous guard names used by YAML declarations
type Bindings interface {
	Action(name string) (ActionFunc, bool)
	Guard(name string) (GuardFunc, bool)
}

// StaticBindings is a map-backed Bindings implementation
type StaticBindings struct {
	Actions map[string]ActionFunc
	Guards  map[string]GuardFunc
}

// Action implements Bindings
func (b StaticBindings) Action(name string) (ActionFunc, bool) {
	action, ok := b.Actions[name]
	return action, ok
}

// Guard implements Bindings
func (b StaticBindings) Guard(name string) (GuardFunc, bool) {
	guard, ok := b.Guards[name]
	return guard, ok
}

type yamlState struct {
	ID          string               `yaml:"id"`
	Type        string               `yaml:"type,omitempty"`
	Initial     string               `yaml:"initial,omitempty"`
	States      []yamlState          `yaml:"states,omitempty"`
	On          map[string]yaml.Node `yaml:"on,omitempty"`
	Entry       []string             `yaml:"entry,omitempty"`
	Exit        []string             `yaml:"exit,omitempty"`
	Meta        map[string]any       `yaml:"meta,omitempty"`
	Description string               `yaml:"description,omitempty"`
}

type yamlTransition struct {
	Target      string   `yaml:"target,omitempty"`
	Guard       string   `yaml:"guard,omitempty"`
	When        string   `yaml:"when,omitempty"`
	In          string   `yaml:"in,omitempty"`
	Actions     []string `yaml:"actions,omitempty"`
	Description string   `yaml:"description,omitempty"`
}

// LoadYAML parses a state declaration. A transition may be written as a
// target, a mapping, or a sequence of either. The guard key references an
// async guard by name, the when key a synchronous guard from b.
func LoadYAML(data []byte, b Bindings) (StateNode, error) {
	if b == nil {
		b = StaticBindings{}
	}

	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)

	var doc yamlState
	if err := decoder.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return StateNode{}, NewConfigurationError("yaml", "empty document")
		}
		return StateNode{}, NewConfigurationError("yaml", err.Error())
	}

	return doc.toNode(b)
}

// LoadYAMLFile reads and parses a declaration file
func LoadYAMLFile(path string, b Bindings) (StateNode, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return StateNode{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return LoadYAML(data, b)
}

func (s yamlState) toNode(b Bindings) (StateNode, error) {
	node := StateNode{
		ID:      s.ID,
		Initial: s.Initial,
		Meta:    s.Meta,
	}
	if s.Description != "" {
		if node.Meta == nil {
			node.Meta = make(map[string]any)
		}
		node.Meta["description"] = s.Description
	}

	stateType, err := parseStateType(s.Type)
	if err != nil {
		return StateNode{}, NewConfigurationError(s.ID, err.Error())
	}
	node.Type = stateType

	if node.Entry, err = resolveActions(s.ID, s.Entry, b); err != nil {
		return StateNode{}, err
	}
	if node.Exit, err = resolveActions(s.ID, s.Exit, b); err != nil {
		return StateNode{}, err
	}

	for _, child := range s.States {
		childNode, err := child.toNode(b)
		if err != nil {
			return StateNode{}, err
		}
		node.States = append(node.States, childNode)
	}

	if s.On != nil {
		node.On = make(TransitionTable, len(s.On))
		for event, value := range s.On {
			candidates, err := parseCandidates(s.ID, event, &value, b)
			if err != nil {
				return StateNode{}, err
			}
			node.On[event] = candidates
		}
	}

	return node, nil
}

func parseStateType(name string) (StateType, error) {
	switch strings.ToLower(name) {
	case "":
		return Inferred, nil
	case "atomic":
		return Atomic, nil
	case "compound":
		return Compound, nil
	case "parallel":
		return Parallel, nil
	case "final":
		return Final, nil
	default:
		return Inferred, fmt.Errorf("unknown state type '%s'", name)
	}
}

func parseCandidates(stateID, event string, value *yaml.Node, b Bindings) ([]TransitionDecl, error) {
	switch value.Kind {
	case yaml.SequenceNode:
		candidates := make([]TransitionDecl, 0, len(value.Content))
		for _, item := range value.Content {
			decl, err := parseTransition(stateID, event, item, b)
			if err != nil {
				return nil, err
			}
			candidates = append(candidates, decl)
		}
		return candidates, nil
	default:
		decl, err := parseTransition(stateID, event, value, b)
		if err != nil {
			return nil, err
		}
		return []TransitionDecl{decl}, nil
	}
}

func parseTransition(stateID, event string, value *yaml.Node, b Bindings) (TransitionDecl, error) {
	switch value.Kind {
	case yaml.ScalarNode:
		if value.Tag == "!!null" {
			return TransitionDecl{}, nil
		}
		return TransitionDecl{Target: value.Value}, nil
	case yaml.MappingNode:
		var raw yamlTransition
		if err := value.Decode(&raw); err != nil {
			return TransitionDecl{}, NewConfigurationError(stateID, fmt.Sprintf("event '%s': %v", event, err))
		}
		if err := checkTransitionKeys(value); err != nil {
			return TransitionDecl{}, NewConfigurationError(stateID, fmt.Sprintf("event '%s': %v", event, err))
		}

		decl := TransitionDecl{
			Target:      raw.Target,
			In:          raw.In,
			Description: raw.Description,
		}
		if raw.Guard != "" {
			decl.AsyncGuard = NamedGuard(raw.Guard)
		}
		if raw.When != "" {
			guard, ok := b.Guard(raw.When)
			if !ok {
				return TransitionDecl{}, NewConfigurationError(stateID, fmt.Sprintf("event '%s': unknown guard '%s'", event, raw.When))
			}
			decl.Guard = guard
		}
		actions, err := resolveActions(stateID, raw.Actions, b)
		if err != nil {
			return TransitionDecl{}, err
		}
		decl.Actions = actions
		return decl, nil
	default:
		return TransitionDecl{}, NewConfigurationError(stateID, fmt.Sprintf("event '%s': unsupported transition at line %d", event, value.Line))
	}
}

// checkTransitionKeys rejects mapping keys the loader does not understand
func checkTransitionKeys(value *yaml.Node) error {
	for i := 0; i+1 < len(value.Content); i += 2 {
		switch key := value.Content[i].Value; key {
		case "target", "guard", "when", "in", "actions", "description":
		default:
			return fmt.Errorf("unknown key '%s' at line %d", key, value.Content[i].Line)
		}
	}
	return nil
}

func resolveActions(stateID string, names []string, b Bindings) ([]ActionFunc, error) {
	if len(names) == 0 {
		return nil, nil
	}
	actions := make([]ActionFunc, 0, len(names))
	for _, name := range names {
		action, ok := b.Action(name)
		if !ok {
			return nil, NewConfigurationError(stateID, fmt.Sprintf("unknown action '%s'", name))
		}
		actions = append(actions, action)
	}
	return actions, nil
}

// MarshalYAML renders a declaration in the LoadYAML layout. Functions are
// written as their symbol names, so the output documents a compiled tree
// rather than reloading it.
func MarshalYAML(node StateNode) ([]byte, error) {
	doc, err := fromNode(node)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	encoder := yaml.NewEncoder(&buf)
	encoder.SetIndent(2)
	if err := encoder.Encode(doc); err != nil {
		return nil, err
	}
	if err := encoder.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func fromNode(node StateNode) (yamlState, error) {
	doc := yamlState{
		ID:      node.ID,
		Initial: node.Initial,
		Meta:    node.Meta,
		Entry:   funcNames(node.Entry),
		Exit:    funcNames(node.Exit),
	}
	if node.Type != Inferred {
		doc.Type = node.Type.String()
	}

	for _, child := range node.States {
		childDoc, err := fromNode(child)
		if err != nil {
			return yamlState{}, err
		}
		doc.States = append(doc.States, childDoc)
	}

	if len(node.On) > 0 {
		events := make([]string, 0, len(node.On))
		for event := range node.On {
			events = append(events, event)
		}
		sort.Strings(events)

		doc.On = make(map[string]yaml.Node, len(events))
		for _, event := range events {
			items := make([]yamlTransition, 0, len(node.On[event]))
			for _, decl := range node.On[event] {
				item := yamlTransition{
					Target:      decl.Target,
					In:          decl.In,
					Actions:     funcNames(decl.Actions),
					Description: decl.Description,
				}
				if decl.AsyncGuard != nil {
					item.Guard = decl.AsyncGuard.DisplayName()
				}
				if decl.Guard != nil {
					item.When = funcName(decl.Guard)
				}
				items = append(items, item)
			}

			var value yaml.Node
			if err := value.Encode(items); err != nil {
				return yamlState{}, err
			}
			doc.On[event] = value
		}
	}

	return doc, nil
}

func funcNames(actions []ActionFunc) []string {
	if len(actions) == 0 {
		return nil
	}
	names := make([]string, 0, len(actions))
	for _, action := range actions {
		names = append(names, funcName(action))
	}
	return names
}
