package main

import (
	"fmt"
	"os"
	"regexp"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"patternlattice/internal/engine"
	"patternlattice/internal/relation"
)

// Network is the YAML description of a model.
type Network struct {
	Inputs  []string     `yaml:"inputs"`
	Neurons []NeuronDef  `yaml:"neurons"`
	Links   []SynapseDef `yaml:"links"` // added after every neuron exists, e.g. recurrent inhibition
}

// NeuronDef describes one neuron.
type NeuronDef struct {
	Label      string        `yaml:"label"`
	Bias       float64       `yaml:"bias"`
	Activation string        `yaml:"activation"`
	Synapses   []SynapseDef  `yaml:"synapses"`
	Relations  []RelationDef `yaml:"relations"`
}

// SynapseDef describes one synapse. Output is only read for links.
type SynapseDef struct {
	Output    string  `yaml:"output,omitempty"`
	Input     string  `yaml:"input"`
	Weight    float64 `yaml:"weight"`
	Recurrent bool    `yaml:"recurrent,omitempty"`
	Identity  bool    `yaml:"identity,omitempty"`
	Mapping   string  `yaml:"mapping,omitempty"`
	RIDOffset *int    `yaml:"rid_offset,omitempty"`
}

// RelationDef constrains two synapses of a neuron by index. Rel names a
// range relation, "rid(N)", "common-ancestor", or several of them joined
// with "&".
type RelationDef struct {
	From int    `yaml:"from"`
	To   int    `yaml:"to"`
	Rel  string `yaml:"rel"`
}

var ridPattern = regexp.MustCompile(`^rid\((-?\d+)\)$`)

// loadNetwork reads a network file.
func loadNetwork(path string) (*Network, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read network: %w", err)
	}
	return parseNetwork(data)
}

func parseNetwork(data []byte) (*Network, error) {
	var n Network
	if err := yaml.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("failed to parse network: %w", err)
	}
	return &n, nil
}

// Build registers the network's neurons on m.
func (n *Network) Build(m *engine.Model) error {
	for _, in := range n.Inputs {
		if _, err := m.AddInputNeuron(in); err != nil {
			return err
		}
	}
	for _, def := range n.Neurons {
		spec := engine.NeuronSpec{Label: def.Label, Bias: def.Bias, ActFn: def.Activation}
		for _, sd := range def.Synapses {
			ss, err := sd.spec()
			if err != nil {
				return fmt.Errorf("neuron %s: %w", def.Label, err)
			}
			spec.Synapses = append(spec.Synapses, ss)
		}
		for _, rd := range def.Relations {
			rel, err := parseRelation(rd.Rel)
			if err != nil {
				return fmt.Errorf("neuron %s: %w", def.Label, err)
			}
			spec.Relations = append(spec.Relations, engine.SynapseRelation{From: rd.From, To: rd.To, Rel: rel})
		}
		if _, err := m.AddNeuron(spec); err != nil {
			return err
		}
	}
	for _, sd := range n.Links {
		ss, err := sd.spec()
		if err != nil {
			return fmt.Errorf("link %s -> %s: %w", sd.Input, sd.Output, err)
		}
		if _, err := m.AddSynapse(sd.Output, ss); err != nil {
			return err
		}
	}
	return nil
}

func (sd SynapseDef) spec() (engine.SynapseSpec, error) {
	mapping, err := relation.ParseMapping(sd.Mapping)
	if err != nil {
		return engine.SynapseSpec{}, err
	}
	return engine.SynapseSpec{
		Input:     sd.Input,
		Weight:    sd.Weight,
		Recurrent: sd.Recurrent,
		Identity:  sd.Identity,
		Mapping:   mapping,
		RIDOffset: sd.RIDOffset,
	}, nil
}

func parseRelation(s string) (relation.Relation, error) {
	var rs []relation.Relation
	for _, part := range strings.Split(s, "&") {
		part = strings.TrimSpace(part)
		switch {
		case strings.EqualFold(part, "common-ancestor"):
			rs = append(rs, relation.CommonAncestor{})
		case ridPattern.MatchString(part):
			off, err := strconv.Atoi(ridPattern.FindStringSubmatch(part)[1])
			if err != nil {
				return nil, err
			}
			rs = append(rs, relation.RIDOffset{Offset: off})
		default:
			r, err := relation.Named(part)
			if err != nil {
				return nil, err
			}
			rs = append(rs, r)
		}
	}
	return relation.All(rs...), nil
}
