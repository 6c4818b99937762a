// Package actfn holds the activation functions a neuron applies to its
// weighted input sum. Every function is monotone non-decreasing; the
// interpretation search relies on that when it bounds scores.
package actfn

import (
	"fmt"
	"math"
	"sort"
	"strings"
)

// Func is a stateless activation function with its derivative.
type Func struct {
	Name       string
	Apply      func(x float64) float64
	Derivative func(x float64) float64
}

var (
	Sigmoid = Func{
		Name:  "sigmoid",
		Apply: func(x float64) float64 { return 1 / (1 + math.Exp(-x)) },
		Derivative: func(x float64) float64 {
			s := 1 / (1 + math.Exp(-x))
			return s * (1 - s)
		},
	}

	Tanh = Func{
		Name:  "tanh",
		Apply: math.Tanh,
		Derivative: func(x float64) float64 {
			t := math.Tanh(x)
			return 1 - t*t
		},
	}

	// RectifiedTanh is zero for non-positive input and tanh above it.
	RectifiedTanh = Func{
		Name: "rectified_tanh",
		Apply: func(x float64) float64 {
			if x <= 0 {
				return 0
			}
			return math.Tanh(x)
		},
		Derivative: func(x float64) float64 {
			if x <= 0 {
				return 0
			}
			t := math.Tanh(x)
			return 1 - t*t
		},
	}

	ReLU = Func{
		Name:  "relu",
		Apply: func(x float64) float64 { return math.Max(0, x) },
		Derivative: func(x float64) float64 {
			if x <= 0 {
				return 0
			}
			return 1
		},
	}

	Identity = Func{
		Name:       "identity",
		Apply:      func(x float64) float64 { return x },
		Derivative: func(float64) float64 { return 1 },
	}
)

var registry = map[string]Func{
	Sigmoid.Name:       Sigmoid,
	Tanh.Name:          Tanh,
	RectifiedTanh.Name: RectifiedTanh,
	ReLU.Name:          ReLU,
	Identity.Name:      Identity,
}

// Default is used when a neuron does not name a function.
var Default = RectifiedTanh

// Lookup returns the function registered under name. The empty name
// resolves to Default.
func Lookup(name string) (Func, error) {
	if name == "" {
		return Default, nil
	}
	f, ok := registry[strings.ToLower(name)]
	if !ok {
		return Func{}, fmt.Errorf("unknown activation function %q (known: %s)", name, strings.Join(Names(), ", "))
	}
	return f, nil
}

// Names lists the registered function names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
