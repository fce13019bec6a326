package binary

import (
	"github.com/pkg/errors"
	G "gorgonia.org/gorgonia"
	"gorgonia.org/tensor"
)

// Param is a named learnable node. Binary is set for parameters owned by a
// binarized Layer.
type Param struct {
	Name   string
	Node   *G.Node
	Binary bool
}

// Value returns the live tensor bound to the parameter. Writes to it are
// writes to the parameter.
func (p Param) Value() (*tensor.Dense, error) { return denseOf(p.Node) }

// Params is an ordered parameter registry.
type Params []Param

// Binary returns the parameters marked binary, in order.
func (ps Params) Binary() Params {
	var retVal Params
	for _, p := range ps {
		if p.Binary {
			retVal = append(retVal, p)
		}
	}
	return retVal
}

// Matrices returns the rank 2 parameters, in order.
func (ps Params) Matrices() Params {
	var retVal Params
	for _, p := range ps {
		if p.Node.Shape().Dims() == 2 {
			retVal = append(retVal, p)
		}
	}
	return retVal
}

// Lookup finds a parameter by name.
func (ps Params) Lookup(name string) (Param, error) {
	for _, p := range ps {
		if p.Name == name {
			return p, nil
		}
	}
	return Param{}, errors.Errorf("unknown parameter %q", name)
}

// Names lists the parameter names in order.
func (ps Params) Names() []string {
	retVal := make([]string, len(ps))
	for i, p := range ps {
		retVal[i] = p.Name
	}
	return retVal
}

// Nodes lists the parameter nodes in order.
func (ps Params) Nodes() G.Nodes {
	retVal := make(G.Nodes, len(ps))
	for i, p := range ps {
		retVal[i] = p.Node
	}
	return retVal
}

// Size is the total number of elements across all parameters.
func (ps Params) Size() int {
	var retVal int
	for _, p := range ps {
		retVal += p.Node.Shape().TotalSize()
	}
	return retVal
}
