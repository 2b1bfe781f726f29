package gnn

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/abmarghoub/EduPathInsight/ml/features"
)

// Node kinds, one-hot encoded in front of the node features.
const (
	nodeStudent = iota
	nodeModule
	nodePresence
	nodeActivity
	nodeKinds
)

// InputDim is the width of a node feature row.
var InputDim = nodeKinds + features.Count

// Graph is a small undirected graph with one feature row per node.
type Graph struct {
	X     *mat.Dense // nodes x InputDim
	Edges [][2]int
}

// NumNodes returns the number of nodes.
func (g Graph) NumNodes() int {
	r, _ := g.X.Dims()
	return r
}

// BuildStudentGraph lays out a student-module graph:
// the student and module nodes are linked to each other and to a presence
// summary node and an activity summary node, each carrying its own slice of v.
func BuildStudentGraph(v features.Vector) Graph {
	x := mat.NewDense(nodeKinds, InputDim, nil)
	for kind := 0; kind < nodeKinds; kind++ {
		x.Set(kind, kind, 1)
	}

	set := func(node int, idx ...int) {
		for _, i := range idx {
			if i < len(v) {
				x.Set(node, nodeKinds+i, v[i])
			}
		}
	}
	all := make([]int, features.Count)
	for i := range all {
		all[i] = i
	}
	set(nodeStudent, all...)
	set(nodeModule, 6, 7)
	set(nodePresence, 0, 1, 2, 3, 6)
	set(nodeActivity, 4, 5, 7)

	return Graph{
		X: x,
		Edges: [][2]int{
			{nodeStudent, nodeModule},
			{nodeStudent, nodePresence},
			{nodeStudent, nodeActivity},
			{nodePresence, nodeModule},
			{nodeActivity, nodeModule},
		},
	}
}

// normalizedAdjacency returns D^-1/2 (A + I) D^-1/2.
func (g Graph) normalizedAdjacency() *mat.Dense {
	n := g.NumNodes()
	a := mat.NewDense(n, n, nil)
	for i := 0; i < n; i++ {
		a.Set(i, i, 1)
	}
	for _, e := range g.Edges {
		if e[0] == e[1] || e[0] >= n || e[1] >= n {
			continue
		}
		a.Set(e[0], e[1], 1)
		a.Set(e[1], e[0], 1)
	}

	deg := make([]float64, n)
	for i := 0; i < n; i++ {
		deg[i] = mat.Sum(a.RowView(i))
	}
	a.Apply(func(i, j int, val float64) float64 {
		if val == 0 {
			return 0
		}
		return val / math.Sqrt(deg[i]*deg[j])
	}, a)
	return a
}
