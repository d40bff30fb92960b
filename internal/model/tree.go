package model

import (
	"math"
	"sort"
)

const maxBins = 64

// binner quantises each feature into at most maxBins ordered bins. Bin b of
// feature f holds values v with uppers[f][b-1] < v <= uppers[f][b]; the
// last upper bound is +Inf.
type binner struct {
	uppers [][]float64
}

func newBinner(rows [][]float64, d int) *binner {
	b := &binner{uppers: make([][]float64, d)}
	col := make([]float64, len(rows))
	for f := 0; f < d; f++ {
		for i, row := range rows {
			col[i] = row[f]
		}
		b.uppers[f] = binUppers(col)
	}
	return b
}

func binUppers(col []float64) []float64 {
	sorted := append([]float64(nil), col...)
	sort.Float64s(sorted)
	distinct := sorted[:0:0]
	for i, v := range sorted {
		if i == 0 || v != sorted[i-1] {
			distinct = append(distinct, v)
		}
	}
	var uppers []float64
	if len(distinct) <= maxBins {
		uppers = append(uppers, distinct[:len(distinct)-1]...)
	} else {
		for i := 1; i < maxBins; i++ {
			v := distinct[i*len(distinct)/maxBins]
			if len(uppers) == 0 || v > uppers[len(uppers)-1] {
				uppers = append(uppers, v)
			}
		}
	}
	return append(uppers, math.Inf(1))
}

// codes returns per-feature bin indices, column-major.
func (b *binner) codes(rows [][]float64) [][]uint8 {
	out := make([][]uint8, len(b.uppers))
	for f, uppers := range b.uppers {
		c := make([]uint8, len(rows))
		for i, row := range rows {
			c[i] = uint8(sort.SearchFloat64s(uppers, row[f]))
		}
		out[f] = c
	}
	return out
}

// Node is one tree node. Leaves have Feature == -1.
type Node struct {
	Feature   int     `json:"feature"`
	Threshold float64 `json:"threshold,omitempty"`
	Left      int     `json:"left,omitempty"`
	Right     int     `json:"right,omitempty"`
	Value     float64 `json:"value,omitempty"`
}

// Tree is a regression tree stored as a flat node list rooted at 0.
type Tree struct {
	Nodes []Node `json:"nodes"`
}

func (t *Tree) predict(row []float64) float64 {
	i := 0
	for {
		n := t.Nodes[i]
		if n.Feature < 0 {
			return n.Value
		}
		if row[n.Feature] <= n.Threshold {
			i = n.Left
		} else {
			i = n.Right
		}
	}
}

// treeGrower fits one second-order tree to gradients and hessians.
type treeGrower struct {
	bins       *binner
	codes      [][]uint8
	grad, hess []float64
	maxDepth   int
	minLeaf    int
	lambda     float64
	tree       *Tree
}

func (g *treeGrower) grow(samples []int) *Tree {
	g.tree = &Tree{}
	g.split(samples, 0)
	return g.tree
}

func (g *treeGrower) leafValue(G, H float64) float64 {
	return -G / (H + g.lambda)
}

// split appends the node for samples and returns its index.
func (g *treeGrower) split(samples []int, depth int) int {
	var G, H float64
	for _, i := range samples {
		G += g.grad[i]
		H += g.hess[i]
	}
	idx := len(g.tree.Nodes)
	g.tree.Nodes = append(g.tree.Nodes, Node{Feature: -1, Value: g.leafValue(G, H)})
	if depth >= g.maxDepth || len(samples) < 2*g.minLeaf {
		return idx
	}

	parent := G * G / (H + g.lambda)
	bestGain, bestFeature, bestBin := 1e-12, -1, 0
	var histG, histH [maxBins]float64
	var histN [maxBins]int
	for f, codes := range g.codes {
		nb := len(g.bins.uppers[f])
		if nb < 2 {
			continue
		}
		for b := 0; b < nb; b++ {
			histG[b], histH[b], histN[b] = 0, 0, 0
		}
		for _, i := range samples {
			c := codes[i]
			histG[c] += g.grad[i]
			histH[c] += g.hess[i]
			histN[c]++
		}
		var gl, hl float64
		var nl int
		for b := 0; b < nb-1; b++ {
			gl += histG[b]
			hl += histH[b]
			nl += histN[b]
			nr := len(samples) - nl
			if nl < g.minLeaf {
				continue
			}
			if nr < g.minLeaf {
				break
			}
			gr, hr := G-gl, H-hl
			gain := gl*gl/(hl+g.lambda) + gr*gr/(hr+g.lambda) - parent
			if gain > bestGain {
				bestGain, bestFeature, bestBin = gain, f, b
			}
		}
	}
	if bestFeature < 0 {
		return idx
	}

	var left, right []int
	codes := g.codes[bestFeature]
	for _, i := range samples {
		if int(codes[i]) <= bestBin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	l := g.split(left, depth+1)
	r := g.split(right, depth+1)
	g.tree.Nodes[idx] = Node{
		Feature:   bestFeature,
		Threshold: g.bins.uppers[bestFeature][bestBin],
		Left:      l,
		Right:     r,
	}
	return idx
}
