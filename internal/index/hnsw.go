package index

import (
	"github.com/coder/hnsw"
)

const (
	defaultM        = 16
	defaultEfSearch = 100
)

// graph wraps an HNSW graph using Euclidean distance. The library does not
// support true deletion, so removed ids are filtered out by the caller.
type graph struct {
	g *hnsw.Graph[int64]
}

func newGraph(m, efSearch int) *graph {
	if m <= 0 {
		m = defaultM
	}
	if efSearch <= 0 {
		efSearch = defaultEfSearch
	}
	g := hnsw.NewGraph[int64]()
	g.M = m
	g.Ml = 1.0 / float64(m)
	g.EfSearch = efSearch
	g.Distance = hnsw.EuclideanDistance
	return &graph{g: g}
}

func (h *graph) add(id int64, vec []float32) {
	h.g.Add(hnsw.MakeNode(id, vec))
}

func (h *graph) candidates(query []float32, k int) []int64 {
	if h.g.Len() == 0 {
		return nil
	}
	if k > h.g.Len() {
		k = h.g.Len()
	}
	nodes := h.g.Search(query, k)
	ids := make([]int64, len(nodes))
	for i, n := range nodes {
		ids[i] = n.Key
	}
	return ids
}

func (h *graph) size() int {
	return h.g.Len()
}
