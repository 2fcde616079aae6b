package blockgraph

import (
	"math"

	set "gopkg.in/fatih/set.v0"

	"github.com/threadchain/blockgraph/common"
)

// recomputeCliques rebuilds max_cliques from gi_head by maximal-clique
// enumeration on the compatibility relation, which is the complement
// of gi_head over the active non-final node set.
// Bron-Kerbosch with pivoting (Tomita's choice rule: pivot maximises
// |P ∩ N(pivot)|) is used over gopkg.in/fatih/set.v0 adjacency sets.
func (g *BlockGraph) recomputeCliques() {
	metricCliqueRecompute.Inc(1)

	all := set.New()
	for id := range g.giHead {
		all.Add(id)
	}

	if all.Size() == 0 {
		g.maxCliques = []set.Interface{set.New()}
		return
	}

	comp := make(map[common.BlockID]set.Interface, all.Size())
	for _, iv := range all.List() {
		id := iv.(common.BlockID)
		comp[id] = compatibilityNeighbors(id, all, g.giHead[id])
	}

	var out []set.Interface
	bronKerbosch(set.New(), all, set.New(), comp, &out)

	if len(out) == 0 {
		out = []set.Interface{set.New()}
	}
	g.maxCliques = out
}

func compatibilityNeighbors(id common.BlockID, all set.Interface, incomp set.Interface) set.Interface {
	n := set.New()
	for _, iv := range all.List() {
		other := iv.(common.BlockID)
		if other == id {
			continue
		}
		if incomp != nil && incomp.Has(other) {
			continue
		}
		n.Add(other)
	}
	return n
}

// bronKerbosch enumerates maximal cliques of the graph given by the
// neighbor function n, appending each found clique (as R) to out.
func bronKerbosch(r, p, x set.Interface, n map[common.BlockID]set.Interface, out *[]set.Interface) {
	if p.Size() == 0 && x.Size() == 0 {
		*out = append(*out, r.Copy())
		return
	}

	pivot := choosePivot(p, x, n)
	candidates := set.Difference(p, n[pivot])

	for _, iv := range candidates.List() {
		v := iv.(common.BlockID)
		nv := n[v]

		rv := r.Copy()
		rv.Add(v)

		bronKerbosch(rv, intersect(p, nv), intersect(x, nv), n, out)

		p.Remove(v)
		x.Add(v)
	}
}

// choosePivot selects the vertex in P ∪ X maximising |P ∩ N(pivot)|.
func choosePivot(p, x set.Interface, n map[common.BlockID]set.Interface) common.BlockID {
	var best common.BlockID
	bestScore := -1
	consider := func(s set.Interface) {
		for _, iv := range s.List() {
			v := iv.(common.BlockID)
			score := intersect(p, n[v]).Size()
			if score > bestScore {
				bestScore = score
				best = v
			}
		}
	}
	consider(p)
	consider(x)
	return best
}

// intersect returns a new set holding the members of a that are also
// in b.
func intersect(a, b set.Interface) set.Interface {
	out := set.New()
	for _, iv := range a.List() {
		if b.Has(iv) {
			out.Add(iv)
		}
	}
	return out
}

// blockFitness is one block's contribution to clique weight. Fitness
// is 1 per block; endorsement weighting is not specified.
func blockFitness() uint64 { return 1 }

// cliqueFitness sums block fitness over a clique, failing on
// accumulator overflow.
func (g *BlockGraph) cliqueFitness(c set.Interface) (uint64, error) {
	var total uint64
	for range c.List() {
		f := blockFitness()
		if total > math.MaxUint64-f {
			return 0, &FitnessOverflowError{Msg: "clique fitness accumulation overflow"}
		}
		total += f
	}
	return total, nil
}

// cliqueIDSum is the tie-break key: ties favour the lexicographically
// smaller sum of member ids.
func cliqueIDSum(c set.Interface) []byte {
	sum := make([]byte, common.BlockIDLength)
	for _, iv := range c.List() {
		id := iv.(common.BlockID)
		carry := 0
		for i := common.BlockIDLength - 1; i >= 0; i-- {
			v := int(sum[i]) + int(id[i]) + carry
			sum[i] = byte(v & 0xff)
			carry = v >> 8
		}
	}
	return sum
}

func bytesLess(a, b []byte) bool {
	for i := range a {
		if a[i] != b[i] {
			return a[i] < b[i]
		}
	}
	return false
}

// selectBlockclique returns the index of the highest-fitness clique,
// breaking ties by the smallest id-sum.
func (g *BlockGraph) selectBlockclique() (int, error) {
	best := -1
	var bestFitness uint64
	var bestSum []byte
	for i, c := range g.maxCliques {
		f, err := g.cliqueFitness(c)
		if err != nil {
			return -1, err
		}
		sum := cliqueIDSum(c)
		if best == -1 || f > bestFitness || (f == bestFitness && bytesLess(sum, bestSum)) {
			best = i
			bestFitness = f
			bestSum = sum
		}
	}
	return best, nil
}
