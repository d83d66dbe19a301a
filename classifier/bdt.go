package classifier

import (
	"math"
	"math/rand"
	"sort"

	"github.com/rotisserie/eris"
	"gonum.org/v1/gonum/stat"
)

// BDT is a gradient boosted decision tree classifier. Feature values are
// binned at quantile cuts before training, trees have a fixed maximal depth,
// and each tree is grown on a random subsample of the rows. Training is
// deterministic for a given RandomState.
//
// NaN values fall into a dedicated bin, so missing values can carry
// information of their own.
type BDT struct {
	NTrees      int     // number of boosting rounds
	Depth       int     // maximal depth of each tree
	Shrinkage   float64 // learning rate applied to every tree
	Subsample   float64 // fraction of rows used per tree, in (0, 1]
	NCutLevels  int     // 2^NCutLevels quantile bins per feature
	RandomState int64   // seed for row subsampling

	cuts  [][]float64
	f0    float64
	trees []*bdtNode
}

type bdtNode struct {
	feature int // -1 for a leaf
	bin     int // bin <= split goes left
	left    *bdtNode
	right   *bdtNode
	value   float64
}

type Option func(*BDT)

func WithNTrees(n int) Option           { return func(b *BDT) { b.NTrees = n } }
func WithDepth(d int) Option            { return func(b *BDT) { b.Depth = d } }
func WithShrinkage(s float64) Option    { return func(b *BDT) { b.Shrinkage = s } }
func WithSubsample(f float64) Option    { return func(b *BDT) { b.Subsample = f } }
func WithCutLevels(n int) Option        { return func(b *BDT) { b.NCutLevels = n } }
func WithRandomState(seed int64) Option { return func(b *BDT) { b.RandomState = seed } }

// NewBDT returns a classifier with FastBDT-like defaults.
func NewBDT(opts ...Option) *BDT {
	b := &BDT{
		NTrees:      100,
		Depth:       3,
		Shrinkage:   0.1,
		Subsample:   0.5,
		NCutLevels:  8,
		RandomState: 1,
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// NewBDTFactory returns a Factory building BDTs with the given options.
func NewBDTFactory(opts ...Option) Factory {
	return func() Classifier { return NewBDT(opts...) }
}

const (
	hessianFloor = 1e-6
	maxLeafValue = 10
)

// Fit trains the forest on X (n x p) with y true for signal.
func (b *BDT) Fit(X [][]float64, y []bool) error {
	p, err := validate(X, y)
	if err != nil {
		return err
	}
	if b.NTrees < 1 || b.Depth < 1 || b.Shrinkage <= 0 || b.Subsample <= 0 || b.Subsample > 1 || b.NCutLevels < 1 || b.NCutLevels > 15 {
		return eris.Errorf("bdt: invalid parameters (trees=%d depth=%d shrinkage=%g subsample=%g cut levels=%d)",
			b.NTrees, b.Depth, b.Shrinkage, b.Subsample, b.NCutLevels)
	}
	n := len(X)

	nbins := 1 << b.NCutLevels
	b.cuts = make([][]float64, p)
	binned := make([][]uint16, p)
	col := make([]float64, 0, n)
	for j := 0; j < p; j++ {
		col = col[:0]
		for i := range X {
			if !math.IsNaN(X[i][j]) {
				col = append(col, X[i][j])
			}
		}
		b.cuts[j] = quantileCuts(col, nbins)

		binned[j] = make([]uint16, n)
		for i := range X {
			binned[j][i] = uint16(binOf(b.cuts[j], X[i][j]))
		}
	}

	nsig := 0
	target := make([]float64, n)
	for i, l := range y {
		if l {
			target[i] = 1
			nsig++
		}
	}
	b.f0 = math.Log(float64(nsig) / float64(n-nsig))

	F := make([]float64, n)
	for i := range F {
		F[i] = b.f0
	}
	grad := make([]float64, n)
	hess := make([]float64, n)

	rnd := rand.New(rand.NewSource(b.RandomState))
	nSample := int(b.Subsample * float64(n))
	if nSample < 1 {
		nSample = 1
	}
	all := make([]int, n)
	for i := range all {
		all[i] = i
	}

	b.trees = make([]*bdtNode, 0, b.NTrees)
	for m := 0; m < b.NTrees; m++ {
		for i := range F {
			prob := sigmoid(F[i])
			grad[i] = target[i] - prob
			hess[i] = prob * (1 - prob)
		}

		idx := all
		if nSample < n {
			idx = rnd.Perm(n)[:nSample]
			sort.Ints(idx)
		}

		tree := b.grow(binned, grad, hess, idx, 0)
		b.trees = append(b.trees, tree)

		for i := range F {
			F[i] += b.Shrinkage * tree.eval(func(j int) int { return int(binned[j][i]) })
		}
	}
	return nil
}

// Predict returns the signal probability of each row.
func (b *BDT) Predict(X [][]float64) ([]float64, error) {
	if b.trees == nil {
		return nil, ErrNotFitted
	}
	out := make([]float64, len(X))
	for i, row := range X {
		if len(row) != len(b.cuts) {
			return nil, eris.Errorf("bdt: row %d has %d features, fitted with %d", i, len(row), len(b.cuts))
		}
		F := b.f0
		for _, tree := range b.trees {
			F += b.Shrinkage * tree.eval(func(j int) int { return binOf(b.cuts[j], row[j]) })
		}
		out[i] = sigmoid(F)
	}
	return out, nil
}

// grow builds a tree over the rows in idx, choosing at each node the cut
// with the largest second order gain.
func (b *BDT) grow(binned [][]uint16, grad, hess []float64, idx []int, depth int) *bdtNode {
	var G, H float64
	for _, i := range idx {
		G += grad[i]
		H += hess[i]
	}
	leaf := &bdtNode{feature: -1, value: leafValue(G, H)}
	if depth >= b.Depth || len(idx) < 2 {
		return leaf
	}

	parent := G * G / (H + hessianFloor)
	bestGain, bestFeature, bestBin := 0., -1, 0
	for j := range binned {
		nb := len(b.cuts[j]) + 2
		hg := make([]float64, nb)
		hh := make([]float64, nb)
		hc := make([]int, nb)
		for _, i := range idx {
			k := binned[j][i]
			hg[k] += grad[i]
			hh[k] += hess[i]
			hc[k]++
		}

		var gl, hl float64
		cl := 0
		for k := 0; k < nb-1; k++ {
			gl += hg[k]
			hl += hh[k]
			cl += hc[k]
			if cl == 0 || cl == len(idx) {
				continue
			}
			gr, hr := G-gl, H-hl
			gain := gl*gl/(hl+hessianFloor) + gr*gr/(hr+hessianFloor) - parent
			if gain > bestGain {
				bestGain, bestFeature, bestBin = gain, j, k
			}
		}
	}
	if bestFeature < 0 {
		return leaf
	}

	var left, right []int
	for _, i := range idx {
		if int(binned[bestFeature][i]) <= bestBin {
			left = append(left, i)
		} else {
			right = append(right, i)
		}
	}
	return &bdtNode{
		feature: bestFeature,
		bin:     bestBin,
		left:    b.grow(binned, grad, hess, left, depth+1),
		right:   b.grow(binned, grad, hess, right, depth+1),
	}
}

func (n *bdtNode) eval(bin func(feature int) int) float64 {
	for n.feature >= 0 {
		if bin(n.feature) <= n.bin {
			n = n.left
		} else {
			n = n.right
		}
	}
	return n.value
}

// quantileCuts returns the distinct empirical quantiles splitting values
// into at most nbins bins. values is sorted in place.
func quantileCuts(values []float64, nbins int) []float64 {
	if len(values) == 0 {
		return nil
	}
	sort.Float64s(values)

	var cuts []float64
	for q := 1; q < nbins; q++ {
		c := stat.Quantile(float64(q)/float64(nbins), stat.Empirical, values, nil)
		if c <= values[0] {
			continue
		}
		if len(cuts) == 0 || c > cuts[len(cuts)-1] {
			cuts = append(cuts, c)
		}
	}
	return cuts
}

// binOf maps x to 0 for NaN, else to 1 + the number of cuts <= x.
func binOf(cuts []float64, x float64) int {
	if math.IsNaN(x) {
		return 0
	}
	return 1 + sort.Search(len(cuts), func(k int) bool { return cuts[k] > x })
}

func leafValue(G, H float64) float64 {
	v := G / (H + hessianFloor)
	return math.Max(-maxLeafValue, math.Min(maxLeafValue, v))
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
