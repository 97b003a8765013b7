package detector

import (
	"math"
	"math/rand"

	"github.com/promptsentinel/promptsentinel/internal/models"
)

// eulerMascheroni is used in the harmonic number approximation for the
// expected path length of an unsuccessful BST search.
const eulerMascheroni = 0.5772156649

// treeNode is a single node of an isolation tree. Exported fields with short
// JSON tags keep the serialized artifact compact; a forest over a few hundred
// embeddings produces thousands of nodes.
type treeNode struct {
	SplitFeature int       `json:"f,omitempty"`
	SplitValue   float64   `json:"v,omitempty"`
	Left         *treeNode `json:"l,omitempty"`
	Right        *treeNode `json:"r,omitempty"`
	Size         int       `json:"n"`
	Leaf         bool      `json:"leaf,omitempty"`
}

// forest is the ensemble of isolation trees plus the parameters needed to
// normalize path lengths at scoring time.
type forest struct {
	Trees      []*treeNode `json:"trees"`
	SampleSize int         `json:"sample_size"`
}

// buildForest fits an isolation forest. All randomness flows through rng so
// fitting is bit-reproducible for a fixed corpus, parameter set, and seed.
func buildForest(rng *rand.Rand, corpus []models.Embedding, numTrees, sampleSize int) *forest {
	if sampleSize > len(corpus) {
		sampleSize = len(corpus)
	}
	// Standard height limit: ceil(log2(sample size)). Deeper isolation adds
	// no discrimination for points that take this long to isolate.
	maxDepth := int(math.Ceil(math.Log2(math.Max(float64(sampleSize), 2))))

	f := &forest{
		Trees:      make([]*treeNode, 0, numTrees),
		SampleSize: sampleSize,
	}
	for i := 0; i < numTrees; i++ {
		sample := subsample(rng, corpus, sampleSize)
		f.Trees = append(f.Trees, buildTree(rng, sample, 0, maxDepth))
	}
	return f
}

// subsample draws sampleSize embeddings without replacement.
func subsample(rng *rand.Rand, corpus []models.Embedding, sampleSize int) []models.Embedding {
	shuffled := make([]models.Embedding, len(corpus))
	copy(shuffled, corpus)
	for i := len(shuffled) - 1; i > 0; i-- {
		j := rng.Intn(i + 1)
		shuffled[i], shuffled[j] = shuffled[j], shuffled[i]
	}
	return shuffled[:sampleSize]
}

// buildTree recursively partitions the sample on a random feature at a random
// split point between that feature's observed min and max.
func buildTree(rng *rand.Rand, data []models.Embedding, depth, maxDepth int) *treeNode {
	if len(data) <= 1 || depth >= maxDepth || allIdentical(data) {
		return &treeNode{Size: len(data), Leaf: true}
	}

	feature := rng.Intn(len(data[0]))
	minVal, maxVal := featureRange(data, feature)
	if maxVal-minVal < 1e-12 {
		// Degenerate feature; a random split cannot partition on it.
		return &treeNode{Size: len(data), Leaf: true}
	}
	splitValue := minVal + rng.Float64()*(maxVal-minVal)

	var left, right []models.Embedding
	for _, e := range data {
		if e[feature] < splitValue {
			left = append(left, e)
		} else {
			right = append(right, e)
		}
	}
	if len(left) == 0 || len(right) == 0 {
		return &treeNode{Size: len(data), Leaf: true}
	}

	return &treeNode{
		SplitFeature: feature,
		SplitValue:   splitValue,
		Left:         buildTree(rng, left, depth+1, maxDepth),
		Right:        buildTree(rng, right, depth+1, maxDepth),
		Size:         len(data),
	}
}

// score computes the anomaly score for one embedding. The raw ensemble
// statistic s = 2^(-E[h(x)]/c(ψ)) lies in (0,1] with higher meaning more
// anomalous; the returned score is 0.5 - s, so lower means more anomalous and
// typical inliers land slightly above zero.
func (f *forest) score(e models.Embedding) float64 {
	total := 0.0
	for _, tree := range f.Trees {
		total += pathLength(tree, e, 0)
	}
	avg := total / float64(len(f.Trees))
	s := math.Pow(2, -avg/averagePathLength(f.SampleSize))
	return 0.5 - s
}

// pathLength walks the tree to the leaf isolating e, crediting leaves holding
// multiple points with the expected remaining depth.
func pathLength(node *treeNode, e models.Embedding, depth int) float64 {
	if node.Leaf {
		return float64(depth) + averagePathLength(node.Size)
	}
	if e[node.SplitFeature] < node.SplitValue {
		return pathLength(node.Left, e, depth+1)
	}
	return pathLength(node.Right, e, depth+1)
}

// averagePathLength is c(n), the expected path length of an unsuccessful
// search in a BST of n nodes.
func averagePathLength(n int) float64 {
	switch {
	case n <= 1:
		return 0
	case n == 2:
		return 1
	}
	h := math.Log(float64(n-1)) + eulerMascheroni
	return 2*h - 2*float64(n-1)/float64(n)
}

func allIdentical(data []models.Embedding) bool {
	first := data[0]
	for _, e := range data[1:] {
		for j := range first {
			if math.Abs(e[j]-first[j]) > 1e-10 {
				return false
			}
		}
	}
	return true
}

func featureRange(data []models.Embedding, feature int) (float64, float64) {
	minVal, maxVal := data[0][feature], data[0][feature]
	for _, e := range data {
		if e[feature] < minVal {
			minVal = e[feature]
		}
		if e[feature] > maxVal {
			maxVal = e[feature]
		}
	}
	return minVal, maxVal
}
