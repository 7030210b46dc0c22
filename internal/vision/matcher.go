package vision

import (
	"math"

	"github.com/sovren-software/visage/internal/types"
)

// SimilarityThresholdDefault is the default minimum cosine similarity
// for a positive match.
const SimilarityThresholdDefault = 0.40

// CosineSimilarity computes the cosine similarity between two vectors
// of equal length. Undefined-length mismatches return 0.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) {
		return 0
	}
	var dot, na, nb float32
	for i := range a {
		dot += a[i] * b[i]
		na += a[i] * a[i]
		nb += b[i] * b[i]
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / float32(math.Sqrt(float64(na))*math.Sqrt(float64(nb)))
}

// CompareConstantTime compares probe against every template in
// gallery, always performing exactly len(gallery) inner-product
// operations regardless of where (or whether) the best match falls,
// so gallery size and hit position are not observable via timing.
func CompareConstantTime(probe types.Embedding, gallery types.Gallery, threshold float32) types.MatchResult {
	return compare(probe, gallery, threshold, nil)
}

// CompareConstantTimeCounted behaves identically to CompareConstantTime
// but increments *ops once per gallery entry visited, so tests can
// observe that the traversal performs exactly len(gallery) inner
// products regardless of where (or whether) the best match falls.
func CompareConstantTimeCounted(probe types.Embedding, gallery types.Gallery, threshold float32, ops *int) types.MatchResult {
	return compare(probe, gallery, threshold, ops)
}

func compare(probe types.Embedding, gallery types.Gallery, threshold float32, ops *int) types.MatchResult {
	var bestSim float32
	bestIdx := -1

	for i, tmpl := range gallery {
		if ops != nil {
			*ops++
		}
		sim := CosineSimilarity(probe.Values, tmpl.Embedding.Values)
		if sim > bestSim || bestIdx == -1 {
			bestSim = sim
			bestIdx = i
		}
	}

	if bestIdx == -1 {
		return types.MatchResult{Matched: false, Similarity: 0}
	}

	winner := gallery[bestIdx]
	return types.MatchResult{
		Matched:    bestSim >= threshold,
		Similarity: bestSim,
		ModelID:    winner.ID,
		ModelLabel: winner.Label,
	}
}
