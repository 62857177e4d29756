package utils

import (
	"errors"
	"math"
	"sort"
)

var (
	ErrEmptyVector       = errors.New("vectors cannot be empty")
	ErrDimensionMismatch = errors.New("vectors must have the same dimension")
)

// CosineSimilarity returns the cosine of the angle between a and b.
// A zero-magnitude vector has similarity 0 with everything.
func CosineSimilarity(a, b []float32) (float32, error) {
	if len(a) == 0 || len(b) == 0 {
		return 0, ErrEmptyVector
	}
	if len(a) != len(b) {
		return 0, ErrDimensionMismatch
	}

	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return float32(dot / (math.Sqrt(normA) * math.Sqrt(normB))), nil
}

type Scored[T any] struct {
	Item       T
	Similarity float32
}

// RankBySimilarity scores every candidate against query, drops those below
// threshold or with an incompatible vector, and returns at most limit results,
// most similar first. Ties keep candidate order.
func RankBySimilarity[T any](query []float32, candidates []T, vector func(T) []float32, threshold float32, limit int) []Scored[T] {
	scored := make([]Scored[T], 0, len(candidates))
	for _, c := range candidates {
		sim, err := CosineSimilarity(query, vector(c))
		if err != nil || sim < threshold {
			continue
		}
		scored = append(scored, Scored[T]{Item: c, Similarity: sim})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})
	if limit > 0 && len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}
