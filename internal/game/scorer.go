package game

import (
	"context"
	"fmt"
	"math"
)

// SimilarityScore compares a candidate prompt against the gold prompt of the
// same polarity and returns a score in [0, 1]. Two absent prompts match
// perfectly; exactly one absent prompt does not match at all.
func SimilarityScore(ctx context.Context, emb Embedder, candidate, gold *string, goldMean []float32) (float64, error) {
	switch {
	case candidate == nil && gold == nil:
		return 1, nil
	case candidate == nil || gold == nil:
		return 0, nil
	}
	rows, err := emb.EmbedTokens(ctx, *candidate)
	if err != nil {
		return 0, fmt.Errorf("embed candidate: %w", err)
	}
	mean := MeanPool(rows)
	if mean == nil {
		return 0, fmt.Errorf("embed candidate: empty embedding")
	}
	return Rescale(CosineSimilarity(goldMean, mean)), nil
}

// MeanPool averages token rows into a single vector.
func MeanPool(rows [][]float32) []float32 {
	if len(rows) == 0 || len(rows[0]) == 0 {
		return nil
	}
	dim := len(rows[0])
	sum := make([]float64, dim)
	for _, r := range rows {
		for i := 0; i < dim && i < len(r); i++ {
			sum[i] += float64(r[i])
		}
	}
	out := make([]float32, dim)
	for i, s := range sum {
		out[i] = float32(s / float64(len(rows)))
	}
	return out
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0 if
// either is a zero vector or the dimensions differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return clamp(dot/(math.Sqrt(na)*math.Sqrt(nb)), -1, 1)
}

// Rescale maps a cosine in [-1, 1] onto [0, 1].
func Rescale(cos float64) float64 {
	return clamp((cos+1)/2, 0, 1)
}

// HarmonicMean of two non-negative scores; any zero component yields zero.
func HarmonicMean(a, b float64) float64 {
	if a <= 0 || b <= 0 {
		return 0
	}
	return 2 / (1/a + 1/b)
}

func FinalScore(positive, negative float64, includeNegative bool) float64 {
	if includeNegative {
		return HarmonicMean(positive, negative)
	}
	return positive
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
