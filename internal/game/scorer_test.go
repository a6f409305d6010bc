package game

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"testing"
)

const fakeDim = 32

// wordEmbedder gives every distinct word its own axis and returns one row per
// word, so overlapping prompts have a positive cosine.
type wordEmbedder struct {
	mu    sync.Mutex
	vocab map[string]int
	calls int
	err   error
}

func newWordEmbedder() *wordEmbedder {
	return &wordEmbedder{vocab: make(map[string]int)}
}

func (e *wordEmbedder) EmbedTokens(_ context.Context, text string) ([][]float32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.calls++
	if e.err != nil {
		return nil, e.err
	}
	var rows [][]float32
	for _, w := range strings.Fields(strings.ToLower(text)) {
		ix, ok := e.vocab[w]
		if !ok {
			ix = len(e.vocab) % fakeDim
			e.vocab[w] = ix
		}
		row := make([]float32, fakeDim)
		row[ix] = 1
		rows = append(rows, row)
	}
	return rows, nil
}

func (e *wordEmbedder) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

func strp(s string) *string { return &s }

func almostEqual(a, b float64) bool { return math.Abs(a-b) < 1e-6 }

func TestSimilarityScoreBothAbsent(t *testing.T) {
	emb := newWordEmbedder()
	score, err := SimilarityScore(context.Background(), emb, nil, nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if score != 1 {
		t.Fatalf("expected 1, got %f", score)
	}
	if emb.callCount() != 0 {
		t.Fatal("absent prompts should not be embedded")
	}
}

func TestSimilarityScoreOneAbsent(t *testing.T) {
	emb := newWordEmbedder()
	ctx := context.Background()
	gold, _ := emb.EmbedTokens(ctx, "a red cat")

	score, err := SimilarityScore(ctx, emb, nil, strp("a red cat"), MeanPool(gold))
	if err != nil || score != 0 {
		t.Fatalf("missing candidate: expected 0, got %f (%v)", score, err)
	}
	score, err = SimilarityScore(ctx, emb, strp("a red cat"), nil, nil)
	if err != nil || score != 0 {
		t.Fatalf("unexpected guess: expected 0, got %f (%v)", score, err)
	}
}

func TestSimilarityScoreExactAndPartialMatch(t *testing.T) {
	emb := newWordEmbedder()
	ctx := context.Background()
	goldRows, _ := emb.EmbedTokens(ctx, "a red cat")
	goldMean := MeanPool(goldRows)

	exact, err := SimilarityScore(ctx, emb, strp("a red cat"), strp("a red cat"), goldMean)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !almostEqual(exact, 1) {
		t.Fatalf("exact guess should score 1, got %f", exact)
	}

	other, err := SimilarityScore(ctx, emb, strp("a blue dog"), strp("a red cat"), goldMean)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if other >= exact {
		t.Fatalf("different guess should score lower: %f >= %f", other, exact)
	}
	if other < 0 || other > 1 {
		t.Fatalf("score out of range: %f", other)
	}
}

func TestSimilarityScoreEmbedderError(t *testing.T) {
	emb := newWordEmbedder()
	emb.err = errors.New("model offline")
	_, err := SimilarityScore(context.Background(), emb, strp("x"), strp("y"), []float32{1})
	if err == nil {
		t.Fatal("expected embedder error to surface")
	}
}

func TestMeanPool(t *testing.T) {
	mean := MeanPool([][]float32{{1, 0}, {0, 1}, {2, 2}})
	if !almostEqual(float64(mean[0]), 1) || !almostEqual(float64(mean[1]), 1) {
		t.Fatalf("unexpected mean: %v", mean)
	}
	if MeanPool(nil) != nil {
		t.Fatal("empty input should pool to nil")
	}
}

func TestCosineSimilarity(t *testing.T) {
	if got := CosineSimilarity([]float32{1, 0}, []float32{1, 0}); !almostEqual(got, 1) {
		t.Fatalf("parallel vectors: got %f", got)
	}
	if got := CosineSimilarity([]float32{1, 0}, []float32{-1, 0}); !almostEqual(got, -1) {
		t.Fatalf("opposite vectors: got %f", got)
	}
	if got := CosineSimilarity([]float32{0, 0}, []float32{1, 0}); got != 0 {
		t.Fatalf("zero vector: got %f", got)
	}
	if got := CosineSimilarity([]float32{1}, []float32{1, 0}); got != 0 {
		t.Fatalf("dimension mismatch: got %f", got)
	}
}

func TestRescale(t *testing.T) {
	if Rescale(-1) != 0 || Rescale(1) != 1 || Rescale(0) != 0.5 {
		t.Fatal("rescale should map [-1,1] onto [0,1]")
	}
}

func TestHarmonicMeanCollapsesOnZero(t *testing.T) {
	if HarmonicMean(1, 0) != 0 {
		t.Fatal("a zero component should collapse the harmonic mean")
	}
	if got := HarmonicMean(1, 1); !almostEqual(got, 1) {
		t.Fatalf("expected 1, got %f", got)
	}
	if got := HarmonicMean(0.9, 0.1); got >= 0.5 {
		t.Fatalf("harmonic mean should favor the weaker score, got %f", got)
	}
}

func TestFinalScore(t *testing.T) {
	if FinalScore(0.8, 0.2, false) != 0.8 {
		t.Fatal("without negative, final score should be the positive score")
	}
	if got := FinalScore(0.8, 0.2, true); !almostEqual(got, HarmonicMean(0.8, 0.2)) {
		t.Fatalf("with negative, expected harmonic mean, got %f", got)
	}
}
