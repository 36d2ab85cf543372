package fusion

import (
	"math"
	"testing"

	"github.com/finresearch/research-assistant/internal/qdrant"
)

func passage(doc string, page int, text string, score float32) qdrant.Passage {
	return qdrant.Passage{DocumentName: doc, PageNumber: page, Text: text, Score: score}
}

func approx(a, b float64) bool {
	return math.Abs(a-b) < 1e-6
}

func TestNormalizeSemantic(t *testing.T) {
	tests := []struct {
		in   float32
		want float64
	}{
		{0.82, 0.82},
		{-0.3, 0},
		{1.4, 1},
		{0, 0},
	}
	for _, tt := range tests {
		if got := NormalizeSemantic(tt.in); !approx(got, tt.want) {
			t.Errorf("NormalizeSemantic(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestNormalizeKeyword(t *testing.T) {
	got := NormalizeKeyword([]qdrant.Passage{
		passage("a.pdf", 1, "x", 8),
		passage("a.pdf", 2, "y", 4),
		passage("a.pdf", 3, "z", 2),
	})
	want := []float64{1, 0.5, 0.25}
	for i := range want {
		if !approx(got[i], want[i]) {
			t.Errorf("score[%d] = %v, want %v", i, got[i], want[i])
		}
	}

	single := NormalizeKeyword([]qdrant.Passage{passage("a.pdf", 1, "x", 3.7)})
	if single[0] != 1 {
		t.Errorf("single result = %v, want 1", single[0])
	}

	equal := NormalizeKeyword([]qdrant.Passage{passage("a.pdf", 1, "x", 2), passage("b.pdf", 1, "y", 2)})
	if equal[0] != 1 || equal[1] != 1 {
		t.Errorf("all-equal page = %v, want all 1", equal)
	}

	if len(NormalizeKeyword(nil)) != 0 {
		t.Error("expected empty result for empty page")
	}
}

func TestFuse_HybridTakesMaxScore(t *testing.T) {
	shared := "Apple revenue grew 8% in fiscal 2023."
	semantic := []qdrant.Passage{
		passage("apple-10k.pdf", 12, shared, 0.62),
		passage("apple-10k.pdf", 40, "Risk factors include supply chain.", 0.55),
	}
	keyword := []qdrant.Passage{
		passage("apple-10k.pdf", 12, shared, 9),
		passage("msft-10k.pdf", 3, "Microsoft revenue rose.", 4.5),
	}

	results := Fuse(semantic, keyword, []string{"apple", "revenue"})
	if len(results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(results))
	}

	top := results[0]
	if top.Method != MethodHybrid {
		t.Errorf("expected hybrid, got %s", top.Method)
	}
	if top.Score != 1 {
		t.Errorf("hybrid score = %v, want 1 (max of 0.62 and 1)", top.Score)
	}
	if len(top.MatchedKeywords) != 2 {
		t.Errorf("matched keywords = %v", top.MatchedKeywords)
	}

	if results[1].Method != MethodSemantic || !approx(results[1].Score, 0.55) {
		t.Errorf("second = %s %v, want semantic 0.55", results[1].Method, results[1].Score)
	}
	if results[2].Method != MethodKeyword || !approx(results[2].Score, 0.5) {
		t.Errorf("third = %s %v, want keyword 0.5", results[2].Method, results[2].Score)
	}
	if len(results[1].MatchedKeywords) != 0 {
		t.Errorf("semantic-only result should have no matched keywords, got %v", results[1].MatchedKeywords)
	}
}

func TestFuse_WhitespaceVariantsMerge(t *testing.T) {
	semantic := []qdrant.Passage{passage("a.pdf", 1, "net  income\nrose", 0.7)}
	keyword := []qdrant.Passage{passage("a.pdf", 1, "net income rose", 1)}

	results := Fuse(semantic, keyword, []string{"income"})
	if len(results) != 1 || results[0].Method != MethodHybrid {
		t.Fatalf("expected one hybrid result, got %+v", results)
	}
}

func TestFuse_SamePageDifferentTextStaySeparate(t *testing.T) {
	semantic := []qdrant.Passage{passage("a.pdf", 1, "first passage", 0.7)}
	keyword := []qdrant.Passage{passage("a.pdf", 1, "second passage", 1)}

	if results := Fuse(semantic, keyword, nil); len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
}

func TestFuse_TieBreak(t *testing.T) {
	semantic := []qdrant.Passage{
		passage("b.pdf", 1, "beta", 0.5),
		passage("a.pdf", 9, "alpha nine", 0.5),
		passage("a.pdf", 2, "alpha two", 0.5),
	}

	results := Fuse(semantic, nil, nil)
	want := []struct {
		doc  string
		page int
	}{{"a.pdf", 2}, {"a.pdf", 9}, {"b.pdf", 1}}
	for i, w := range want {
		if results[i].Passage.DocumentName != w.doc || results[i].Passage.PageNumber != w.page {
			t.Errorf("result[%d] = %s p%d, want %s p%d", i,
				results[i].Passage.DocumentName, results[i].Passage.PageNumber, w.doc, w.page)
		}
	}
}

func TestFuse_Deterministic(t *testing.T) {
	semantic := []qdrant.Passage{
		passage("a.pdf", 1, "one", 0.4),
		passage("b.pdf", 1, "two", 0.4),
		passage("c.pdf", 1, "three", 0.9),
	}
	keyword := []qdrant.Passage{
		passage("d.pdf", 1, "four", 3),
		passage("a.pdf", 1, "one", 1),
	}
	reversed := func(in []qdrant.Passage) []qdrant.Passage {
		out := make([]qdrant.Passage, len(in))
		for i := range in {
			out[len(in)-1-i] = in[i]
		}
		return out
	}

	first := Fuse(semantic, keyword, nil)
	second := Fuse(reversed(semantic), reversed(keyword), nil)
	if len(first) != len(second) {
		t.Fatalf("length mismatch %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].PassageHash != second[i].PassageHash || first[i].Score != second[i].Score {
			t.Errorf("position %d differs: %+v vs %+v", i, first[i], second[i])
		}
	}
}

func TestFuse_ScoresInUnitRange(t *testing.T) {
	semantic := []qdrant.Passage{passage("a.pdf", 1, "x", 1.3), passage("a.pdf", 2, "y", -0.2)}
	keyword := []qdrant.Passage{passage("b.pdf", 1, "z", 42), passage("b.pdf", 2, "w", 0.1)}

	for _, r := range Fuse(semantic, keyword, nil) {
		if r.Score < 0 || r.Score > 1 {
			t.Errorf("score %v out of [0,1] for %s p%d", r.Score, r.Passage.DocumentName, r.Passage.PageNumber)
		}
	}
}

func TestFuse_Empty(t *testing.T) {
	if results := Fuse(nil, nil, nil); len(results) != 0 {
		t.Errorf("expected no results, got %d", len(results))
	}
}

func TestCompare(t *testing.T) {
	if Compare(0.9, 0.5, "b", "a", 1, 1, "x", "x") >= 0 {
		t.Error("higher score should rank first")
	}
	if Compare(0.5, 0.5, "a", "b", 9, 1, "x", "x") >= 0 {
		t.Error("document name should break score ties")
	}
	if Compare(0.5, 0.5, "a", "a", 1, 2, "z", "a") >= 0 {
		t.Error("page should break document ties")
	}
	if Compare(0.5, 0.5, "a", "a", 1, 1, "a", "b") >= 0 {
		t.Error("hash should break page ties")
	}
	if Compare(0.5, 0.5, "a", "a", 1, 1, "a", "a") != 0 {
		t.Error("identical keys should compare equal")
	}
}
