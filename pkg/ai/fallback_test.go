package ai

import (
	"math"
	"testing"
)

func TestFallbackVectorDeterministic(t *testing.T) {
	a := FallbackVector("aspirin 81mg", 1024)
	b := FallbackVector("aspirin 81mg", 1024)
	if len(a) != 1024 {
		t.Fatalf("length = %d, want 1024", len(a))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("vectors differ at index %d", i)
		}
	}
}

func TestFallbackVectorDiffersByText(t *testing.T) {
	a := FallbackVector("aspirin 81mg", 64)
	b := FallbackVector("ibuprofen 200mg", 64)
	same := true
	for i := range a {
		if a[i] != b[i] {
			same = false
			break
		}
	}
	if same {
		t.Fatal("different texts produced identical fallback vectors")
	}
}

func TestFallbackVectorIsNormalized(t *testing.T) {
	vec := FallbackVector("some content", 256)
	var norm float64
	for _, v := range vec {
		norm += float64(v) * float64(v)
	}
	norm = math.Sqrt(norm)
	if math.Abs(norm-1) > 1e-4 {
		t.Fatalf("norm = %f, want ~1", norm)
	}
}
