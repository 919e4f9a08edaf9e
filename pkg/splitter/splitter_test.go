package splitter

import (
	"strings"
	"testing"
)

func TestSplitSizesAndOverlap(t *testing.T) {
	text := strings.Repeat("a", 2500)
	chunks, err := Split(text, 1000, 200)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 3 {
		t.Fatalf("chunks = %d, want 3", len(chunks))
	}
	wantLens := []int{1000, 1000, 900}
	for i, chunk := range chunks {
		if len([]rune(chunk)) != wantLens[i] {
			t.Fatalf("chunk %d length = %d, want %d", i, len([]rune(chunk)), wantLens[i])
		}
	}
}

func TestSplitOverlapIsExact(t *testing.T) {
	var sb strings.Builder
	for i := 0; i < 500; i++ {
		sb.WriteRune(rune('a' + i%26))
	}
	chunks, err := Split(sb.String(), 100, 30)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	for i := 1; i < len(chunks); i++ {
		prev := []rune(chunks[i-1])
		cur := []rune(chunks[i])
		tail := string(prev[len(prev)-30:])
		if len(cur) < 30 {
			continue
		}
		head := string(cur[:30])
		if tail != head {
			t.Fatalf("chunk %d does not start with the previous chunk's last 30 runes", i)
		}
	}
}

func TestSplitDeterministic(t *testing.T) {
	text := strings.Repeat("the quick brown fox ", 300)
	first, err := Split(text, 1000, 200)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	second, err := Split(text, 1000, 200)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(first) != len(second) {
		t.Fatalf("lengths differ: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i] != second[i] {
			t.Fatalf("chunk %d differs between runs", i)
		}
	}
}

func TestSplitEmptyInput(t *testing.T) {
	chunks, err := Split("", 100, 10)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 0 {
		t.Fatalf("chunks = %d, want 0", len(chunks))
	}
}

func TestSplitShortInputSingleChunk(t *testing.T) {
	chunks, err := Split("hello", 100, 10)
	if err != nil {
		t.Fatalf("Split: %v", err)
	}
	if len(chunks) != 1 || chunks[0] != "hello" {
		t.Fatalf("chunks = %#v, want single %q", chunks, "hello")
	}
}

func TestSplitRejectsBadParams(t *testing.T) {
	cases := []struct {
		name          string
		size, overlap int
	}{
		{"zero size", 0, 0},
		{"negative overlap", 100, -1},
		{"overlap equals size", 100, 100},
		{"overlap above size", 100, 150},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := Split("text", tc.size, tc.overlap); err == nil {
				t.Fatalf("Split(%d, %d) expected error", tc.size, tc.overlap)
			}
		})
	}
}
