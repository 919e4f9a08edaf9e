// Package splitter cuts document text into fixed-size overlapping chunks.
//
// Splitting is position-based over runes: chunks may cut mid-sentence. That
// keeps the output deterministic and the overlap exact, which retrieval
// depends on.
package splitter

import "fmt"

// Split returns ordered chunk texts of at most size runes each, where
// consecutive chunks share exactly overlap runes (the final chunk may be
// shorter). Empty input yields no chunks. overlap must be smaller than size;
// anything else would loop forever or produce degenerate chunks.
func Split(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("chunk overlap %d must be in [0, %d)", overlap, size)
	}
	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}
	step := size - overlap
	var chunks []string
	for start := 0; start < len(runes); start += step {
		end := start + size
		if end > len(runes) {
			end = len(runes)
		}
		chunks = append(chunks, string(runes[start:end]))
		if end == len(runes) {
			break
		}
	}
	return chunks, nil
}
