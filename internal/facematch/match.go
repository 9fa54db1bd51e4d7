package facematch

import "math"

// Candidate is a face descriptor owned by an enrolled identity.
type Candidate struct {
	ID         string
	Descriptor []float32
}

// Match is the best-scoring candidate for a query descriptor.
type Match struct {
	Index      int     // position of the candidate in the input slice
	ID         string  // candidate identity
	Confidence float64 // cosine similarity of the winning candidate
	Scanned    int     // candidates that carried a descriptor
}

// BestMatch scans candidates in order and returns the single best match whose
// score is at least threshold.
//
// A candidate replaces the current best only when its score is strictly
// greater, so when several candidates share the top score the first one in
// input order wins. Candidates without a descriptor or with a NaN score are skipped.
// The query must be non-empty; validating it is the caller's job.
func BestMatch(query []float32, candidates []Candidate, threshold float64) (Match, bool) {
	best := Match{Index: -1}
	bestScore := 0.0
	found := false

	for i := range candidates {
		c := &candidates[i]
		if len(c.Descriptor) == 0 {
			continue
		}
		best.Scanned++

		score := CosineSimilarity(query, c.Descriptor)
		if math.IsNaN(score) || score < threshold {
			continue
		}
		if !found || score > bestScore {
			bestScore = score
			best.Index = i
			best.ID = c.ID
			found = true
		}
	}

	if !found {
		return Match{Index: -1, Scanned: best.Scanned}, false
	}
	best.Confidence = bestScore
	return best, true
}
