// Package similarity ranks candidate vectors against a query vector by
// cosine similarity. It performs no I/O and never mutates its inputs.
package similarity

import (
	"math"
	"sort"
)

// Candidate is a vector to be ranked, identified by ID.
type Candidate struct {
	ID     string
	Vector []float32
}

// Scored is a ranked candidate.
type Scored struct {
	ID         string
	Similarity float64
}

// Cosine returns dot(a,b) / (|a| * |b|). Vectors of different length, empty
// vectors and vectors with zero norm have similarity 0.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, aNormSq, bNormSq float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		aNormSq += x * x
		bNormSq += y * y
	}
	if aNormSq == 0 || bNormSq == 0 {
		return 0
	}
	s := dot / (math.Sqrt(aNormSq) * math.Sqrt(bNormSq))
	if math.IsNaN(s) || math.IsInf(s, 0) {
		return 0
	}
	return s
}

// Rank scores every candidate against query and returns at most limit
// entries whose similarity is strictly greater than threshold, sorted by
// similarity descending. Equal scores keep their input order. Candidates
// whose dimension differs from the query are skipped.
func Rank(query []float32, candidates []Candidate, threshold float64, limit int) []Scored {
	if limit <= 0 || len(query) == 0 {
		return []Scored{}
	}

	scored := make([]Scored, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) != len(query) {
			continue
		}
		s := Cosine(query, c.Vector)
		if s <= threshold {
			continue
		}
		scored = append(scored, Scored{ID: c.ID, Similarity: s})
	}

	sort.SliceStable(scored, func(i, j int) bool {
		return scored[i].Similarity > scored[j].Similarity
	})

	if len(scored) > limit {
		scored = scored[:limit]
	}
	return scored
}

