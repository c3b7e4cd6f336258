package vector

import (
	"math"

	"gonum.org/v1/gonum/mat"
)

// cosineScores computes cosine similarity between the query and every
// candidate in one matrix pass. Candidates are scored as
// dot(q,v) / (‖q‖·‖v‖); a zero-norm candidate scores NaN and must be
// excluded by the caller. A zero-norm query returns nil.
func cosineScores(query []float32, candidates [][]float32) []float64 {
	dim := len(query)
	queryVec := make([]float64, dim)
	for i, v := range query {
		queryVec[i] = float64(v)
	}

	queryNorm := norm(queryVec)
	if queryNorm == 0 {
		return nil
	}
	if len(candidates) == 0 {
		return []float64{}
	}

	data := make([]float64, len(candidates)*dim)
	norms := make([]float64, len(candidates))
	for i, candidate := range candidates {
		row := data[i*dim : (i+1)*dim]
		for j, v := range candidate {
			row[j] = float64(v)
		}
		norms[i] = norm(row)
	}

	var dots mat.VecDense
	dots.MulVec(mat.NewDense(len(candidates), dim, data), mat.NewVecDense(dim, queryVec))

	scores := make([]float64, len(candidates))
	for i := range scores {
		if norms[i] == 0 {
			scores[i] = math.NaN()
			continue
		}
		scores[i] = dots.AtVec(i) / (queryNorm * norms[i])
	}
	return scores
}

func norm(v []float64) float64 {
	var sum float64
	for _, x := range v {
		sum += x * x
	}
	return math.Sqrt(sum)
}
