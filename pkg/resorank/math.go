package resorank

import (
	"math"
)

// CalculateIDF computes the Okapi inverse document frequency.
// Formula: ln(N - df + 0.5) - ln(df + 0.5)
// The value is negative for terms present in more than half the documents;
// callers floor it with FloorIDF.
func CalculateIDF(totalDocs float64, docFreq int) float64 {
	if docFreq == 0 {
		return 0.0
	}
	df := float64(docFreq)
	return math.Log(totalDocs-df+0.5) - math.Log(df+0.5)
}

// FloorIDF replaces negative IDF values with epsilon times the average IDF.
func FloorIDF(idf map[string]float64, epsilon float64) {
	if len(idf) == 0 {
		return
	}
	sum := 0.0
	for _, v := range idf {
		sum += v
	}
	floor := epsilon * sum / float64(len(idf))
	for term, v := range idf {
		if v < 0 {
			idf[term] = floor
		}
	}
}

// NormalizedTermFrequency computes TF with standard BM25 length normalization
func NormalizedTermFrequency(tf int, docLen int, avgDocLen float64, b float64) float64 {
	if avgDocLen <= 0 || tf == 0 {
		return 0.0
	}
	denom := 1.0 - b + b*(float64(docLen)/avgDocLen)
	if denom <= 0 {
		return 0
	}
	return float64(tf) / denom
}

// Saturate applies BM25 saturation
// Formula: ((k1 + 1) * score) / (k1 + score)
func Saturate(score float64, k1 float64) float64 {
	if score <= 0 {
		return 0.0
	}
	if k1 <= 0 {
		return score
	}
	return ((k1 + 1.0) * score) / (k1 + score)
}
