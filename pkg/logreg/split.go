package logreg

import (
	"math"
	"math/rand/v2"
)

// Split shuffles the rows with rng and holds out testFraction of them.
// The returned slices share row storage with X.
func Split(X [][]float64, y []int, testFraction float64, rng *rand.Rand) (trainX [][]float64, trainY []int, testX [][]float64, testY []int) {
	idx := rng.Perm(len(X))
	nTest := int(math.Ceil(float64(len(X)) * testFraction))
	if nTest >= len(X) {
		nTest = len(X) - 1
	}
	if nTest < 0 {
		nTest = 0
	}
	for i, j := range idx {
		if i < nTest {
			testX = append(testX, X[j])
			testY = append(testY, y[j])
			continue
		}
		trainX = append(trainX, X[j])
		trainY = append(trainY, y[j])
	}
	return trainX, trainY, testX, testY
}
