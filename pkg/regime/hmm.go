package regime

import (
	"math"
	"math/rand"
	"sort"
)

// gaussianHMM is a univariate Gaussian hidden Markov model fitted by EM.
// Initialization is deterministic (quantile-based state means with a tiny
// seeded jitter to break ties), so the same data and seed always converge
// to the same local optimum.
type gaussianHMM struct {
	nStates    int
	means      []float64
	variances  []float64
	transition [][]float64 // transition[i][j] = P(state j at t+1 | state i at t)
	initial    []float64
}

const varianceFloor = 1e-12

func newGaussianHMM(nStates int, data []float64, seed int64) *gaussianHMM {
	h := &gaussianHMM{
		nStates:    nStates,
		means:      make([]float64, nStates),
		variances:  make([]float64, nStates),
		transition: make([][]float64, nStates),
		initial:    make([]float64, nStates),
	}

	// Quantile blocks of the sorted data seed the state parameters: the
	// lowest block gets the lowest mean and so on. This separates the
	// states enough for EM to lock onto distinct regimes.
	sorted := append([]float64(nil), data...)
	sort.Float64s(sorted)
	rng := rand.New(rand.NewSource(seed))

	blockSize := len(sorted) / nStates
	for s := 0; s < nStates; s++ {
		lo := s * blockSize
		hi := lo + blockSize
		if s == nStates-1 {
			hi = len(sorted)
		}
		block := sorted[lo:hi]

		var sum float64
		for _, v := range block {
			sum += v
		}
		mean := sum / float64(len(block))

		var ss float64
		for _, v := range block {
			d := v - mean
			ss += d * d
		}
		variance := ss / float64(len(block))
		if variance < varianceFloor {
			variance = varianceFloor
		}

		h.means[s] = mean + rng.Float64()*1e-9
		h.variances[s] = variance
		h.initial[s] = 1.0 / float64(nStates)

		h.transition[s] = make([]float64, nStates)
		for j := 0; j < nStates; j++ {
			if j == s {
				h.transition[s][j] = 0.8
			} else {
				h.transition[s][j] = 0.2 / float64(nStates-1)
			}
		}
	}

	return h
}

func (h *gaussianHMM) emission(state int, x float64) float64 {
	v := h.variances[state]
	d := x - h.means[state]
	p := math.Exp(-d*d/(2*v)) / math.Sqrt(2*math.Pi*v)
	if p < 1e-300 {
		p = 1e-300
	}
	return p
}

// forwardBackward runs the scaled forward-backward pass and returns the
// per-step state posteriors (gamma), scale factors and log-likelihood.
func (h *gaussianHMM) forwardBackward(obs []float64) (gamma [][]float64, alpha, beta [][]float64, logLik float64) {
	n := len(obs)
	k := h.nStates

	alpha = make([][]float64, n)
	beta = make([][]float64, n)
	gamma = make([][]float64, n)
	scale := make([]float64, n)

	// Forward
	alpha[0] = make([]float64, k)
	for s := 0; s < k; s++ {
		alpha[0][s] = h.initial[s] * h.emission(s, obs[0])
		scale[0] += alpha[0][s]
	}
	for s := 0; s < k; s++ {
		alpha[0][s] /= scale[0]
	}
	for t := 1; t < n; t++ {
		alpha[t] = make([]float64, k)
		for j := 0; j < k; j++ {
			var sum float64
			for i := 0; i < k; i++ {
				sum += alpha[t-1][i] * h.transition[i][j]
			}
			alpha[t][j] = sum * h.emission(j, obs[t])
			scale[t] += alpha[t][j]
		}
		if scale[t] < 1e-300 {
			scale[t] = 1e-300
		}
		for j := 0; j < k; j++ {
			alpha[t][j] /= scale[t]
		}
	}

	// Backward, reusing the forward scale factors
	beta[n-1] = make([]float64, k)
	for s := 0; s < k; s++ {
		beta[n-1][s] = 1
	}
	for t := n - 2; t >= 0; t-- {
		beta[t] = make([]float64, k)
		for i := 0; i < k; i++ {
			var sum float64
			for j := 0; j < k; j++ {
				sum += h.transition[i][j] * h.emission(j, obs[t+1]) * beta[t+1][j]
			}
			beta[t][i] = sum / scale[t+1]
		}
	}

	for t := 0; t < n; t++ {
		gamma[t] = make([]float64, k)
		var norm float64
		for s := 0; s < k; s++ {
			gamma[t][s] = alpha[t][s] * beta[t][s]
			norm += gamma[t][s]
		}
		if norm > 0 {
			for s := 0; s < k; s++ {
				gamma[t][s] /= norm
			}
		}
	}

	for t := 0; t < n; t++ {
		logLik += math.Log(scale[t])
	}
	return gamma, alpha, beta, logLik
}

// fit runs Baum-Welch EM until the log-likelihood improvement drops below
// tolerance or maxIter is reached. Returns the final log-likelihood.
func (h *gaussianHMM) fit(obs []float64, maxIter int, tolerance float64) float64 {
	n := len(obs)
	k := h.nStates
	prevLogLik := math.Inf(-1)

	for iter := 0; iter < maxIter; iter++ {
		gamma, alpha, beta, logLik := h.forwardBackward(obs)

		// Xi accumulators for the transition update
		transNum := make([][]float64, k)
		transDen := make([]float64, k)
		for i := 0; i < k; i++ {
			transNum[i] = make([]float64, k)
		}
		for t := 0; t < n-1; t++ {
			var norm float64
			xi := make([][]float64, k)
			for i := 0; i < k; i++ {
				xi[i] = make([]float64, k)
				for j := 0; j < k; j++ {
					xi[i][j] = alpha[t][i] * h.transition[i][j] * h.emission(j, obs[t+1]) * beta[t+1][j]
					norm += xi[i][j]
				}
			}
			if norm <= 0 {
				continue
			}
			for i := 0; i < k; i++ {
				for j := 0; j < k; j++ {
					transNum[i][j] += xi[i][j] / norm
				}
				transDen[i] += gamma[t][i]
			}
		}

		// M-step
		for s := 0; s < k; s++ {
			h.initial[s] = gamma[0][s]

			if transDen[s] > 0 {
				for j := 0; j < k; j++ {
					h.transition[s][j] = transNum[s][j] / transDen[s]
				}
			}

			var weight, weightedSum float64
			for t := 0; t < n; t++ {
				weight += gamma[t][s]
				weightedSum += gamma[t][s] * obs[t]
			}
			if weight > 0 {
				h.means[s] = weightedSum / weight
				var weightedSS float64
				for t := 0; t < n; t++ {
					d := obs[t] - h.means[s]
					weightedSS += gamma[t][s] * d * d
				}
				h.variances[s] = weightedSS / weight
				if h.variances[s] < varianceFloor {
					h.variances[s] = varianceFloor
				}
			}
		}

		if math.Abs(logLik-prevLogLik) < tolerance {
			return logLik
		}
		prevLogLik = logLik
	}
	return prevLogLik
}

// viterbi returns the most likely state sequence in log space.
func (h *gaussianHMM) viterbi(obs []float64) []int {
	n := len(obs)
	k := h.nStates

	logTrans := make([][]float64, k)
	for i := 0; i < k; i++ {
		logTrans[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			logTrans[i][j] = safeLog(h.transition[i][j])
		}
	}

	delta := make([][]float64, n)
	psi := make([][]int, n)
	delta[0] = make([]float64, k)
	psi[0] = make([]int, k)
	for s := 0; s < k; s++ {
		delta[0][s] = safeLog(h.initial[s]) + math.Log(h.emission(s, obs[0]))
	}

	for t := 1; t < n; t++ {
		delta[t] = make([]float64, k)
		psi[t] = make([]int, k)
		for j := 0; j < k; j++ {
			best := math.Inf(-1)
			bestState := 0
			for i := 0; i < k; i++ {
				if v := delta[t-1][i] + logTrans[i][j]; v > best {
					best = v
					bestState = i
				}
			}
			delta[t][j] = best + math.Log(h.emission(j, obs[t]))
			psi[t][j] = bestState
		}
	}

	path := make([]int, n)
	best := math.Inf(-1)
	for s := 0; s < k; s++ {
		if delta[n-1][s] > best {
			best = delta[n-1][s]
			path[n-1] = s
		}
	}
	for t := n - 2; t >= 0; t-- {
		path[t] = psi[t+1][path[t+1]]
	}
	return path
}

func safeLog(x float64) float64 {
	if x <= 0 {
		return -700 // below exp underflow
	}
	return math.Log(x)
}
