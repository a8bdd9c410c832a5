package stats

import (
	"math"
)

// LinearRegression 计算线性回归 y = slope * x + intercept
// 返回斜率和截距
func LinearRegression(x, y []float64) (slope, intercept float64) {
	if len(x) != len(y) || len(x) == 0 {
		return 0, 0
	}

	meanX := Mean(x)
	meanY := Mean(y)

	var numerator, denominator float64
	for i := range x {
		diffX := x[i] - meanX
		numerator += diffX * (y[i] - meanY)
		denominator += diffX * diffX
	}

	if denominator < 1e-10 {
		return 0, meanY
	}

	slope = numerator / denominator
	intercept = meanY - slope*meanX

	return slope, intercept
}

// RegressThroughOrigin 计算无截距回归 y = beta * x
// beta = Σ(xy) / Σ(x²)
func RegressThroughOrigin(x, y []float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return 0
	}

	var sxy, sxx float64
	for i := range x {
		sxy += x[i] * y[i]
		sxx += x[i] * x[i]
	}

	if sxx < 1e-10 {
		return 0
	}

	return sxy / sxx
}

// OLSResult 多元最小二乘回归结果
type OLSResult struct {
	Coefficients []float64 // 回归系数（按设计矩阵列顺序）
	StdErrors    []float64 // 系数标准误
	Residuals    []float64
	SSR          float64 // 残差平方和
	NObs         int
	NParams      int
}

// TStat 返回第 i 个系数的 t 统计量
func (r *OLSResult) TStat(i int) float64 {
	if i < 0 || i >= len(r.Coefficients) || r.StdErrors[i] < 1e-300 {
		return 0
	}
	return r.Coefficients[i] / r.StdErrors[i]
}

// AIC 按 statsmodels 的 ADF 自动定阶口径计算赤池信息量
func (r *OLSResult) AIC() float64 {
	n := float64(r.NObs)
	if n == 0 || r.SSR <= 0 {
		return math.Inf(1)
	}
	return n*math.Log(r.SSR/n) + 2*float64(r.NParams)
}

// OLS 多元最小二乘：y = X·β + ε
// X 按行存储观测，按列存储回归变量。通过正规方程 X'X·β = X'y
// 高斯消元求解，矩阵规模为 ADF 回归的滞后阶数量级，无需数值库
func OLS(X [][]float64, y []float64) (*OLSResult, bool) {
	n := len(X)
	if n == 0 || n != len(y) {
		return nil, false
	}
	k := len(X[0])
	if k == 0 || n <= k {
		return nil, false
	}

	// X'X 和 X'y
	xtx := make([][]float64, k)
	xty := make([]float64, k)
	for i := 0; i < k; i++ {
		xtx[i] = make([]float64, k)
		for j := 0; j < k; j++ {
			var s float64
			for t := 0; t < n; t++ {
				s += X[t][i] * X[t][j]
			}
			xtx[i][j] = s
		}
		var s float64
		for t := 0; t < n; t++ {
			s += X[t][i] * y[t]
		}
		xty[i] = s
	}

	inv, ok := invertMatrix(xtx)
	if !ok {
		return nil, false
	}

	beta := make([]float64, k)
	for i := 0; i < k; i++ {
		for j := 0; j < k; j++ {
			beta[i] += inv[i][j] * xty[j]
		}
	}

	residuals := make([]float64, n)
	var ssr float64
	for t := 0; t < n; t++ {
		var fitted float64
		for j := 0; j < k; j++ {
			fitted += X[t][j] * beta[j]
		}
		residuals[t] = y[t] - fitted
		ssr += residuals[t] * residuals[t]
	}

	// 系数标准误: se(βi) = sqrt(s² * (X'X)⁻¹_ii), s² = SSR/(n-k)
	sigma2 := ssr / float64(n-k)
	stderrs := make([]float64, k)
	for i := 0; i < k; i++ {
		v := sigma2 * inv[i][i]
		if v > 0 {
			stderrs[i] = math.Sqrt(v)
		}
	}

	return &OLSResult{
		Coefficients: beta,
		StdErrors:    stderrs,
		Residuals:    residuals,
		SSR:          ssr,
		NObs:         n,
		NParams:      k,
	}, true
}

// invertMatrix 高斯-约当消元求逆（带部分主元选取）
func invertMatrix(m [][]float64) ([][]float64, bool) {
	k := len(m)
	aug := make([][]float64, k)
	for i := 0; i < k; i++ {
		aug[i] = make([]float64, 2*k)
		copy(aug[i], m[i])
		aug[i][k+i] = 1
	}

	for col := 0; col < k; col++ {
		pivot := col
		for row := col + 1; row < k; row++ {
			if math.Abs(aug[row][col]) > math.Abs(aug[pivot][col]) {
				pivot = row
			}
		}
		if math.Abs(aug[pivot][col]) < 1e-12 {
			return nil, false
		}
		aug[col], aug[pivot] = aug[pivot], aug[col]

		pv := aug[col][col]
		for j := 0; j < 2*k; j++ {
			aug[col][j] /= pv
		}
		for row := 0; row < k; row++ {
			if row == col {
				continue
			}
			factor := aug[row][col]
			for j := 0; j < 2*k; j++ {
				aug[row][j] -= factor * aug[col][j]
			}
		}
	}

	inv := make([][]float64, k)
	for i := 0; i < k; i++ {
		inv[i] = aug[i][k:]
	}
	return inv, true
}
