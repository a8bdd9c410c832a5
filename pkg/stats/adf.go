package stats

import (
	"fmt"
	"math"
)

// ADFResult Augmented Dickey-Fuller 检验结果
type ADFResult struct {
	Statistic      float64
	PValue         float64
	UsedLag        int
	NObs           int
	CriticalValues map[string]float64 // "1%", "5%", "10%"
}

// macKinnonSurface MacKinnon (2010) 响应面系数
// cv(T) = b0 + b1/T + b2/T² + b3/T³
type macKinnonSurface struct {
	onePct  [4]float64
	fivePct [4]float64
	tenPct  [4]float64
}

// 常数项、无趋势
var (
	// N=1: 单序列单位根検验
	surfaceADF = macKinnonSurface{
		onePct:  [4]float64{-3.43035, -6.5393, -16.786, -79.433},
		fivePct: [4]float64{-2.86154, -2.8903, -4.234, -40.040},
		tenPct:  [4]float64{-2.56677, -1.5384, -2.809, 0},
	}
	// N=2: Engle-Granger 协整残差检验
	surfaceEngleGranger = macKinnonSurface{
		onePct:  [4]float64{-3.89644, -10.9519, -22.527, 0},
		fivePct: [4]float64{-3.33613, -6.1101, -6.823, 0},
		tenPct:  [4]float64{-3.04445, -4.2412, -2.720, 0},
	}
)

func (s macKinnonSurface) criticalValues(nobs int) map[string]float64 {
	t := float64(nobs)
	eval := func(b [4]float64) float64 {
		return b[0] + b[1]/t + b[2]/(t*t) + b[3]/(t*t*t)
	}
	return map[string]float64{
		"1%":  eval(s.onePct),
		"5%":  eval(s.fivePct),
		"10%": eval(s.tenPct),
	}
}

// approxPValue 基于临界值的分段线性插值近似 p 值
// 不是完整的 MacKinnon (1994) 回归面，但在判定边界附近足够精确
func approxPValue(stat float64, cv map[string]float64) float64 {
	cv1, cv5, cv10 := cv["1%"], cv["5%"], cv["10%"]

	switch {
	case stat <= cv1:
		// 比 1% 临界值更极端，向下外推并截断
		p := 0.01 * math.Exp(stat-cv1)
		return math.Max(p, 1e-4)
	case stat <= cv5:
		return interpolate(stat, cv1, 0.01, cv5, 0.05)
	case stat <= cv10:
		return interpolate(stat, cv5, 0.05, cv10, 0.10)
	case stat <= 0:
		// 10% 临界值到 0 之间：0 处单位根概率约一半
		return interpolate(stat, cv10, 0.10, 0, 0.55)
	default:
		p := 0.55 + 0.45*(1-math.Exp(-stat))
		return math.Min(p, 0.999)
	}
}

func interpolate(x, x0, y0, x1, y1 float64) float64 {
	if x1 == x0 {
		return y0
	}
	return y0 + (y1-y0)*(x-x0)/(x1-x0)
}

// ADFTest Augmented Dickey-Fuller 单位根检验（含常数项，无趋势）
//
// 回归: Δy[t] = α + ρ·y[t-1] + Σφ_i·Δy[t-i] + ε
// 滞后阶按 AIC 在 0..maxLag 内自动选择，maxLag = 12·(n/100)^0.25
// 检验统计量为 ρ 的 t 值
func ADFTest(series []float64) (*ADFResult, error) {
	n := len(series)
	maxLag := int(math.Floor(12 * math.Pow(float64(n)/100, 0.25)))
	if n < maxLag+10 {
		maxLag = n/2 - 5
	}
	if maxLag < 0 {
		return nil, fmt.Errorf("adf: series too short (%d points)", n)
	}

	bestLag := 0
	bestAIC := math.Inf(1)
	var bestFit *OLSResult

	// 所有候选滞后阶使用相同的样本区间，保证 AIC 可比
	for lag := 0; lag <= maxLag; lag++ {
		fit, ok := adfRegression(series, lag, maxLag)
		if !ok {
			continue
		}
		if aic := fit.AIC(); aic < bestAIC {
			bestAIC = aic
			bestLag = lag
			bestFit = fit
		}
	}
	if bestFit == nil {
		return nil, fmt.Errorf("adf: regression failed for all lags up to %d", maxLag)
	}

	// 选定阶数后在全部可用样本上重新估计
	finalFit, ok := adfRegression(series, bestLag, bestLag)
	if !ok {
		finalFit = bestFit
	}

	stat := finalFit.TStat(1) // y[t-1] 的系数
	cv := surfaceADF.criticalValues(finalFit.NObs)

	return &ADFResult{
		Statistic:      stat,
		PValue:         approxPValue(stat, cv),
		UsedLag:        bestLag,
		NObs:           finalFit.NObs,
		CriticalValues: cv,
	}, nil
}

// adfRegression 构造 ADF 设计矩阵并回归
// startLag 决定样本起点，选阶阶段传 maxLag 以对齐样本
func adfRegression(series []float64, lag, startLag int) (*OLSResult, bool) {
	delta := Diff(series)
	// delta[t] 对应 series[t+1] - series[t]
	start := startLag + 1 // series 下标，保证滞后差分可用
	nobs := len(series) - start
	if nobs <= lag+3 {
		return nil, false
	}

	X := make([][]float64, nobs)
	y := make([]float64, nobs)
	for i := 0; i < nobs; i++ {
		t := start + i
		row := make([]float64, 2+lag)
		row[0] = 1           // 常数项
		row[1] = series[t-1] // 滞后水平项
		for j := 1; j <= lag; j++ {
			row[1+j] = delta[t-1-j]
		}
		X[i] = row
		y[i] = delta[t-1]
	}

	return OLS(X, y)
}
