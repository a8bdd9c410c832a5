package stats

import (
	"fmt"
)

// CointResult Engle-Granger 协整检验结果
type CointResult struct {
	Statistic      float64
	PValue         float64
	CriticalValues map[string]float64
}

// EngleGrangerTest Engle-Granger 两步协整检验
//
// 第一步: y = α + β·x + ε（含截距 OLS）
// 第二步: 对残差 ε 做 ADF 检验，临界值采用两变量协整面
func EngleGrangerTest(y, x []float64) (*CointResult, error) {
	if len(y) != len(x) {
		return nil, fmt.Errorf("coint: length mismatch %d vs %d", len(y), len(x))
	}
	if len(y) < 20 {
		return nil, fmt.Errorf("coint: need at least 20 observations, got %d", len(y))
	}

	slope, intercept := LinearRegression(x, y)

	residuals := make([]float64, len(y))
	for i := range y {
		residuals[i] = y[i] - intercept - slope*x[i]
	}

	adf, err := ADFTest(residuals)
	if err != nil {
		return nil, fmt.Errorf("coint: residual adf: %w", err)
	}

	// 残差是估计出来的，临界值必须用协整专用响应面
	cv := surfaceEngleGranger.criticalValues(adf.NObs)

	return &CointResult{
		Statistic:      adf.Statistic,
		PValue:         approxPValue(adf.Statistic, cv),
		CriticalValues: cv,
	}, nil
}
