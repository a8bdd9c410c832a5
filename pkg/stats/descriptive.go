// Package stats provides statistical functions and time series analysis tools
package stats

import (
	"math"
)

// RollingWindowStats 滚动窗口统计结果
type RollingWindowStats struct {
	Mean     float64
	Std      float64
	Variance float64
	Count    int
}

// CalculateRollingStats 计算滚动窗口统计（均值、方差、标准差）
// 一次遍历计算多个统计值，提高性能
func CalculateRollingStats(data []float64, period int) RollingWindowStats {
	if len(data) == 0 {
		return RollingWindowStats{}
	}

	n := len(data)
	if period <= 0 || period > n {
		period = n
	}

	recent := data[n-period:]

	var sum float64
	for _, val := range recent {
		sum += val
	}
	mean := sum / float64(len(recent))

	var variance float64
	for _, val := range recent {
		diff := val - mean
		variance += diff * diff
	}
	variance /= float64(len(recent))

	return RollingWindowStats{
		Mean:     mean,
		Std:      math.Sqrt(variance),
		Variance: variance,
		Count:    len(recent),
	}
}

// Mean 计算均值
func Mean(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}

	var sum float64
	for _, val := range data {
		sum += val
	}
	return sum / float64(len(data))
}

// Variance 计算方差
func Variance(data []float64) float64 {
	if len(data) == 0 {
		return 0
	}

	mean := Mean(data)
	var variance float64
	for _, val := range data {
		diff := val - mean
		variance += diff * diff
	}
	return variance / float64(len(data))
}

// StdDev 计算标准差
func StdDev(data []float64) float64 {
	return math.Sqrt(Variance(data))
}

// SampleStdDev 计算样本标准差 (n-1 分母)
func SampleStdDev(data []float64) float64 {
	if len(data) < 2 {
		return 0
	}

	mean := Mean(data)
	var ss float64
	for _, val := range data {
		diff := val - mean
		ss += diff * diff
	}
	return math.Sqrt(ss / float64(len(data)-1))
}

// ZScore 计算 Z-Score
// z = (x - μ) / σ
func ZScore(value, mean, std float64) float64 {
	if std < 1e-10 {
		return 0
	}
	return (value - mean) / std
}

// ZScoreSeries 计算整个序列的 Z-Score
// std 为 0 时整个序列返回 0（不产生 NaN/Inf）
func ZScoreSeries(data []float64, mean, std float64) []float64 {
	result := make([]float64, len(data))
	if std < 1e-10 {
		return result
	}
	for i, v := range data {
		result[i] = (v - mean) / std
	}
	return result
}

// PctChange 计算百分比变化序列（长度为 len(data)-1）
// 前值为 0 时该点记为 NaN，由调用方清洗
func PctChange(data []float64) []float64 {
	if len(data) < 2 {
		return []float64{}
	}

	result := make([]float64, len(data)-1)
	for i := 1; i < len(data); i++ {
		if data[i-1] == 0 {
			result[i-1] = math.NaN()
			continue
		}
		result[i-1] = (data[i] - data[i-1]) / data[i-1]
	}
	return result
}

// Diff 计算一阶差分序列（长度为 len(data)-1）
func Diff(data []float64) []float64 {
	if len(data) < 2 {
		return []float64{}
	}

	result := make([]float64, len(data)-1)
	for i := 1; i < len(data); i++ {
		result[i-1] = data[i] - data[i-1]
	}
	return result
}

// DropNonFinite 移除 NaN 和 ±Inf
func DropNonFinite(data []float64) []float64 {
	result := make([]float64, 0, len(data))
	for _, v := range data {
		if !math.IsNaN(v) && !math.IsInf(v, 0) {
			result = append(result, v)
		}
	}
	return result
}

// Correlation 计算 Pearson 相关系数
// r = Σ[(xi - x̄)(yi - ȳ)] / sqrt[Σ(xi - x̄)² * Σ(yi - ȳ)²]
func Correlation(x, y []float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return 0
	}

	meanX := Mean(x)
	meanY := Mean(y)

	var numerator, varX, varY float64
	for i := range x {
		diffX := x[i] - meanX
		diffY := y[i] - meanY
		numerator += diffX * diffY
		varX += diffX * diffX
		varY += diffY * diffY
	}

	denominator := math.Sqrt(varX * varY)
	if denominator < 1e-10 {
		return 0
	}

	return numerator / denominator
}

// Covariance 计算协方差
// cov(X,Y) = Σ[(xi - x̄)(yi - ȳ)] / n
func Covariance(x, y []float64) float64 {
	if len(x) != len(y) || len(x) == 0 {
		return 0
	}

	meanX := Mean(x)
	meanY := Mean(y)

	var covariance float64
	for i := range x {
		covariance += (x[i] - meanX) * (y[i] - meanY)
	}

	return covariance / float64(len(x))
}

// Autocorrelation 计算指定滞后阶的自相关系数
func Autocorrelation(data []float64, lag int) float64 {
	if lag <= 0 || len(data) <= lag {
		return 0
	}

	return Correlation(data[:len(data)-lag], data[lag:])
}
