package stats

import (
	"testing"
)

func TestLinearRegression(t *testing.T) {
	tests := []struct {
		name          string
		x             []float64
		y             []float64
		wantSlope     float64
		wantIntercept float64
	}{
		{
			name:          "Exact line y=2x+1",
			x:             []float64{1, 2, 3, 4, 5},
			y:             []float64{3, 5, 7, 9, 11},
			wantSlope:     2.0,
			wantIntercept: 1.0,
		},
		{
			name:          "Flat line",
			x:             []float64{1, 2, 3, 4},
			y:             []float64{7, 7, 7, 7},
			wantSlope:     0.0,
			wantIntercept: 7.0,
		},
		{
			name:          "Negative slope",
			x:             []float64{0, 1, 2, 3},
			y:             []float64{10, 8, 6, 4},
			wantSlope:     -2.0,
			wantIntercept: 10.0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			slope, intercept := LinearRegression(tt.x, tt.y)
			if !almostEqual(slope, tt.wantSlope, 1e-9) {
				t.Errorf("slope = %v, want %v", slope, tt.wantSlope)
			}
			if !almostEqual(intercept, tt.wantIntercept, 1e-9) {
				t.Errorf("intercept = %v, want %v", intercept, tt.wantIntercept)
			}
		})
	}
}

func TestRegressThroughOrigin(t *testing.T) {
	// y = 2x 无截距回归的精确解
	x := []float64{50, 50.5, 51}
	y := []float64{100, 101, 102}
	if beta := RegressThroughOrigin(x, y); !almostEqual(beta, 2.0, 1e-9) {
		t.Errorf("beta = %v, want 2.0", beta)
	}

	if beta := RegressThroughOrigin([]float64{0, 0}, []float64{1, 2}); beta != 0 {
		t.Errorf("zero regressor beta = %v, want 0", beta)
	}
}

func TestOLS(t *testing.T) {
	// y = 1 + 2*x1 + 3*x2，完全拟合
	X := [][]float64{
		{1, 1, 1},
		{1, 2, 1},
		{1, 3, 2},
		{1, 4, 2},
		{1, 5, 4},
	}
	y := []float64{6, 8, 13, 15, 23}

	result, ok := OLS(X, y)
	if !ok {
		t.Fatal("OLS() failed on well-posed system")
	}

	want := []float64{1, 2, 3}
	for i, w := range want {
		if !almostEqual(result.Coefficients[i], w, 1e-8) {
			t.Errorf("coef[%d] = %v, want %v", i, result.Coefficients[i], w)
		}
	}
	if result.SSR > 1e-12 {
		t.Errorf("SSR = %v, want ~0 for exact fit", result.SSR)
	}
	for i, r := range result.Residuals {
		if !almostEqual(r, 0, 1e-7) {
			t.Errorf("residual[%d] = %v, want 0", i, r)
		}
	}
}

func TestOLSErrors(t *testing.T) {
	// 观测数少于参数数
	X := [][]float64{{1, 2}}
	y := []float64{3}
	if _, ok := OLS(X, y); ok {
		t.Error("expected failure for underdetermined system")
	}

	// 完全共线的设计矩阵不可逆
	collinear := [][]float64{
		{1, 2},
		{2, 4},
		{3, 6},
	}
	if _, ok := OLS(collinear, []float64{1, 2, 3}); ok {
		t.Error("expected failure for singular design matrix")
	}
}
