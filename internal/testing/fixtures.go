package testing

// PortfolioFixture is a small optimizer input set
type PortfolioFixture struct {
	Assets []string
	Cov    [][]float64
	Exp    []float64
}

// NewTwoAssetFixture returns two negatively correlated assets whose minimum
// variance allocation is 2/7 and 5/7.
func NewTwoAssetFixture() PortfolioFixture {
	return PortfolioFixture{
		Assets: []string{"A", "B"},
		Cov:    [][]float64{{0.4, -0.1}, {-0.1, 0.1}},
		Exp:    []float64{0.05, 0.07},
	}
}

// NewThreeAssetFixture returns three uncorrelated assets with increasing
// expected return and variance.
func NewThreeAssetFixture() PortfolioFixture {
	return PortfolioFixture{
		Assets: []string{"BOND", "INDEX", "GROWTH"},
		Cov: [][]float64{
			{0.01, 0, 0},
			{0, 0.04, 0},
			{0, 0, 0.09},
		},
		Exp: []float64{0.02, 0.06, 0.10},
	}
}
