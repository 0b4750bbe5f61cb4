package optimization

// LossHelpEntry documents one loss type for CLI and API users.
type LossHelpEntry struct {
	Type LossKind          `json:"type"`
	Help string            `json:"help"`
	Args map[string]string `json:"args"`
}

// LossHelp returns the documentation of every recognized loss type.
func LossHelp() []LossHelpEntry {
	return []LossHelpEntry{
		{
			Type: LossExpectedReturn,
			Help: "Penalizes smaller expected values",
			Args: map[string]string{},
		},
		{
			Type: LossVariance,
			Help: "Penalizes larger variance values",
			Args: map[string]string{},
		},
		{
			Type: LossTargetReturn,
			Help: "Places an L2 loss around a target expected value, pulling the portfolio's expected value towards the target",
			Args: map[string]string{
				"target_exp": "target expected value",
			},
		},
		{
			Type: LossGroupProportion,
			Help: "Places a loss around the proportion of the portfolio that a group of assets takes up",
			Args: map[string]string{
				"indices":   "Positions or identifiers of the assets in the group",
				"target":    "target proportion",
				"both_dirs": "If true, smaller proportions are penalized too. If not, only larger proportions are penalized",
			},
		},
	}
}
