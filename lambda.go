// Package b2lambda holds helpers shared by the Lambda0 selection tools:
// the default ntuple layout, feature list flags and chart tick markers.
package b2lambda

const (
	// TreeName is the ntuple written by the reconstruction step.
	TreeName = "lambda"
	// LabelColumn is the MC truth flag of a reconstructed candidate.
	LabelColumn = "isSignal"
	// ScoreColumn is the branch added to scored ntuples.
	ScoreColumn = "mva"
)

// DefaultFeatures is the starting Lambda0 -> p pi- feature list.
func DefaultFeatures() []string {
	return []string{
		"dr", "dz", "cosaXY", "min_dr", "min_dz", "pt", "pz", "chiProb",
		"proton_PIDppi", "proton_PIDpk", "proton_PIDkpi", "proton_p",
		"pi_PIDppi", "pi_PIDpk", "pi_PIDkpi", "pi_p",
	}
}
