package evidence

import "math"

// Weights sets how much the recognizer and the structuring model each
// contribute to a fused confidence.
type Weights struct {
	Evidence float64
	Model    float64
}

// DefaultWeights trusts recognized text over the model's self-reported
// certainty.
var DefaultWeights = Weights{Evidence: 0.6, Model: 0.4}

// Fuse combines an evidence confidence and a model confidence into one score
// in [0, 1]. Non-finite inputs or results yield 0.
func Fuse(evidenceConf, modelConf float64, w Weights) float64 {
	score := w.Evidence*evidenceConf + w.Model*modelConf
	if math.IsNaN(score) || math.IsInf(score, 0) {
		return 0
	}
	return math.Max(0, math.Min(1, score))
}
