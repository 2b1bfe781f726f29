package explanation

import "time"

// TypeLIME is the only explanation method.
const TypeLIME = "LIME"

// Impact directions of a feature on the success probability
const (
	ImpactPositive = "POSITIVE"
	ImpactNegative = "NEGATIVE"
	ImpactNeutral  = "NEUTRAL"
)

type (
	// Prediction is the prediction-service view of a scored student.
	Prediction struct {
		ID                 string   `json:"id"`
		StudentID          string   `json:"student_id"`
		ModuleID           int64    `json:"module_id"`
		SuccessProbability float64  `json:"success_probability"`
		DropoutProbability float64  `json:"dropout_probability"`
		RiskLevel          string   `json:"risk_level"`
		PredictedGrade     *float64 `json:"predicted_grade"`
		ConfidenceScore    float64  `json:"confidence_score"`
	}

	// Factor is one entry of the feature importance list stored with an explanation.
	Factor struct {
		FeatureName     string  `json:"feature_name"`
		ImportanceScore float64 `json:"importance_score"`
		FeatureValue    float64 `json:"feature_value"`
		ImpactDirection string  `json:"impact_direction"`
	}

	Explanation struct {
		ID                string             `json:"id"`
		StudentID         string             `json:"student_id"`
		ModuleID          int64              `json:"module_id"`
		PredictionID      *string            `json:"prediction_id"`
		ExplanationType   string             `json:"explanation_type"`
		ExplanationData   map[string]float64 `json:"explanation_data"`
		FeatureImportance []Factor           `json:"feature_importance"` // sorted by |importance| desc
		LocalPrediction   *float64           `json:"local_prediction"`
		ConfidenceScore   *float64           `json:"confidence_score"`
		CreatedAt         time.Time          `json:"created_at"` // UTC

		// Prediction is only set on freshly computed explanations.
		Prediction *Prediction `json:"prediction,omitempty"`
	}

	// FeatureImportance is the stored importance of one feature in one explanation.
	FeatureImportance struct {
		ID              string    `json:"id"`
		StudentID       string    `json:"student_id"`
		ModuleID        int64     `json:"module_id"`
		ExplanationID   *string   `json:"explanation_id"`
		FeatureName     string    `json:"feature_name"`
		ImportanceScore float64   `json:"importance_score"`
		FeatureValue    *float64  `json:"feature_value"`
		ImpactDirection string    `json:"impact_direction"`
		CreatedAt       time.Time `json:"created_at"` // UTC
	}
)

// Impact classifies an importance score.
func Impact(score float64) string {
	switch {
	case score > 0:
		return ImpactPositive
	case score < 0:
		return ImpactNegative
	}
	return ImpactNeutral
}

// Positive returns the factors pushing the success probability up, in order.
func Positive(factors []Factor) []Factor {
	return filter(factors, ImpactPositive)
}

// Negative returns the factors pulling the success probability down, in order.
func Negative(factors []Factor) []Factor {
	return filter(factors, ImpactNegative)
}

func filter(factors []Factor, impact string) []Factor {
	out := make([]Factor, 0, len(factors))
	for _, f := range factors {
		if f.ImpactDirection == impact {
			out = append(out, f)
		}
	}
	return out
}

// Top returns the first n factors, or all of them when n <= 0.
func Top(factors []Factor, n int) []Factor {
	if n <= 0 || n >= len(factors) {
		return factors
	}
	return factors[:n]
}
