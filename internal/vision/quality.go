package vision

// QualityGrade summarizes how usable the analyzed video was.
type QualityGrade string

const (
	QualityGood     QualityGrade = "good"
	QualityDegraded QualityGrade = "degraded"
	QualityPoor     QualityGrade = "poor"
)

// qualityInputs is everything gradeQuality looks at.
type qualityInputs struct {
	hasFace, hasPose bool

	expected     float64
	analyzed     int
	faceDetected int
	cameraDrop   bool
}

// gradeQuality grades a recording from sample yield and, when a face detector
// is configured, face detection rate and camera continuity.
func gradeQuality(in qualityInputs) QualityGrade {
	if (!in.hasFace && !in.hasPose) || in.expected <= 0 {
		return QualityPoor
	}
	ratio := float64(in.analyzed) / in.expected

	if !in.hasFace {
		switch {
		case ratio < 0.5:
			return QualityPoor
		case ratio >= 0.8:
			return QualityGood
		default:
			return QualityDegraded
		}
	}

	var faceRate float64
	if in.analyzed > 0 {
		faceRate = float64(in.faceDetected) / float64(in.analyzed)
	}
	switch {
	case ratio < 0.5 || faceRate < 0.3:
		return QualityPoor
	case ratio >= 0.8 && faceRate >= 0.6 && !in.cameraDrop:
		return QualityGood
	default:
		return QualityDegraded
	}
}
