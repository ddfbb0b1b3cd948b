package imaging

import "image"

// QualityReport captures the capture-quality signals used to pick OCR
// preprocessing parameters and to explain weak analysis results.
type QualityReport struct {
	Width       int     `json:"width"`
	Height      int     `json:"height"`
	Brightness  float64 `json:"brightness"`
	Contrast    float64 `json:"contrast"`
	Sharpness   float64 `json:"sharpness"`
	LowLight    bool    `json:"lowLight"`
	LowContrast bool    `json:"lowContrast"`
	Blurry      bool    `json:"blurry"`
	SmallImage  bool    `json:"smallImage"`
}

// AssessQuality measures brightness, contrast, and sharpness. Degenerate
// inputs yield a zeroed report rather than an error.
func AssessQuality(img image.Image) QualityReport {
	report := QualityReport{}
	if img == nil {
		return report
	}
	bounds := img.Bounds()
	report.Width = bounds.Dx()
	report.Height = bounds.Dy()
	report.SmallImage = report.Width < 300 || report.Height < 300

	st, err := computeRegionStats(img, bounds)
	if err != nil {
		return report
	}
	report.Brightness = st.meanLum
	report.Contrast = st.lumStd
	report.Sharpness = st.gradientMean
	report.LowLight = st.meanLum < 0.25
	report.LowContrast = st.lumStd < 0.12
	report.Blurry = st.gradientMean < 0.012
	return report
}
