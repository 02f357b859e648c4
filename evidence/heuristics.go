package evidence

import (
	"bytes"
	"image"
	"strings"

	_ "image/jpeg"
	_ "image/png"
)

// Flag names appended to evidence records. Stable strings: reviewers and
// dashboards key off them.
const (
	FlagFileTooSmall       = "file_too_small"
	FlagFileTooLarge       = "file_too_large"
	FlagUnusualFormat      = "unusual_format"
	FlagEditingSoftware    = "editing_software_detected"
	FlagUnusualCompression = "unusual_compression"
	FlagDuplicateImage     = "duplicate_image"
)

const (
	minPayloadBytes = 10_000
	maxPayloadBytes = 5_000_000

	weightFileTooSmall       = 25
	weightFileTooLarge       = 15
	weightUnusualFormat      = 30
	weightEditingSoftware    = 40
	weightUnusualCompression = 20
	weightDuplicateImage     = 30

	maxRiskScore      = 100
	highRiskThreshold = 50

	minCompressionRatio = 0.1
	maxCompressionRatio = 2.0
)

var acceptedMIMETypes = map[string]struct{}{
	"image/jpeg": {},
	"image/jpg":  {},
	"image/png":  {},
}

// Signature fragments left behind by common editing tools. Matched as raw
// byte substrings against the payload, which covers EXIF Software tags and
// XMP CreatorTool blocks without a full metadata parse.
var editingMarkers = [][]byte{
	[]byte("Adobe Photoshop"),
	[]byte("Photoshop 3.0"),
	[]byte("Adobe ImageReady"),
	[]byte("GIMP"),
	[]byte("Canva"),
	[]byte("Pixelmator"),
	[]byte("xmp:CreatorTool"),
}

// Assessment is the advisory fraud verdict for one upload. It never blocks
// storage; it only annotates the record for review or auto-threshold checks.
type Assessment struct {
	Flags     []string
	RiskScore int
	HighRisk  bool
}

// Score applies each heuristic independently and sums the weights, capped at
// 100. Deterministic for identical inputs and never fails: an unreadable
// payload simply skips the rules that need image structure.
func Score(data []byte, declaredMIME string) Assessment {
	assessment := Assessment{Flags: make([]string, 0, 4)}

	if len(data) < minPayloadBytes {
		assessment.add(FlagFileTooSmall, weightFileTooSmall)
	}
	if len(data) > maxPayloadBytes {
		assessment.add(FlagFileTooLarge, weightFileTooLarge)
	}
	mime := strings.ToLower(strings.TrimSpace(declaredMIME))
	if _, ok := acceptedMIMETypes[mime]; !ok {
		assessment.add(FlagUnusualFormat, weightUnusualFormat)
	}
	if containsEditingMarker(data) {
		assessment.add(FlagEditingSoftware, weightEditingSoftware)
	}
	if ratio, ok := compressionRatio(data); ok {
		if ratio < minCompressionRatio || ratio > maxCompressionRatio {
			assessment.add(FlagUnusualCompression, weightUnusualCompression)
		}
	}

	if assessment.RiskScore > maxRiskScore {
		assessment.RiskScore = maxRiskScore
	}
	assessment.HighRisk = assessment.RiskScore >= highRiskThreshold
	return assessment
}

func (a *Assessment) add(flag string, weight int) {
	a.Flags = append(a.Flags, flag)
	a.RiskScore += weight
}

func containsEditingMarker(data []byte) bool {
	for _, marker := range editingMarkers {
		if bytes.Contains(data, marker) {
			return true
		}
	}
	return false
}

// compressionRatio compares the encoded size against an uncompressed RGB
// estimate derived from the image header. Payloads whose dimensions cannot be
// decoded report ok=false and skip the rule.
func compressionRatio(data []byte) (float64, bool) {
	cfg, _, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil || cfg.Width <= 0 || cfg.Height <= 0 {
		return 0, false
	}
	decoded := float64(cfg.Width) * float64(cfg.Height) * 3
	if decoded == 0 {
		return 0, false
	}
	return float64(len(data)) / decoded, true
}
