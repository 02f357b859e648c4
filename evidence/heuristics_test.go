package evidence

import (
	"bytes"
	"encoding/base64"
	"testing"
)

func plausiblePayload(size int) []byte {
	payload := make([]byte, size)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	return payload
}

func hasFlag(flags []string, flag string) bool {
	for _, f := range flags {
		if f == flag {
			return true
		}
	}
	return false
}

func TestScoreCleanPayload(t *testing.T) {
	assessment := Score(plausiblePayload(50_000), "image/jpeg")
	if len(assessment.Flags) != 0 {
		t.Fatalf("expected no flags, got %v", assessment.Flags)
	}
	if assessment.RiskScore != 0 {
		t.Fatalf("expected zero score, got %d", assessment.RiskScore)
	}
	if assessment.HighRisk {
		t.Fatal("clean payload marked high risk")
	}
}

func TestScoreFileTooSmall(t *testing.T) {
	assessment := Score(plausiblePayload(500), "image/png")
	if !hasFlag(assessment.Flags, FlagFileTooSmall) {
		t.Fatalf("expected %s flag, got %v", FlagFileTooSmall, assessment.Flags)
	}
	if assessment.RiskScore != weightFileTooSmall {
		t.Fatalf("expected score %d, got %d", weightFileTooSmall, assessment.RiskScore)
	}
}

func TestScoreFileTooLarge(t *testing.T) {
	assessment := Score(plausiblePayload(maxPayloadBytes+1), "image/jpeg")
	if !hasFlag(assessment.Flags, FlagFileTooLarge) {
		t.Fatalf("expected %s flag, got %v", FlagFileTooLarge, assessment.Flags)
	}
}

func TestScoreUnusualFormat(t *testing.T) {
	assessment := Score(plausiblePayload(50_000), "application/pdf")
	if !hasFlag(assessment.Flags, FlagUnusualFormat) {
		t.Fatalf("expected %s flag, got %v", FlagUnusualFormat, assessment.Flags)
	}
	// MIME comparisons are case-insensitive.
	clean := Score(plausiblePayload(50_000), "IMAGE/JPEG")
	if hasFlag(clean.Flags, FlagUnusualFormat) {
		t.Fatalf("uppercase declared type flagged: %v", clean.Flags)
	}
}

func TestScoreEditingSoftware(t *testing.T) {
	payload := append(plausiblePayload(40_000), []byte("Adobe Photoshop 25.0")...)
	assessment := Score(payload, "image/jpeg")
	if !hasFlag(assessment.Flags, FlagEditingSoftware) {
		t.Fatalf("expected %s flag, got %v", FlagEditingSoftware, assessment.Flags)
	}
	if !assessment.HighRisk {
		t.Fatalf("score %d should cross the review threshold", assessment.RiskScore)
	}
}

// tinyPNG is a valid 1x1 image, so the compression heuristic sees a ratio
// far above anything a camera produces.
func tinyPNG(t *testing.T) []byte {
	t.Helper()
	const encoded = "iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNkYPhfDwAChwGA60e6kgAAAABJRU5ErkJggg=="
	decoded, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		t.Fatalf("decode fixture: %v", err)
	}
	return decoded
}

func TestScoreAdditiveAndCapped(t *testing.T) {
	payload := bytes.Join([][]byte{plausiblePayload(100), []byte("GIMP 2.10"), []byte("xmp:CreatorTool")}, nil)
	assessment := Score(payload, "text/plain")
	// file_too_small + unusual_format + editing_software: 25 + 30 + 40.
	if assessment.RiskScore != 95 {
		t.Fatalf("expected additive score 95, got %d", assessment.RiskScore)
	}

	// All four triggered rules sum to 115; the score must cap at 100.
	extreme := append(tinyPNG(t), []byte("Canva")...)
	capped := Score(extreme, "text/plain")
	if !hasFlag(capped.Flags, FlagUnusualCompression) {
		t.Fatalf("expected %s flag, got %v", FlagUnusualCompression, capped.Flags)
	}
	if capped.RiskScore != maxRiskScore {
		t.Fatalf("expected capped score %d, got %d", maxRiskScore, capped.RiskScore)
	}
	if !capped.HighRisk {
		t.Fatal("capped score should mark high risk")
	}
}

func TestScoreDeterministic(t *testing.T) {
	payload := append(plausiblePayload(2_000), []byte("Pixelmator")...)
	first := Score(payload, "image/bmp")
	second := Score(payload, "image/bmp")
	if first.RiskScore != second.RiskScore || len(first.Flags) != len(second.Flags) {
		t.Fatalf("assessments diverge: %+v vs %+v", first, second)
	}
}

func TestScoreUndecodableImageSkipsCompressionRule(t *testing.T) {
	assessment := Score(plausiblePayload(50_000), "image/jpeg")
	if hasFlag(assessment.Flags, FlagUnusualCompression) {
		t.Fatalf("undecodable payload should skip the compression rule: %v", assessment.Flags)
	}
}
