package classifier

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// DefaultUrgencyThreshold is the score at or above which the deterministic
// override forces an escalation.
const DefaultUrgencyThreshold = 0.8

// DefaultUrgencyKeywords maps emergency-sounding keywords to scores. The
// values are hand-tuned configuration data, not load-bearing constants;
// operators can replace the whole table via LoadUrgencyKeywords.
func DefaultUrgencyKeywords() map[string]float64 {
	return map[string]float64{
		"emergency":         1.0,
		"urgent":            0.9,
		"immediate":         0.9,
		"asap":              0.8,
		"critical":          0.9,
		"fire":              1.0,
		"flood":             1.0,
		"water leak":        0.9,
		"leak":              0.8,
		"broken pipe":       0.9,
		"no heat":           0.8,
		"no electricity":    0.9,
		"break in":          1.0,
		"broken":            0.6,
		"not working":       0.5,
		"health and safety": 0.9,
		"injuries":          0.8,
		"damage":            0.7,
	}
}

// LoadUrgencyKeywords reads a keyword->score table from a JSON file.
func LoadUrgencyKeywords(path string) (map[string]float64, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read urgency keywords: %w", err)
	}
	var table map[string]float64
	if err := json.Unmarshal(data, &table); err != nil {
		return nil, fmt.Errorf("failed to parse urgency keywords: %w", err)
	}
	for keyword, score := range table {
		if score < 0 || score > 1 {
			return nil, fmt.Errorf("urgency score for %q out of range: %v", keyword, score)
		}
	}
	return table, nil
}

// UrgencyScore scans subject and body (case-insensitive) against the
// keyword table and returns the maximum matching score, not a sum.
func UrgencyScore(subject, body string, table map[string]float64) float64 {
	combined := strings.ToLower(subject + " " + body)
	var max float64
	for keyword, score := range table {
		if strings.Contains(combined, keyword) && score > max {
			max = score
		}
	}
	return max
}

// emergencySubCategory picks a sub-category for an override by simple
// substring checks on the body.
func emergencySubCategory(body string) string {
	lower := strings.ToLower(body)
	switch {
	case strings.Contains(lower, "water") && strings.Contains(lower, "leak"):
		return "Water Emergency"
	case strings.Contains(lower, "fire"):
		return "Fire Emergency"
	case strings.Contains(lower, "break") && strings.Contains(lower, "in"):
		return "Security Emergency"
	default:
		return "Emergency Situation"
	}
}
