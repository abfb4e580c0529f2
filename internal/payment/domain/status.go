package domain

import "strings"

// StatusTable maps lower-cased vendor statuses to canonical ones.
type StatusTable map[string]PaymentStatus

// Map is total: unmapped and empty values become UNKNOWN.
func (t StatusTable) Map(raw string) PaymentStatus {
	key := strings.ToLower(strings.TrimSpace(raw))
	if key == "" {
		return StatusUnknown
	}
	if status, ok := t[key]; ok {
		return status
	}
	return StatusUnknown
}

// Vocabulary returns the known vendor statuses.
func (t StatusTable) Vocabulary() []string {
	out := make([]string, 0, len(t))
	for key := range t {
		out = append(out, key)
	}
	return out
}

// ResultLabel converts a success flag into the SUCCESS/FAIL label used by status responses.
func ResultLabel(success bool) string {
	if success {
		return ResultSuccess
	}
	return ResultFail
}
