package mysql

import (
	"encoding/json"
	"strings"

	domain "github.com/bryanwahyu/automaton-lint/internal/domain/analysis"
)

// stringOrDash returns "-" when the input is empty/whitespace
func stringOrDash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

func encodeTools(t map[domain.ToolID]domain.ToolReport) ([]byte, error) {
	if len(t) == 0 {
		return []byte("{}"), nil
	}
	return json.Marshal(t)
}

func decodeTools(b []byte) (map[domain.ToolID]domain.ToolReport, error) {
	if len(b) == 0 {
		return nil, nil
	}
	var out map[domain.ToolID]domain.ToolReport
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, nil
	}
	return out, nil
}
