package messagequeue

import (
	"fmt"
	"strings"

	"github.com/goccy/go-json"
)

// Validate checks whether data is valid JSON conforming to the schema
// associated with the given subject. Unknown subjects pass validation.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}

	var target any
	switch {
	case strings.HasPrefix(subject, SubjectRefresh+"."), subject == SubjectRefresh:
		target = &RefreshRequestPayload{}
	case strings.HasPrefix(subject, SubjectEvents+"."):
		target = &EventPayload{}
	default:
		return nil
	}

	if err := json.Unmarshal(data, target); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	return nil
}

// RefreshAction resolves the action named by a refresh request: the subject
// suffix wins over the payload name.
func RefreshAction(subject string, p RefreshRequestPayload) string {
	if name, ok := strings.CutPrefix(subject, SubjectRefresh+"."); ok && name != "" {
		return name
	}
	return p.Name
}
