package messagequeue

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Validate checks that data is JSON conforming to the schema for subject.
// Subjects outside approvals.* only need to be valid JSON.
func Validate(subject string, data []byte) error {
	if !json.Valid(data) {
		return fmt.Errorf("invalid JSON on subject %s", subject)
	}
	if !strings.HasPrefix(subject, "approvals.") {
		return nil
	}

	var p ApprovalEventPayload
	if err := json.Unmarshal(data, &p); err != nil {
		return fmt.Errorf("schema validation failed for %s: %w", subject, err)
	}
	if p.ApprovalID == "" {
		return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("approval_id is required"))
	}
	if p.TrainerID == "" {
		return fmt.Errorf("schema validation failed for %s: %w", subject, errors.New("trainer_id is required"))
	}
	return nil
}
