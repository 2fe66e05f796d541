package messagequeue

import (
	"strings"
	"testing"
)

func TestValidateApprovalEvent(t *testing.T) {
	data := []byte(`{"approval_id":"a1","trainer_id":"t1","user_id":"u1","status":"pending","expires_at":"2026-03-01T08:00:00Z","occurred_at":"2026-03-01T08:00:00Z"}`)
	for _, s := range []string{SubjectApprovalCreated, SubjectApprovalDecided, SubjectApprovalExpired, SubjectApprovalAutoApproved} {
		if err := Validate(s, data); err != nil {
			t.Errorf("%s: unexpected error: %v", s, err)
		}
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		errStr string
	}{
		{"invalid json", `{not json`, "invalid JSON"},
		{"missing approval id", `{"trainer_id":"t1"}`, "approval_id is required"},
		{"missing trainer id", `{"approval_id":"a1"}`, "trainer_id is required"},
		{"wrong type", `{"approval_id":1,"trainer_id":"t1"}`, "schema validation failed"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Validate(SubjectApprovalCreated, []byte(tt.data))
			if err == nil {
				t.Fatal("expected error")
			}
			if !strings.Contains(err.Error(), tt.errStr) {
				t.Errorf("expected %q in %q", tt.errStr, err.Error())
			}
		})
	}
}

func TestValidateUnknownSubjectOnlyNeedsJSON(t *testing.T) {
	if err := Validate("metrics.tick", []byte(`{"anything":true}`)); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}
