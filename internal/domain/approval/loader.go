package approval

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// policyFile is the on-disk shape of a policy override file.
type policyFile struct {
	Actions map[string]PolicyEntry `yaml:"actions"`
}

// LoadPolicyFile reads per-action overrides from a YAML file and applies them
// over a copy of the default table. A missing file yields the defaults.
// An entry without auto_approve_hours never auto-resolves.
//
//	actions:
//	  program_modification:
//	    severity: high
//	    justification: "..."
//	    auto_approve_hours: 6
func LoadPolicyFile(path string) (PolicyTable, error) {
	table := DefaultPolicyTable()
	if path == "" {
		return table, nil
	}

	data, err := os.ReadFile(path) //nolint:gosec // G304: path comes from operator config
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return table, nil
		}
		return nil, fmt.Errorf("read policy file %s: %w", path, err)
	}

	var f policyFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse policy file %s: %w", path, err)
	}

	for name, entry := range f.Actions {
		a, ok := ParseActionType(name)
		if !ok {
			return nil, fmt.Errorf("policy file %s: unknown action type %q", path, name)
		}
		if err := entry.validate(a); err != nil {
			return nil, fmt.Errorf("policy file %s: %s: %w", path, name, err)
		}
		table[a] = entry
	}
	return table, nil
}

// Validate checks every entry in the table.
func (t PolicyTable) Validate() error {
	for a, e := range t {
		if !a.Valid() {
			return fmt.Errorf("unknown action type %q", a)
		}
		if err := e.validate(a); err != nil {
			return fmt.Errorf("%s: %w", a, err)
		}
	}
	return nil
}

func (e PolicyEntry) validate(a ActionType) error {
	if !e.Severity.Valid() {
		return fmt.Errorf("invalid severity %q", e.Severity)
	}
	if e.Justification == "" {
		return errors.New("justification is required")
	}
	if e.AutoApproveHours != nil && *e.AutoApproveHours <= 0 {
		return errors.New("auto_approve_hours must be > 0 or null")
	}
	if neverAutoResolve[a] && e.AutoApproveHours != nil {
		return errors.New("action type must never auto-resolve")
	}
	return nil
}
