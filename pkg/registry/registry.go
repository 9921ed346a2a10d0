package registry

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"voicemart/internal/common/validation"
)

//go:embed activities.json
var embedded []byte

// LoadRegistry reads a registry file from disk.
func LoadRegistry(path string) (*ActivityRegistry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

func Parse(data []byte) (*ActivityRegistry, error) {
	var reg ActivityRegistry
	if err := json.Unmarshal(data, &reg); err != nil {
		return nil, fmt.Errorf("parse registry: %w", err)
	}
	return &reg, nil
}

// Default returns the registry compiled into the binary.
func Default() (*ActivityRegistry, error) {
	return Parse(embedded)
}

// SaveRegistry writes reg to path, stamping LastUpdated.
func SaveRegistry(reg *ActivityRegistry, path string) error {
	reg.LastUpdated = time.Now().UTC().Format(time.RFC3339)
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(path, append(data, '\n'), 0o644)
}

// Find looks an activity up by its Zeebe task type.
func (r *ActivityRegistry) Find(taskType string) (Activity, bool) {
	for _, a := range r.Activities {
		if a.TaskType == taskType {
			return a, true
		}
	}
	return Activity{}, false
}

// InputValidator compiles the input schema registered for taskType.
func (r *ActivityRegistry) InputValidator(taskType string) (*validation.Validator, error) {
	a, ok := r.Find(taskType)
	if !ok {
		return nil, fmt.Errorf("activity %q not registered", taskType)
	}
	return validation.NewValidator(a.InputSchema)
}

// Validate reports every structural problem in the registry at once.
func (r *ActivityRegistry) Validate() error {
	var errs []error
	ids := make(map[string]bool)
	taskTypes := make(map[string]bool)

	for i, a := range r.Activities {
		if a.ID == "" {
			errs = append(errs, fmt.Errorf("activity %d: missing id", i))
		} else if ids[a.ID] {
			errs = append(errs, fmt.Errorf("activity %s: duplicate id", a.ID))
		}
		ids[a.ID] = true

		if a.TaskType == "" {
			errs = append(errs, fmt.Errorf("activity %s: missing taskType", a.ID))
		} else if taskTypes[a.TaskType] {
			errs = append(errs, fmt.Errorf("activity %s: duplicate taskType %s", a.ID, a.TaskType))
		}
		taskTypes[a.TaskType] = true

		if _, err := a.JobTimeout(); err != nil {
			errs = append(errs, fmt.Errorf("activity %s: bad timeout %q", a.ID, a.Timeout))
		}
		if _, err := validation.NewValidator(a.InputSchema); err != nil {
			errs = append(errs, fmt.Errorf("activity %s: input schema: %w", a.ID, err))
		}
		if _, err := validation.NewValidator(a.OutputSchema); err != nil {
			errs = append(errs, fmt.Errorf("activity %s: output schema: %w", a.ID, err))
		}
	}
	return errors.Join(errs...)
}
