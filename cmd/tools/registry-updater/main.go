// cmd/tools/registry-updater/main.go
package main

import (
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	apperrors "permit-workers/internal/common/errors"
	"permit-workers/internal/common/validation"
	"permit-workers/pkg/registry"
)

var registryPath string

// knownErrorCodes are the codes a permit worker can report to the broker.
var knownErrorCodes = map[string]bool{
	string(apperrors.ErrCodeValidationFailed):    true,
	string(apperrors.ErrCodeNotFound):            true,
	string(apperrors.ErrCodeAuthorizationDenied): true,
	string(apperrors.ErrCodeInvalidTransition):   true,
	string(apperrors.ErrCodeTransitionConflict):  true,
	string(apperrors.ErrCodeAllocationFailed):    true,
	string(apperrors.ErrCodeDatabaseFailed):      true,
	string(apperrors.ErrCodeTimeout):             true,
	string(apperrors.ErrCodeExternalService):     true,
	string(apperrors.ErrCodeInternal):            true,
}

func main() {
	updateCmd := flag.NewFlagSet("update", flag.ExitOnError)
	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	checkCmd := flag.NewFlagSet("check", flag.ExitOnError)

	for _, fs := range []*flag.FlagSet{updateCmd, validateCmd, checkCmd} {
		fs.StringVar(&registryPath, "path", "configs/activity-registry.json", "Path to registry file")
	}

	taskUpdate := updateCmd.String("taskType", "", "Task type of the activity to update")
	field := updateCmd.String("field", "", "Field to update (status, version, timeout, retries, description)")
	value := updateCmd.String("value", "", "New value for the field")

	taskCheck := checkCmd.String("taskType", "", "Task type whose input schema to check against")
	varsFile := checkCmd.String("vars", "", "JSON file holding the job variables")

	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "update":
		updateCmd.Parse(os.Args[2:])
		if *taskUpdate == "" || *field == "" || *value == "" {
			fmt.Println("Error: taskType, field, and value are required for update.")
			updateCmd.Usage()
			os.Exit(1)
		}
		if err = updateActivity(*taskUpdate, *field, *value); err == nil {
			fmt.Printf("Updated %s.%s\n", *taskUpdate, *field)
		}

	case "validate":
		validateCmd.Parse(os.Args[2:])
		err = validateRegistry()

	case "check":
		checkCmd.Parse(os.Args[2:])
		if *taskCheck == "" || *varsFile == "" {
			fmt.Println("Error: taskType and vars are required for check.")
			checkCmd.Usage()
			os.Exit(1)
		}
		if err = checkVariables(*taskCheck, *varsFile); err == nil {
			fmt.Printf("Variables are valid input for %s\n", *taskCheck)
		}

	default:
		help()
		return
	}

	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func updateActivity(taskType, field, value string) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}

	activity, ok := reg.Find(taskType)
	if !ok {
		return fmt.Errorf("activity with task type %s not found", taskType)
	}

	switch field {
	case "status":
		activity.ImplementationStatus = value
	case "version":
		activity.Version = value
	case "description":
		activity.Description = value
	case "timeout":
		if _, err := time.ParseDuration(value); err != nil {
			return fmt.Errorf("invalid timeout value: %w", err)
		}
		activity.Timeout = value
	case "retries":
		retries, err := strconv.Atoi(value)
		if err != nil || retries < 0 {
			return fmt.Errorf("invalid retries value %q", value)
		}
		activity.Retries = retries
	default:
		return fmt.Errorf("unknown field: %s", field)
	}

	reg.LastUpdated = time.Now().Format("2006-01-02")
	return saveRegistry(reg, registryPath)
}

// validateRegistry loads the file the worker manager loads, compiles every
// input schema and checks the declared error codes.
func validateRegistry() error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	if len(reg.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}
	if _, err := validation.NewSchemaValidator(reg); err != nil {
		return err
	}

	var problems []error
	for _, a := range reg.Activities {
		if len(a.InputSchema) == 0 {
			problems = append(problems, fmt.Errorf("%s has no input schema", a.TaskType))
		}
		if a.Timeout != "" {
			if _, err := time.ParseDuration(a.Timeout); err != nil {
				problems = append(problems, fmt.Errorf("%s timeout: %w", a.TaskType, err))
			}
		}
		for _, code := range a.ErrorCodes {
			if !knownErrorCodes[code] {
				problems = append(problems, fmt.Errorf("%s declares unknown error code %s", a.TaskType, code))
			}
		}
	}
	if len(problems) > 0 {
		return errors.Join(problems...)
	}

	fmt.Printf("Registry validation passed. Found %d activities.\n", len(reg.Activities))
	for _, a := range reg.Activities {
		fmt.Printf("  %-28s %-8s %s\n", a.TaskType, a.Timeout, a.DisplayName)
	}
	return nil
}

func checkVariables(taskType, path string) error {
	reg, err := registry.LoadRegistry(registryPath)
	if err != nil {
		return fmt.Errorf("failed to load registry: %w", err)
	}
	v, err := validation.NewSchemaValidator(reg)
	if err != nil {
		return err
	}
	if !v.Has(taskType) {
		return fmt.Errorf("no input schema registered for %s", taskType)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var vars map[string]interface{}
	if err := json.Unmarshal(data, &vars); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	return v.Validate(taskType, vars)
}

func saveRegistry(reg *registry.ActivityRegistry, path string) error {
	data, err := json.MarshalIndent(reg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal registry: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write registry file: %w", err)
	}
	return nil
}

func help() {
	fmt.Print(`
Usage: registry-updater <command> [flags]

Commands:
  update    Update a field of an existing activity
  validate  Compile every input schema and check declared error codes
  check     Validate a job variables file against a task type's input schema
  help      Show this help message

Examples:
  registry-updater update -taskType permit-record-payment -field timeout -value 15s
  registry-updater validate -path configs/activity-registry.json
  registry-updater check -taskType permit-issue-permit -vars vars.json

Use 'registry-updater <command> -h' for more information about a command.
` + "\n")
}
