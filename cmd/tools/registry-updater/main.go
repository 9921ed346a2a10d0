// registry-updater edits and checks the activity registry that the voice
// workers validate their job variables against.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"strconv"

	"voicemart/pkg/registry"
)

const defaultPath = "pkg/registry/activities.json"

func main() {
	if len(os.Args) < 2 {
		help()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "list":
		err = list(os.Args[2:])
	case "show":
		err = show(os.Args[2:])
	case "update":
		err = update(os.Args[2:])
	case "validate":
		err = validate(os.Args[2:])
	default:
		help()
		return
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s: %v\n", os.Args[1], err)
		os.Exit(1)
	}
}

func list(args []string) error {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	path := fs.String("path", defaultPath, "Path to registry file")
	fs.Parse(args)

	reg, err := registry.LoadRegistry(*path)
	if err != nil {
		return err
	}
	for _, a := range reg.Activities {
		fmt.Printf("%-24s %-28s %-10s %s\n", a.TaskType, a.ID, a.ImplementationStatus, a.Timeout)
	}
	return nil
}

func show(args []string) error {
	fs := flag.NewFlagSet("show", flag.ExitOnError)
	path := fs.String("path", defaultPath, "Path to registry file")
	taskType := fs.String("taskType", "", "Zeebe task type")
	fs.Parse(args)

	reg, err := registry.LoadRegistry(*path)
	if err != nil {
		return err
	}
	a, ok := reg.Find(*taskType)
	if !ok {
		return fmt.Errorf("task type %q not registered", *taskType)
	}
	out, err := json.MarshalIndent(a, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func update(args []string) error {
	fs := flag.NewFlagSet("update", flag.ExitOnError)
	path := fs.String("path", defaultPath, "Path to registry file")
	taskType := fs.String("taskType", "", "Zeebe task type")
	field := fs.String("field", "", "Field to update (status, version, timeout, retries, description)")
	value := fs.String("value", "", "New value")
	fs.Parse(args)

	if *taskType == "" || *field == "" || *value == "" {
		fs.Usage()
		return fmt.Errorf("taskType, field and value are required")
	}

	reg, err := registry.LoadRegistry(*path)
	if err != nil {
		return err
	}

	idx := -1
	for i := range reg.Activities {
		if reg.Activities[i].TaskType == *taskType {
			idx = i
			break
		}
	}
	if idx < 0 {
		return fmt.Errorf("task type %q not registered", *taskType)
	}

	a := &reg.Activities[idx]
	switch *field {
	case "status":
		a.ImplementationStatus = *value
	case "version":
		a.Version = *value
	case "timeout":
		a.Timeout = *value
	case "description":
		a.Description = *value
	case "retries":
		n, err := strconv.Atoi(*value)
		if err != nil {
			return fmt.Errorf("invalid retries value: %w", err)
		}
		a.Retries = n
	default:
		return fmt.Errorf("unknown field: %s", *field)
	}

	if err := reg.Validate(); err != nil {
		return err
	}
	if err := registry.SaveRegistry(reg, *path); err != nil {
		return err
	}
	fmt.Printf("Updated %s: %s = %s\n", *taskType, *field, *value)
	return nil
}

func validate(args []string) error {
	fs := flag.NewFlagSet("validate", flag.ExitOnError)
	path := fs.String("path", defaultPath, "Path to registry file")
	fs.Parse(args)

	reg, err := registry.LoadRegistry(*path)
	if err != nil {
		return err
	}
	if len(reg.Activities) == 0 {
		return fmt.Errorf("registry contains no activities")
	}
	if err := reg.Validate(); err != nil {
		return err
	}
	fmt.Printf("Registry validation passed. Found %d activities.\n", len(reg.Activities))
	return nil
}

func help() {
	fmt.Println(`
Usage: registry-updater <command> [flags]

Commands:
  list      List registered activities
  show      Print one activity, including its schemas
  update    Update a field of an activity
  validate  Check ids, task types, timeouts and schemas

Examples:
  registry-updater show -taskType understand-utterance
  registry-updater update -taskType understand-utterance -field timeout -value 15s
  registry-updater validate -path pkg/registry/activities.json`)
}
