package patch

import (
	"fmt"
)

func ValidatePatchOperations(ops []Operation, allowedPaths map[string]bool) error {
	if len(ops) == 0 {
		return nil
	}
	for i, op := range ops {
		switch op.Op {
		case OperationAdd, OperationReplace, OperationRemove:
		default:
			return fmt.Errorf("operation %d: unsupported op %q", i, op.Op)
		}
		if err := validatePathAllowed(op.Path, allowedPaths); err != nil {
			return fmt.Errorf("operation %d: %w", i, err)
		}
	}
	return nil
}

func validatePathAllowed(path string, allowedPaths map[string]bool) error {
	if allowedPaths[path] {
		return nil
	}
	return fmt.Errorf("path %q is not in the allowed paths set", path)
}
