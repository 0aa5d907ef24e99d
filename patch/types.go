package patch

const (
	OperationAdd     = "add"
	OperationReplace = "replace"
	OperationRemove  = "remove"
)

type Operation struct {
	Op    string `json:"op"`
	Path  string `json:"path"`
	Value any    `json:"value,omitempty"`
}

// SetField builds an operation that stores value under label.
// Replace is downgraded to add by FixOperation when the label is not yet set.
func SetField(label, value string) Operation {
	return Operation{Op: OperationReplace, Path: LabelPath(label), Value: value}
}
