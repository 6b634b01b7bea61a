package worker

import (
	"fmt"
	"strings"

	"github.com/google/shlex"

	"github.com/phrazzld/studykit/internal/process"
)

// PythonPlaceholder in a configured command template is replaced by the
// configured interpreter.
const PythonPlaceholder = "{python}"

// Command describes one worker invocation.
type Command struct {
	Kind process.Kind
	// Argv is the program followed by its arguments.
	Argv []string
	// Dir is the working directory; empty means the current one.
	Dir string
	Env []string
}

// SplitCommand splits a command template into arguments without involving a
// shell, substitutes the interpreter placeholder, and appends args.
func SplitCommand(template, python string, args ...string) ([]string, error) {
	parts, err := shlex.Split(template)
	if err != nil {
		return nil, fmt.Errorf("invalid command syntax: %w", err)
	}
	if len(parts) == 0 {
		return nil, ErrEmptyCommand
	}
	for i, part := range parts {
		if strings.Contains(part, PythonPlaceholder) {
			parts[i] = strings.ReplaceAll(part, PythonPlaceholder, python)
		}
	}
	return append(parts, args...), nil
}

// String renders the command for logs.
func (c Command) String() string {
	return strings.Join(c.Argv, " ")
}
