package assert

import (
	"fmt"
	"path/filepath"
	"runtime"
)

// Assert panics with the caller's location when condition does not hold.
// It guards internal invariants only; expected failures are returned as errors.
func Assert(condition bool, args ...any) {
	if condition {
		return
	}

	_, file, line, ok := runtime.Caller(1)
	if !ok {
		file = "unknown"
		line = 0
	}

	location := fmt.Sprintf("%s:%d", filepath.Base(file), line)
	if len(args) == 0 {
		panic(fmt.Sprintf("Assertion failed at %s\n", location))
	}

	format, ok := args[0].(string)
	if !ok {
		panic(fmt.Sprintf("Assertion failed at %s: %v\n", location, args))
	}

	panic(fmt.Sprintf(
		"Assertion failed: %s at %s\n",
		fmt.Sprintf(format, args[1:]...),
		location,
	))
}

func NoError(err error) {
	Assert(err == nil, "expected no error, got: %v", err)
}
