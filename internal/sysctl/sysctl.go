// Package sysctl implements the wire-level read/write mechanics for any
// file reachable as /proc/sys/<dotted-path-with-slashes>, read and written
// as newline-terminated whitespace-separated integer tuples, plus the
// namespace-entering write path namespaced tunables require.
package sysctl

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// Path converts a canonical dotted tunable name (e.g. net.ipv4.tcp_wmem)
// into its /proc/sys file path.
func Path(name string) string {
	return "/proc/sys/" + strings.ReplaceAll(name, ".", "/")
}

// Read parses the sysctl file for name into up to 3 int64 components. arity
// controls how many components are expected; trailing unused slots are left
// zero.
func Read(name string, arity int) ([3]int64, error) {
	var out [3]int64

	data, err := os.ReadFile(Path(name))
	if err != nil {
		return out, fmt.Errorf("read sysctl %s: %w", name, err)
	}

	fields := strings.Fields(string(data))
	if len(fields) < arity {
		return out, fmt.Errorf("read sysctl %s: expected %d components, got %d", name, arity, len(fields))
	}

	for i := 0; i < arity; i++ {
		v, err := strconv.ParseInt(fields[i], 10, 64)
		if err != nil {
			return out, fmt.Errorf("read sysctl %s: parse component %d: %w", name, i, err)
		}
		out[i] = v
	}
	return out, nil
}

// Write renders values[0:arity] as a whitespace-separated, newline-terminated
// tuple and writes it to name's sysctl file.
func Write(name string, arity int, values [3]int64) error {
	fields := make([]string, arity)
	for i := 0; i < arity; i++ {
		fields[i] = strconv.FormatInt(values[i], 10)
	}
	line := strings.Join(fields, "\t") + "\n"

	if err := os.WriteFile(Path(name), []byte(line), 0o644); err != nil {
		return fmt.Errorf("write sysctl %s: %w", name, err)
	}
	return nil
}
