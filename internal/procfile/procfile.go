// Package procfile parses the line-oriented process declaration format: one
// "name: command" pair per line, blank lines and #-comments ignored.
package procfile

import (
	"strings"

	"slugforge/internal/domain"
)

// Process is one declared process: a name and the shell command that runs it.
type Process struct {
	Name    string
	Command string
}

// Parse parses raw Procfile text into an ordered list of processes. Any
// non-blank, non-comment line that does not match "name: command" fails the
// whole parse; there is no partial recovery.
func Parse(data []byte) ([]Process, error) {
	var procs []Process

	for _, raw := range strings.Split(string(data), "\n") {
		line := strings.TrimSpace(strings.TrimSuffix(raw, "\r"))
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		idx := strings.Index(line, ":")
		if idx <= 0 {
			return nil, domain.NewError(domain.ErrCodeProcfileParse,
				"malformed process declaration: "+line)
		}

		name := line[:idx]
		command := strings.TrimSpace(line[idx+1:])
		if command == "" {
			return nil, domain.NewError(domain.ErrCodeProcfileParse,
				"process declaration has no command: "+line)
		}

		procs = append(procs, Process{Name: name, Command: command})
	}

	return procs, nil
}

// QuoteCommand shell-escapes a command as a single quoted token so that
// nothing inside it can be reinterpreted by the shell embedding it.
func QuoteCommand(command string) string {
	return "'" + strings.ReplaceAll(command, "'", `'\''`) + "'"
}
