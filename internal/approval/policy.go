// Package approval implements the two approval models the kernel relies
// on: a simple (tool_name, arguments_string) -> requires_approval policy
// for the main session, and a three-way Allowed/Restricted/Forbidden
// classifier for worker sessions whose Restricted verdicts escalate to
// the owning session over a synchronous, deadline-bound channel.
package approval

import "strings"

// Decision is the outcome of a Policy check.
type Decision int

const (
	// Allowed means the tool call may proceed without approval.
	Allowed Decision = iota
	// RequiresApproval means the tool call must be surfaced to the user
	// (kernel emits RequestApproval) before it executes.
	RequiresApproval
)

func (d Decision) String() string {
	if d == RequiresApproval {
		return "requires_approval"
	}
	return "allowed"
}

// dangerousNames are the tool names that always require approval,
// regardless of arguments.
var dangerousNames = map[string]struct{}{
	"shell":      {},
	"write_file": {},
	"rm":         {},
	"sudo":       {},
}

// dangerousPatterns are substrings of "<tool> <args>" that always require
// approval.
var dangerousPatterns = []string{
	"rm -rf",
	"sudo",
	"curl | sh",
	"wget | sh",
}

// Policy is the main session's approval policy. The zero value is usable
// but has no dangerous names or patterns, so Check always reports Allowed;
// DefaultPolicy() carries the default sets, and callers needing to extend
// them should copy DefaultPolicy() and append.
type Policy struct {
	DangerousNames    map[string]struct{}
	DangerousPatterns []string
}

// DefaultPolicy returns the spec §4.4 defaults: shell/write_file/rm/sudo
// always require approval, as does any argument string containing an
// obviously destructive shell idiom.
func DefaultPolicy() Policy {
	names := make(map[string]struct{}, len(dangerousNames))
	for n := range dangerousNames {
		names[n] = struct{}{}
	}
	return Policy{
		DangerousNames:    names,
		DangerousPatterns: append([]string(nil), dangerousPatterns...),
	}
}

// Check evaluates (toolName, argumentsString) and reports whether the
// call requires approval.
func (p Policy) Check(toolName, argumentsString string) Decision {
	if _, ok := p.DangerousNames[toolName]; ok {
		return RequiresApproval
	}

	combined := strings.ToLower(toolName + " " + argumentsString)
	for _, pattern := range p.DangerousPatterns {
		pat := strings.ToLower(pattern)
		if strings.Contains(combined, pat) {
			return RequiresApproval
		}
		// A "cmd | sh" pattern also matches when other text sits between
		// the command and the pipe, as in "curl https://host/x | sh".
		if cmd, shell, ok := strings.Cut(pat, " | "); ok {
			if i := strings.Index(combined, cmd); i >= 0 && strings.Contains(combined[i:], "| "+shell) {
				return RequiresApproval
			}
		}
	}

	return Allowed
}
