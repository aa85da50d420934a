package git

import "strings"

// Commit types used in generated messages.
const (
	CommitTypeFeat  = "feat"
	CommitTypeFix   = "fix"
	CommitTypeChore = "chore"
)

// FormatMessage builds a Conventional Commit message:
//
//	<type>(<scope>): <subject>
//
//	<body>
func FormatMessage(ctype, scope, subject, body string) string {
	var sb strings.Builder

	if ctype == "" {
		ctype = CommitTypeChore
	}
	sb.WriteString(ctype)
	if scope != "" {
		sb.WriteString("(")
		sb.WriteString(scope)
		sb.WriteString(")")
	}
	sb.WriteString(": ")
	sb.WriteString(subject)

	if body = strings.TrimSpace(body); body != "" {
		sb.WriteString("\n\n")
		sb.WriteString(body)
	}
	return sb.String()
}
