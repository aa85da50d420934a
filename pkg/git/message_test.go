package git

import "testing"

func TestFormatMessage(t *testing.T) {
	tests := []struct {
		name                        string
		ctype, scope, subject, body string
		want                        string
	}{
		{"Full", CommitTypeFeat, "notes", "save 42", "  details \n", "feat(notes): save 42\n\ndetails"},
		{"NoScope", CommitTypeFix, "", "typo", "", "fix: typo"},
		{"DefaultType", "", "users", "create alice", "", "chore(users): create alice"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := FormatMessage(tt.ctype, tt.scope, tt.subject, tt.body); got != tt.want {
				t.Errorf("FormatMessage() = %q, want %q", got, tt.want)
			}
		})
	}
}
