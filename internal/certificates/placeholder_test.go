package certificates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func fixedClock() time.Time {
	return time.Date(2025, time.March, 7, 9, 30, 0, 0, time.UTC)
}

func TestResolverResolve(t *testing.T) {
	r := NewResolver(ResolverOptions{StrayWord: DefaultStrayWord, Now: fixedClock})
	data := RecipientData{
		RecipientName:   "Jane Doe",
		RecipientEmail:  "jane@example.com",
		AwardTitle:      "Gold",
		ContingentName:  "Example Contingent",
		TeamName:        "Robo Team",
		ICNumber:        "900101-14-5555",
		ContestName:     "Line Follower",
		UniqueCode:      "CERT-1-ABCDEFGH",
		SerialNumber:    "MT25/GEN/T5/000001",
		InstitutionName: "SMK Contingent Bukit Jalil",
	}

	tests := []struct {
		key  string
		want string
	}{
		{"recipient_name", "JANE DOE"},
		{"{{recipient_name}}", "JANE DOE"},
		{"{{ recipient_email }}", "JANE@EXAMPLE.COM"},
		{"award_title", "GOLD"},
		{"contingent_name", "EXAMPLE"},
		{"team_name", "ROBO TEAM"},
		{"ic_number", "900101-14-5555"},
		{"contest_name", "LINE FOLLOWER"},
		{"unique_code", "CERT-1-ABCDEFGH"},
		{"serial_number", "MT25/GEN/T5/000001"},
		{"institution_name", "SMK BUKIT JALIL"},
		{"issue_date", "07/03/2025"},
		{"not_a_key", ""},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			assert.Equal(t, tt.want, r.Resolve(tt.key, data))
		})
	}
}

func TestResolverStrayWordBoundaries(t *testing.T) {
	r := NewResolver(ResolverOptions{StrayWord: "contingent"})

	assert.Equal(t, "EXAMPLE", r.Resolve("contingent_name", RecipientData{ContingentName: "Example Contingent"}))
	assert.Equal(t, "EXAMPLE", r.Resolve("contingent_name", RecipientData{ContingentName: "CONTINGENT example"}))
	// only whole words are removed
	assert.Equal(t, "CONTINGENTS UNITED", r.Resolve("contingent_name", RecipientData{ContingentName: "Contingents United"}))
	assert.Equal(t, "", r.Resolve("contingent_name", RecipientData{ContingentName: "Contingent"}))
}

func TestResolverWithoutStrayWord(t *testing.T) {
	r := NewResolver(ResolverOptions{})
	assert.Equal(t, "EXAMPLE CONTINGENT", r.Resolve("contingent_name", RecipientData{ContingentName: "Example  Contingent"}))
}

func TestResolverUnicodeUpperCase(t *testing.T) {
	r := NewResolver(ResolverOptions{})
	assert.Equal(t, "STRASSE", r.Resolve("recipient_name", RecipientData{RecipientName: "straße"}))
	assert.Equal(t, "ÉLODIE", r.Resolve("recipient_name", RecipientData{RecipientName: "élodie"}))
}

func TestResolverExplicitIssueDateWins(t *testing.T) {
	r := NewResolver(ResolverOptions{Now: fixedClock, DateLayout: "2006-01-02"})
	assert.Equal(t, "2025-03-07", r.Resolve("issue_date", RecipientData{}))
	assert.Equal(t, "1 JAN 2024", r.Resolve("issue_date", RecipientData{IssueDate: "1 Jan 2024"}))
}
