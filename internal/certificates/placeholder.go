package certificates

import (
	"regexp"
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Placeholder keys understood by dynamic text elements
const (
	PlaceholderRecipientName   = "recipient_name"
	PlaceholderRecipientEmail  = "recipient_email"
	PlaceholderAwardTitle      = "award_title"
	PlaceholderContingentName  = "contingent_name"
	PlaceholderTeamName        = "team_name"
	PlaceholderICNumber        = "ic_number"
	PlaceholderContestName     = "contest_name"
	PlaceholderIssueDate       = "issue_date"
	PlaceholderUniqueCode      = "unique_code"
	PlaceholderSerialNumber    = "serial_number"
	PlaceholderInstitutionName = "institution_name"
)

const (
	DefaultStrayWord       = "contingent"
	DefaultIssueDateLayout = "02/01/2006"
)

var braceStripper = strings.NewReplacer("{{", "", "}}", "")

type ResolverOptions struct {
	// StrayWord is removed from institution names before display
	StrayWord  string
	DateLayout string
	Now        func() time.Time
}

// Resolver maps placeholder keys to display strings. It is safe for
// concurrent use.
type Resolver struct {
	stray      *regexp.Regexp
	dateLayout string
	now        func() time.Time
}

func NewResolver(opts ResolverOptions) *Resolver {
	r := &Resolver{
		dateLayout: opts.DateLayout,
		now:        opts.Now,
	}
	if r.dateLayout == "" {
		r.dateLayout = DefaultIssueDateLayout
	}
	if r.now == nil {
		r.now = time.Now
	}
	if word := strings.TrimSpace(opts.StrayWord); word != "" {
		r.stray = regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(word) + `\b`)
	}
	return r
}

// Resolve returns the upper-cased value for key. Unknown keys resolve to "".
func (r *Resolver) Resolve(key string, data RecipientData) string {
	var v string
	switch normalizeKey(key) {
	case PlaceholderRecipientName:
		v = data.RecipientName
	case PlaceholderRecipientEmail:
		v = data.RecipientEmail
	case PlaceholderAwardTitle:
		v = data.AwardTitle
	case PlaceholderContingentName:
		v = r.cleanInstitution(data.ContingentName)
	case PlaceholderTeamName:
		v = data.TeamName
	case PlaceholderICNumber:
		v = data.ICNumber
	case PlaceholderContestName:
		v = data.ContestName
	case PlaceholderIssueDate:
		v = data.IssueDate
		if v == "" {
			v = r.now().Format(r.dateLayout)
		}
	case PlaceholderUniqueCode:
		v = data.UniqueCode
	case PlaceholderSerialNumber:
		v = data.SerialNumber
	case PlaceholderInstitutionName:
		v = r.cleanInstitution(data.InstitutionName)
	default:
		return ""
	}
	if v == "" {
		return ""
	}
	// a Caser keeps state, so one per call
	return cases.Upper(language.Und).String(v)
}

func (r *Resolver) cleanInstitution(s string) string {
	if r.stray != nil {
		s = r.stray.ReplaceAllString(s, "")
	}
	return strings.Join(strings.Fields(s), " ")
}

func normalizeKey(key string) string {
	return strings.TrimSpace(braceStripper.Replace(key))
}
