package analysis

import (
	"context"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"lease-analyzer/internal/models"
)

// Unknown marks a field the structurer could not extract.
const Unknown = "unknown"

const (
	FrequencyMonthly = "monthly"
	FrequencyYearly  = "yearly"

	ClauseRenewal     = "renewal_option"
	ClauseTermination = "early_termination"
)

var (
	lessorPattern = regexp.MustCompile(`(?i)貸主|貸し主|賃貸人|lessor|landlord`)
	lesseePattern = regexp.MustCompile(`(?i)借主|借り主|賃借人|lessee|tenant`)

	jpLocationPattern = regexp.MustCompile(`\p{Han}{1,3}[都道府県]\p{Han}{1,6}?[市区町村]`)
	enLocationPattern = regexp.MustCompile(`(?i)(?:located at|premises at|address:)\s*([^\n]+)`)

	yenPattern    = regexp.MustCompile(`(\d{1,3}(?:,\d{3})+|\d+)\s*円`)
	dollarPattern = regexp.MustCompile(`(?:\$|USD\s?)(\d{1,3}(?:,\d{3})+|\d+)`)

	jpDatePattern  = regexp.MustCompile(`(\d{4})年(\d{1,2})月(\d{1,2})日`)
	isoDatePattern = regexp.MustCompile(`(\d{4})-(\d{2})-(\d{2})`)

	monthsPattern = regexp.MustCompile(`(?i)(\d+)\s*(?:ヶ月|ヵ月|か月|カ月|months?)`)
	yearsPattern  = regexp.MustCompile(`(?i)(\d+)\s*(?:年間|years?)`)

	renewalPattern     = regexp.MustCompile(`(?i)更新|延長|renew|extension`)
	terminationPattern = regexp.MustCompile(`(?i)解約|中途|terminat|cancell?ation`)
)

// assetKeywords map document vocabulary to an asset type, most specific first.
var assetKeywords = []struct {
	keyword   string
	assetType string
}{
	{"建物", "building"},
	{"building", "building"},
	{"車両", "vehicle"},
	{"vehicle", "vehicle"},
	{"機械", "machinery"},
	{"machinery", "machinery"},
	{"設備", "equipment"},
	{"equipment", "equipment"},
	{"オフィス", "office"},
	{"office", "office"},
	{"倉庫", "warehouse"},
	{"warehouse", "warehouse"},
}

const defaultDurationMonths = 12

// RuleStructurer extracts contract fields with keyword and regex rules. It is
// deterministic: the same document always yields the same output.
type RuleStructurer struct{}

func NewRuleStructurer() *RuleStructurer { return &RuleStructurer{} }

func (s *RuleStructurer) Structure(ctx context.Context, doc models.ParsedDocument) (models.StructuredContent, error) {
	if err := ctx.Err(); err != nil {
		return models.StructuredContent{}, err
	}
	content := doc.Content
	period := extractPeriod(content)
	clauses := extractClauses(content)
	for _, c := range clauses {
		switch c.Type {
		case ClauseRenewal:
			period.HasRenewalOption = true
		case ClauseTermination:
			period.HasTerminationOption = true
		}
	}
	return models.StructuredContent{
		FileID: doc.FileID,
		ContractParties: models.ContractParties{
			Lessor:       partyLine(content, lessorPattern, lesseePattern),
			Lessee:       partyLine(content, lesseePattern, lessorPattern),
			OtherParties: []string{},
		},
		AssetDetails:   extractAsset(content),
		PaymentTerms:   extractPayment(content),
		ContractPeriod: period,
		SpecialClauses: clauses,
		RawContent:     content,
	}, nil
}

// partyLine returns the first line naming one party but not the other.
func partyLine(content string, target, exclude *regexp.Regexp) string {
	for _, line := range strings.Split(content, "\n") {
		if target.MatchString(line) && !exclude.MatchString(line) {
			return strings.TrimSpace(line)
		}
	}
	return Unknown
}

func extractAsset(content string) models.AssetDetails {
	asset := models.AssetDetails{AssetType: Unknown, AssetDescription: Unknown, Location: Unknown}
	lower := strings.ToLower(content)
	for _, k := range assetKeywords {
		if strings.Contains(lower, k.keyword) {
			asset.AssetType = k.assetType
			asset.AssetDescription = describingLine(content, k.keyword)
			break
		}
	}
	if m := jpLocationPattern.FindString(content); m != "" {
		asset.Location = m
	} else if m := enLocationPattern.FindStringSubmatch(content); m != nil {
		asset.Location = strings.TrimSpace(m[1])
	}
	return asset
}

func describingLine(content, keyword string) string {
	for _, line := range strings.Split(content, "\n") {
		if strings.Contains(strings.ToLower(line), keyword) {
			return truncateRunes(strings.TrimSpace(line), 200)
		}
	}
	return Unknown
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

func extractPayment(content string) models.PaymentTerms {
	terms := models.PaymentTerms{Currency: "JPY", Frequency: Unknown}
	if m := yenPattern.FindStringSubmatch(content); m != nil {
		terms.Amount = parseAmount(m[1])
	} else if m := dollarPattern.FindStringSubmatch(content); m != nil {
		terms.Amount = parseAmount(m[1])
		terms.Currency = "USD"
	}
	lower := strings.ToLower(content)
	switch {
	case strings.Contains(content, "月額") || strings.Contains(content, "毎月") ||
		strings.Contains(lower, "monthly") || strings.Contains(lower, "per month"):
		terms.Frequency = FrequencyMonthly
	case strings.Contains(content, "年額") || strings.Contains(content, "毎年") ||
		strings.Contains(lower, "annual") || strings.Contains(lower, "per year"):
		terms.Frequency = FrequencyYearly
	}
	return terms
}

func parseAmount(s string) int64 {
	n, err := strconv.ParseInt(strings.ReplaceAll(s, ",", ""), 10, 64)
	if err != nil {
		return 0
	}
	return n
}

func extractDates(content string) []time.Time {
	type found struct {
		at   int
		date time.Time
	}
	var all []found
	for _, re := range []*regexp.Regexp{jpDatePattern, isoDatePattern} {
		for _, idx := range re.FindAllStringSubmatchIndex(content, -1) {
			y, _ := strconv.Atoi(content[idx[2]:idx[3]])
			m, _ := strconv.Atoi(content[idx[4]:idx[5]])
			d, _ := strconv.Atoi(content[idx[6]:idx[7]])
			if m < 1 || m > 12 || d < 1 || d > 31 {
				continue
			}
			all = append(all, found{at: idx[0], date: time.Date(y, time.Month(m), d, 0, 0, 0, 0, time.UTC)})
		}
	}
	// Document order, so "from X to Y" yields start then end.
	sort.SliceStable(all, func(i, j int) bool { return all[i].at < all[j].at })
	out := make([]time.Time, len(all))
	for i, f := range all {
		out[i] = f.date
	}
	return out
}

func extractPeriod(content string) models.ContractPeriod {
	var period models.ContractPeriod
	dates := extractDates(content)

	switch {
	case monthsPattern.MatchString(content):
		period.DurationMonths, _ = strconv.Atoi(monthsPattern.FindStringSubmatch(content)[1])
	case yearsPattern.MatchString(content):
		years, _ := strconv.Atoi(yearsPattern.FindStringSubmatch(content)[1])
		period.DurationMonths = years * 12
	case len(dates) >= 2 && dates[1].After(dates[0]):
		period.DurationMonths = monthsBetween(dates[0], dates[1])
	default:
		period.DurationMonths = defaultDurationMonths
	}

	if len(dates) > 0 {
		start := dates[0]
		end := start.AddDate(0, period.DurationMonths, 0)
		if len(dates) >= 2 && dates[1].After(start) {
			end = dates[1]
		}
		period.StartDate = start.Format("2006-01-02")
		period.EndDate = end.Format("2006-01-02")
	}
	return period
}

// monthsBetween counts whole months, treating an end date on the eve of the
// anniversary (2024-04-01 to 2027-03-31) as a full term.
func monthsBetween(start, end time.Time) int {
	months := (end.Year()-start.Year())*12 + int(end.Month()) - int(start.Month())
	if end.AddDate(0, 0, 1).Day() == start.Day() {
		months++
	} else if end.Day() < start.Day() {
		months--
	}
	if months < 0 {
		return 0
	}
	return months
}

func extractClauses(content string) []models.SpecialClause {
	clauses := []models.SpecialClause{}
	if renewalPattern.MatchString(content) {
		clauses = append(clauses, models.SpecialClause{
			Type:        ClauseRenewal,
			Description: "Clause on contract renewal or extension",
			Impact:      "Affects the lease term assessment",
		})
	}
	if terminationPattern.MatchString(content) {
		clauses = append(clauses, models.SpecialClause{
			Type:        ClauseTermination,
			Description: "Clause on early termination",
			Impact:      "Affects the lease term assessment",
		})
	}
	return clauses
}
