package classifier

import (
	"crypto/sha256"
	"encoding/hex"
	"regexp"
	"strings"
	"unicode"

	"github.com/pcguest/compli/internal/models"
)

// Kind distinguishes what a matched pattern implies about the content.
type Kind string

const (
	// KindPersonal raises the classification floor to internal and sets the
	// personal-info flag.
	KindPersonal Kind = "personal"
	// KindSensitive forces restricted and sets both flags. Sensitive findings
	// dominate weaker classifications regardless of detection order.
	KindSensitive Kind = "sensitive"
	// KindKeyword can raise public to confidential but never downgrades a
	// classification already set by an identifier match.
	KindKeyword Kind = "keyword"
)

type Rule struct {
	Name            string
	Kind            Kind
	Patterns        []*regexp.Regexp
	ContextPatterns []*regexp.Regexp // Patterns that must appear nearby
	ContextRequired bool             // If true, requires context pattern match
	Validators      []Validator      // Additional validation functions
}

type Validator func(match string) bool

type Match struct {
	RuleName string
	Kind     Kind
	Value    string // Redacted value
	Count    int
}

type Result struct {
	Classification        models.Classification
	ContainsPersonalInfo  bool
	ContainsSensitiveInfo bool
	Confidence            float64
	Matches               []Match
	TotalFindings         int
}

type Classifier struct {
	rules []*Rule
}

func New() *Classifier {
	return &Classifier{
		rules: DefaultRules(),
	}
}

func NewWithRules(rules []*Rule) *Classifier {
	return &Classifier{
		rules: rules,
	}
}

func (c *Classifier) AddRule(rule *Rule) {
	c.rules = append(c.rules, rule)
}

// Classify runs every rule against the content and derives the data
// classification plus personal/sensitive flags. Pure and deterministic;
// identical input always yields an identical result.
func (c *Classifier) Classify(content string) *Result {
	result := &Result{
		Classification: models.ClassificationPublic,
	}

	keywordHit := false

	for _, rule := range c.rules {
		matches := c.findMatches(content, rule)
		if len(matches) == 0 {
			continue
		}

		match := Match{
			RuleName: rule.Name,
			Kind:     rule.Kind,
			Value:    redact(matches[0]),
			Count:    len(matches),
		}
		result.Matches = append(result.Matches, match)
		result.TotalFindings += match.Count

		switch rule.Kind {
		case KindSensitive:
			result.ContainsSensitiveInfo = true
			result.ContainsPersonalInfo = true
			result.Classification = models.ClassificationRestricted
		case KindPersonal:
			result.ContainsPersonalInfo = true
			raiseTo(&result.Classification, models.ClassificationInternal)
		case KindKeyword:
			keywordHit = true
		}
	}

	// Keywords only upgrade the weakest tier; identifier findings keep
	// whatever stronger classification they already established.
	if keywordHit {
		raiseTo(&result.Classification, models.ClassificationConfidential)
	}

	result.Confidence = confidence(result.TotalFindings)

	return result
}

// confidence is a saturating heuristic, not a probability. No attempt is made
// to reduce false negatives.
func confidence(totalMatches int) float64 {
	c := 0.5 + 0.2*float64(totalMatches)
	if c > 1.0 {
		return 1.0
	}
	return c
}

func raiseTo(current *models.Classification, floor models.Classification) {
	if models.ClassificationRank(floor) > models.ClassificationRank(*current) {
		*current = floor
	}
}

func (c *Classifier) findMatches(content string, rule *Rule) []string {
	contextFound := !rule.ContextRequired
	if rule.ContextRequired && len(rule.ContextPatterns) > 0 {
		lowerContent := strings.ToLower(content)
		for _, cp := range rule.ContextPatterns {
			if cp.MatchString(lowerContent) {
				contextFound = true
				break
			}
		}
	}

	if !contextFound {
		return nil
	}

	var matches []string
	for _, pattern := range rule.Patterns {
		found := pattern.FindAllString(content, -1)
		for _, match := range found {
			valid := true
			for _, validator := range rule.Validators {
				if !validator(match) {
					valid = false
					break
				}
			}
			if valid {
				matches = append(matches, match)
			}
		}
	}

	return matches
}

// Digest returns the one-way content digest stored in place of raw prompt
// text. The canonical content itself is never retained.
func Digest(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

func DefaultRules() []*Rule {
	return []*Rule{
		{
			Name: "EMAIL",
			Kind: KindPersonal,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b[A-Za-z0-9._%+-]+@[A-Za-z0-9.-]+\.[A-Za-z]{2,}\b`),
			},
		},
		{
			Name: "PHONE_AU",
			Kind: KindPersonal,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b(?:\+?61[ -]?|0)4\d{2}[ -]?\d{3}[ -]?\d{3}\b`),
				regexp.MustCompile(`(?:\(0[2378]\)|\b0[2378])[ -]?\d{4}[ -]?\d{4}\b`),
			},
		},
		{
			Name: "ADDRESS_AU",
			Kind: KindPersonal,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b\d+[A-Za-z]?(?:/\d+)?\s+[A-Za-z]+\s+(Street|St|Avenue|Ave|Road|Rd|Drive|Dr|Lane|Ln|Court|Ct|Parade|Pde|Crescent|Cres|Place|Pl)\b`),
			},
		},
		{
			Name: "ABN",
			Kind: KindPersonal,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b\d{2}[ ]?\d{3}[ ]?\d{3}[ ]?\d{3}\b`),
			},
			ContextPatterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(abn|business\s*number)`),
			},
			ContextRequired: true,
			Validators:      []Validator{ValidateABN},
		},

		{
			Name: "TFN",
			Kind: KindSensitive,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b\d{3}[ ]?\d{3}[ ]?\d{3}\b`),
			},
			ContextPatterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(tfn|tax\s*file)`),
			},
			ContextRequired: true,
			Validators:      []Validator{ValidateTFN},
		},
		{
			Name: "MEDICARE",
			Kind: KindSensitive,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b[2-6]\d{3}[ ]?\d{5}[ ]?\d\b`),
			},
			Validators: []Validator{ValidateMedicare},
		},
		{
			Name: "PAYMENT_CARD",
			Kind: KindSensitive,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b4\d{3}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
				regexp.MustCompile(`\b5[1-5]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
				regexp.MustCompile(`\b2[2-7]\d{2}[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
				regexp.MustCompile(`\b3[47]\d{2}[-\s]?\d{6}[-\s]?\d{5}\b`),
				regexp.MustCompile(`\b6(?:011|5\d{2})[-\s]?\d{4}[-\s]?\d{4}[-\s]?\d{4}\b`),
			},
			Validators: []Validator{ValidateLuhn},
		},
		{
			Name: "BANK_ACCOUNT",
			Kind: KindSensitive,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`\b\d{3}[- ]?\d{3}[ ]?\d{6,10}\b`),
			},
			ContextPatterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)(bsb|account\s*number|bank\s*account|acct)`),
			},
			ContextRequired: true,
		},

		{
			Name: "SENSITIVE_KEYWORD",
			Kind: KindKeyword,
			Patterns: []*regexp.Regexp{
				regexp.MustCompile(`(?i)\b(confidential|proprietary|medical|diagnosis|health\s*record|financial\s*record|criminal|salary|payroll|biometric)\b`),
			},
		},
	}
}

// ValidateTFN checks the nine-digit tax file number weighted checksum.
func ValidateTFN(tfn string) bool {
	clean := digitsOnly(tfn)
	if len(clean) != 9 {
		return false
	}

	weights := []int{1, 4, 3, 7, 5, 8, 6, 9, 10}
	sum := 0
	for i, c := range clean {
		sum += int(c-'0') * weights[i]
	}
	return sum%11 == 0
}

// ValidateMedicare checks the Medicare card number check digit. The first
// eight digits are weighted (1,3,7,9,1,3,7,9); the ninth is the check digit.
func ValidateMedicare(number string) bool {
	clean := digitsOnly(number)
	if len(clean) != 10 {
		return false
	}
	if clean[0] < '2' || clean[0] > '6' {
		return false
	}

	weights := []int{1, 3, 7, 9, 1, 3, 7, 9}
	sum := 0
	for i := 0; i < 8; i++ {
		sum += int(clean[i]-'0') * weights[i]
	}
	return sum%10 == int(clean[8]-'0')
}

// ValidateABN checks the eleven-digit Australian Business Number modulus-89
// checksum.
func ValidateABN(abn string) bool {
	clean := digitsOnly(abn)
	if len(clean) != 11 {
		return false
	}

	weights := []int{10, 1, 3, 5, 7, 9, 11, 13, 15, 17, 19}
	sum := (int(clean[0]-'0') - 1) * weights[0]
	for i := 1; i < 11; i++ {
		sum += int(clean[i]-'0') * weights[i]
	}
	return sum%89 == 0
}

func ValidateLuhn(number string) bool {
	digits := digitsOnly(number)

	if len(digits) < 13 || len(digits) > 19 {
		return false
	}

	sum := 0
	alternate := false

	for i := len(digits) - 1; i >= 0; i-- {
		n := int(digits[i] - '0')

		if alternate {
			n *= 2
			if n > 9 {
				n = n%10 + 1
			}
		}

		sum += n
		alternate = !alternate
	}

	return sum%10 == 0
}

func digitsOnly(s string) string {
	var b strings.Builder
	for _, c := range s {
		if unicode.IsDigit(c) {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func redact(value string) string {
	if len(value) <= 4 {
		return "****"
	}
	return value[:2] + strings.Repeat("*", len(value)-4) + value[len(value)-2:]
}
