package classifier

import (
	"math"
	"testing"

	"github.com/pcguest/compli/internal/models"
)

func findRule(result *Result, name string) bool {
	for _, m := range result.Matches {
		if m.RuleName == name {
			return true
		}
	}
	return false
}

func TestClassifier_TFN(t *testing.T) {
	c := New()

	tests := []struct {
		name     string
		content  string
		expected bool
	}{
		{"valid TFN with context", "TFN: 123 456 782", true},
		{"valid TFN unspaced", "tax file number 123456782", true},
		{"invalid TFN checksum", "TFN: 123 456 789", false},
		{"no context", "ref 123 456 782", false},
		{"no TFN", "just some text", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(tt.content)
			if found := findRule(result, "TFN"); found != tt.expected {
				t.Errorf("expected TFN found=%v, got %v", tt.expected, found)
			}
		})
	}
}

func TestClassifier_Medicare(t *testing.T) {
	c := New()

	tests := []struct {
		name     string
		content  string
		expected bool
	}{
		{"valid Medicare", "Medicare: 2123 45670 1", true},
		{"valid Medicare unspaced", "card 2123456701", true},
		{"invalid check digit", "Medicare: 2123 45671 1", false},
		{"wrong leading digit", "card 9123 45670 1", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(tt.content)
			if found := findRule(result, "MEDICARE"); found != tt.expected {
				t.Errorf("expected MEDICARE found=%v, got %v", tt.expected, found)
			}
		})
	}
}

func TestClassifier_ABN(t *testing.T) {
	c := New()

	tests := []struct {
		name     string
		content  string
		expected bool
	}{
		{"valid ABN with context", "ABN 51 824 753 556", true},
		{"invalid ABN checksum", "ABN 51 824 753 557", false},
		{"no context", "number 51 824 753 556", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(tt.content)
			if found := findRule(result, "ABN"); found != tt.expected {
				t.Errorf("expected ABN found=%v, got %v", tt.expected, found)
			}
		})
	}
}

func TestClassifier_PaymentCard(t *testing.T) {
	c := New()

	tests := []struct {
		name     string
		content  string
		expected bool
	}{
		{"valid Visa", "Card: 4532015112830366", true},
		{"valid Visa with spaces", "Card: 4532 0151 1283 0366", true},
		{"valid Mastercard", "Card: 5425233430109903", true},
		{"invalid Luhn", "Card: 4532015112830367", false},
		{"no card", "just some numbers 12345", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(tt.content)
			if found := findRule(result, "PAYMENT_CARD"); found != tt.expected {
				t.Errorf("expected PAYMENT_CARD found=%v, got %v", tt.expected, found)
			}
		})
	}
}

func TestClassifier_PersonalIdentifiers(t *testing.T) {
	c := New()

	tests := []struct {
		name    string
		content string
		rule    string
	}{
		{"email", "Contact test@example.com", "EMAIL"},
		{"mobile", "Call 0412 345 678", "PHONE_AU"},
		{"landline", "Office (02) 9123 4567", "PHONE_AU"},
		{"address", "Lives at 12 Collins Street", "ADDRESS_AU"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(tt.content)
			if !findRule(result, tt.rule) {
				t.Errorf("expected %s to be found", tt.rule)
			}
			if !result.ContainsPersonalInfo {
				t.Error("expected ContainsPersonalInfo")
			}
			if result.ContainsSensitiveInfo {
				t.Error("did not expect ContainsSensitiveInfo")
			}
			if result.Classification != models.ClassificationInternal {
				t.Errorf("expected internal classification, got %s", result.Classification)
			}
		})
	}
}

func TestClassifier_SensitiveDominates(t *testing.T) {
	c := New()

	// A health-ID-shaped pattern alone forces restricted, even with no
	// personal identifier present.
	result := c.Classify("record 2123 45670 1")
	if result.Classification != models.ClassificationRestricted {
		t.Errorf("expected restricted, got %s", result.Classification)
	}
	if !result.ContainsSensitiveInfo {
		t.Error("expected ContainsSensitiveInfo")
	}
	if !result.ContainsPersonalInfo {
		t.Error("sensitive findings imply personal info")
	}

	// Detection order must not matter: a keyword appearing after a sensitive
	// identifier never downgrades restricted.
	result = c.Classify("2123 45670 1 marked confidential")
	if result.Classification != models.ClassificationRestricted {
		t.Errorf("keyword downgraded restricted to %s", result.Classification)
	}
}

func TestClassifier_KeywordRaisesPublic(t *testing.T) {
	c := New()

	result := c.Classify("this document is confidential")
	if result.Classification != models.ClassificationConfidential {
		t.Errorf("expected confidential, got %s", result.Classification)
	}
	if result.ContainsPersonalInfo || result.ContainsSensitiveInfo {
		t.Error("keywords must not set personal/sensitive flags")
	}

	// Keyword must not downgrade an identifier-derived internal... it can
	// only raise, so email + keyword lands on confidential.
	result = c.Classify("confidential: mail test@example.com")
	if result.Classification != models.ClassificationConfidential {
		t.Errorf("expected confidential, got %s", result.Classification)
	}
	if !result.ContainsPersonalInfo {
		t.Error("expected ContainsPersonalInfo from email")
	}
}

func TestClassifier_CleanText(t *testing.T) {
	c := New()

	result := c.Classify("The quarterly all-hands is on Thursday.")
	if result.Classification != models.ClassificationPublic {
		t.Errorf("expected public, got %s", result.Classification)
	}
	if result.ContainsPersonalInfo || result.ContainsSensitiveInfo {
		t.Error("expected no flags on clean text")
	}
	if result.TotalFindings != 0 {
		t.Errorf("expected 0 findings, got %d", result.TotalFindings)
	}
}

func TestClassifier_Confidence(t *testing.T) {
	c := New()

	tests := []struct {
		name     string
		content  string
		expected float64
	}{
		{"no matches", "nothing here", 0.5},
		{"one match", "mail test@example.com", 0.7},
		{"two matches", "mail a@example.com and b@example.com", 0.9},
		{"saturates at one", "a@x.co b@x.co c@x.co d@x.co", 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := c.Classify(tt.content)
			if math.Abs(result.Confidence-tt.expected) > 1e-9 {
				t.Errorf("confidence = %v, expected %v", result.Confidence, tt.expected)
			}
		})
	}
}

func TestClassifier_Deterministic(t *testing.T) {
	c := New()
	content := "TFN: 123 456 782, mail test@example.com, confidential"

	first := c.Classify(content)
	for i := 0; i < 5; i++ {
		again := c.Classify(content)
		if again.Classification != first.Classification ||
			again.ContainsPersonalInfo != first.ContainsPersonalInfo ||
			again.ContainsSensitiveInfo != first.ContainsSensitiveInfo ||
			again.Confidence != first.Confidence ||
			again.TotalFindings != first.TotalFindings {
			t.Fatal("classification is not deterministic for identical input")
		}
	}
}

func TestValidateTFN(t *testing.T) {
	tests := []struct {
		tfn      string
		expected bool
	}{
		{"123456782", true},
		{"123 456 782", true},
		{"123456789", false},
		{"12345678", false}, // too short
	}

	for _, tt := range tests {
		if result := ValidateTFN(tt.tfn); result != tt.expected {
			t.Errorf("ValidateTFN(%s) = %v, expected %v", tt.tfn, result, tt.expected)
		}
	}
}

func TestValidateMedicare(t *testing.T) {
	tests := []struct {
		number   string
		expected bool
	}{
		{"2123456701", true},
		{"2123 45670 1", true},
		{"2123456711", false}, // wrong check digit
		{"9123456701", false}, // invalid leading digit
		{"212345670", false},  // too short
	}

	for _, tt := range tests {
		if result := ValidateMedicare(tt.number); result != tt.expected {
			t.Errorf("ValidateMedicare(%s) = %v, expected %v", tt.number, result, tt.expected)
		}
	}
}

func TestValidateABN(t *testing.T) {
	tests := []struct {
		abn      string
		expected bool
	}{
		{"51824753556", true},
		{"51 824 753 556", true},
		{"51824753557", false},
		{"518247535", false}, // too short
	}

	for _, tt := range tests {
		if result := ValidateABN(tt.abn); result != tt.expected {
			t.Errorf("ValidateABN(%s) = %v, expected %v", tt.abn, result, tt.expected)
		}
	}
}

func TestValidateLuhn(t *testing.T) {
	tests := []struct {
		number   string
		expected bool
	}{
		{"4532015112830366", true},
		{"5425233430109903", true},
		{"4532015112830367", false},
		{"123", false},
	}

	for _, tt := range tests {
		if result := ValidateLuhn(tt.number); result != tt.expected {
			t.Errorf("ValidateLuhn(%s) = %v, expected %v", tt.number, result, tt.expected)
		}
	}
}

func TestRedact(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"1234567890", "12******90"},
		{"abc", "****"},
		{"test@example.com", "te************om"},
	}

	for _, tt := range tests {
		if result := redact(tt.input); result != tt.expected {
			t.Errorf("redact(%s) = %s, expected %s", tt.input, result, tt.expected)
		}
	}
}

func TestDigest(t *testing.T) {
	a := Digest("some prompt text")
	b := Digest("some prompt text")
	if a != b {
		t.Error("digest must be deterministic")
	}
	if len(a) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(a))
	}
	if Digest("other text") == a {
		t.Error("different content must not collide trivially")
	}
}

func BenchmarkClassifier(b *testing.B) {
	c := New()
	content := `
		Name: Jane Citizen
		Email: jane.citizen@example.com
		Phone: 0412 345 678
		TFN: 123 456 782
		Medicare: 2123 45670 1
		Address: 12 Collins Street, Melbourne VIC 3000
	`

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		c.Classify(content)
	}
}
