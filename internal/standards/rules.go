package standards

import (
	"regexp"

	"github.com/codeindex/core/internal/model"
)

// rule matches one recurring code shape within a category. A rule with a
// fixedSignature aggregates every match under that signature (block
// shapes like try/catch); otherwise the matched line is normalized into a
// signature by normalizeSignature.
type rule struct {
	pattern        *regexp.Regexp
	fixedSignature string
}

// categoryRules is the fixed mining table. Extending it via configuration
// means appending rules here at service construction, never replacing the
// baseline set.
var categoryRules = map[model.StandardCategory][]rule{
	model.CategoryValidation: {
		{pattern: regexp.MustCompile(`\bvalidator\.\w+\s*\(`)},
		{pattern: regexp.MustCompile(`\b\w+\.is[A-Z]\w*\s*\(`)},
		{pattern: regexp.MustCompile(`\bschema\.\w+\s*\(`)},
		{pattern: regexp.MustCompile(`\bJoi\.\w+`)},
		{pattern: regexp.MustCompile(`\bz\.(object|string|number|array|parse)\b`)},
		{pattern: regexp.MustCompile(`\b\w+\.(includes|test|match)\s*\(`)},
	},
	model.CategoryErrorHandling: {
		{pattern: regexp.MustCompile(`\btry\s*\{`), fixedSignature: "try { … } catch (_) { … }"},
		{pattern: regexp.MustCompile(`\bexcept\b[^:]*:`), fixedSignature: "try: … except: …"},
		{pattern: regexp.MustCompile(`\bthrow\s+new\s+\w+`)},
		{pattern: regexp.MustCompile(`\braise\s+\w+`)},
		{pattern: regexp.MustCompile(`\breturn\s*\{\s*error\b`)},
		{pattern: regexp.MustCompile(`\bif\s+err\s*!=\s*nil\b`), fixedSignature: "if err != nil { … }"},
	},
	model.CategoryLogging: {
		{pattern: regexp.MustCompile(`\bconsole\.(log|warn|error|info|debug)\s*\(`)},
		{pattern: regexp.MustCompile(`\blog(ger)?\.\w+\s*\(`)},
		{pattern: regexp.MustCompile(`\bprint(ln|f)?\s*\(`)},
	},
	model.CategoryTesting: {
		{pattern: regexp.MustCompile(`\b(describe|it|test)\s*\(\s*["'` + "`" + `]`)},
		{pattern: regexp.MustCompile(`\bexpect\s*\(`)},
		{pattern: regexp.MustCompile(`\bassert\w*\.\w+\s*\(`)},
		{pattern: regexp.MustCompile(`\bt\.(Run|Error|Errorf|Fatal|Fatalf)\s*\(`)},
	},
}

// categoryVocab lists the identifiers a category's signatures keep
// verbatim during normalization; everything else collapses to _. An
// identifier directly following a kept receiver and a dot is also kept,
// so validator.isEmail survives as a distinct signature even though
// isEmail itself is not enumerable up front.
var categoryVocab = map[model.StandardCategory]map[string]bool{
	model.CategoryValidation: vocab(
		"validator", "schema", "parse", "Joi", "z", "includes", "test", "match",
	),
	model.CategoryErrorHandling: vocab(
		"try", "catch", "except", "throw", "raise", "new", "return", "error", "code", "err", "nil", "if",
	),
	model.CategoryLogging: vocab(
		"console", "log", "logger", "print", "println", "printf",
		"warn", "error", "info", "debug",
	),
	model.CategoryTesting: vocab(
		"describe", "it", "test", "expect", "assert", "t",
	),
}

// categoryPrior is the fixed per-category confidence prior.
var categoryPrior = map[model.StandardCategory]float64{
	model.CategoryValidation:    0.9,
	model.CategoryErrorHandling: 1.0,
	model.CategoryLogging:       0.8,
	model.CategoryTesting:       0.9,
}

// AllCategories lists every mined category in stable order.
var AllCategories = []model.StandardCategory{
	model.CategoryValidation,
	model.CategoryErrorHandling,
	model.CategoryLogging,
	model.CategoryTesting,
}

func vocab(words ...string) map[string]bool {
	m := make(map[string]bool, len(words))
	for _, w := range words {
		m[w] = true
	}
	return m
}
