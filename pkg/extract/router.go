package extract

import (
	"strings"

	"github.com/orderflow-io/orderflow/pkg/model"
)

// RuleExtractor is the port all rule extractors implement.
type RuleExtractor interface {
	Version() string
	Extract(raw []byte) (*Record, error)
}

// Route is the router's verdict for one document.
type Route struct {
	// RuleExtractor to run first ("" when none applies).
	Rule string
	// LLM holds the follow-up LLM extractor when the trigger rule fires:
	// ExtractorLLMTextV1, ExtractorLLMVisionV1, or "".
	LLM string
	// Reason records why the LLM was (or was not) triggered.
	Reason string
}

// Trigger-rule thresholds.
const (
	minTextCoverage    = 0.15
	minTextChars       = 500
	minRuleConfidence  = 0.60
	maxEmptyLinesRatio = 0.5
)

// Token estimates for the budget gate.
const (
	visionTokensPerPage = 1500
)

// EstimateTextTokens approximates the token count of a text prompt.
func EstimateTextTokens(text string) int {
	return (len(text) + 3) / 4
}

// EstimateVisionTokens approximates the token count of a vision call.
func EstimateVisionTokens(pages int) int {
	return visionTokensPerPage * pages
}

// RouteByMediaType picks the rule extractor for a document. CSV and XLSX
// never use the LLM.
func RouteByMediaType(mediaType, filename string) Route {
	mt := strings.ToLower(mediaType)
	name := strings.ToLower(filename)
	switch {
	case strings.Contains(mt, "csv") || strings.HasSuffix(name, ".csv"):
		return Route{Rule: ExtractorRuleCSVV1, Reason: "csv never uses llm"}
	case strings.Contains(mt, "spreadsheetml") || strings.Contains(mt, "ms-excel") || strings.HasSuffix(name, ".xlsx"):
		return Route{Rule: ExtractorRuleXLSXV1, Reason: "xlsx never uses llm"}
	case strings.Contains(mt, "pdf") || strings.HasSuffix(name, ".pdf"):
		return Route{Rule: ExtractorRulePDFV1}
	default:
		return Route{Reason: "unsupported media type"}
	}
}

// RoutePDF applies the trigger rule after the rule attempt on a PDF.
// forceRetry is the explicit operator retry: it bypasses the trigger rule
// but not the budget gate, which the caller enforces at dispatch.
func RoutePDF(stats *PDFStats, ruleRec *Record, ruleErr error, forceRetry bool) Route {
	// Scanned or near-empty text layer: only vision can see the page.
	if stats.TextCoverageRatio < minTextCoverage || stats.TextCharsTotal < minTextChars {
		return Route{Rule: ExtractorRulePDFV1, LLM: ExtractorLLMVisionV1, Reason: "insufficient text layer"}
	}

	if forceRetry {
		return Route{Rule: ExtractorRulePDFV1, LLM: ExtractorLLMTextV1, Reason: "operator retry"}
	}

	switch {
	case ruleErr != nil, ruleRec == nil, len(ruleRec.Lines) == 0:
		return Route{Rule: ExtractorRulePDFV1, LLM: ExtractorLLMTextV1, Reason: "rule extraction yielded no lines"}
	case ruleRec.Confidence.Overall < minRuleConfidence:
		return Route{Rule: ExtractorRulePDFV1, LLM: ExtractorLLMTextV1, Reason: "rule confidence below threshold"}
	case emptyLineRatio(ruleRec) > maxEmptyLinesRatio:
		return Route{Rule: ExtractorRulePDFV1, LLM: ExtractorLLMTextV1, Reason: "most rule lines lack sku and description"}
	}
	return Route{Rule: ExtractorRulePDFV1, Reason: "rule result sufficient"}
}

// emptyLineRatio is the share of lines that carry neither a SKU nor a
// description.
func emptyLineRatio(rec *Record) float64 {
	if len(rec.Lines) == 0 {
		return 1
	}
	empty := 0
	for _, l := range rec.Lines {
		if l.CustomerSKURaw == "" && l.Description == "" {
			empty++
		}
	}
	return float64(empty) / float64(len(rec.Lines))
}

// BudgetGate is the fail-closed pre-dispatch check for an LLM attempt.
// Any limit breach aborts the call with ErrBudgetExceeded.
func BudgetGate(llm string, stats *PDFStats, maxPages, maxTokens int) error {
	if stats.PageCount > maxPages {
		return model.ErrBudgetExceeded
	}
	var estimate int
	if llm == ExtractorLLMVisionV1 {
		estimate = EstimateVisionTokens(stats.PageCount)
	} else {
		estimate = EstimateTextTokens(stats.Text)
	}
	if estimate > maxTokens {
		return model.ErrBudgetExceeded
	}
	return nil
}
