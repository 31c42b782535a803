package model

// InboundStatus tracks an arrival event from reception to terminal state.
type InboundStatus string

const (
	InboundReceived InboundStatus = "RECEIVED"
	InboundStored   InboundStatus = "STORED"
	InboundParsed   InboundStatus = "PARSED"
	InboundFailed   InboundStatus = "FAILED"
)

// InboundSource identifies how a message arrived.
type InboundSource string

const (
	SourceEmail  InboundSource = "EMAIL"
	SourceUpload InboundSource = "UPLOAD"
)

// DocumentStatus tracks one attachment or upload.
type DocumentStatus string

const (
	DocumentUploaded   DocumentStatus = "UPLOADED"
	DocumentStored     DocumentStatus = "STORED"
	DocumentProcessing DocumentStatus = "PROCESSING"
	DocumentExtracted  DocumentStatus = "EXTRACTED"
	DocumentFailed     DocumentStatus = "FAILED"
)

// RunStatus tracks one extraction attempt.
type RunStatus string

const (
	RunPending   RunStatus = "PENDING"
	RunRunning   RunStatus = "RUNNING"
	RunSucceeded RunStatus = "SUCCEEDED"
	RunFailed    RunStatus = "FAILED"
)

// DraftStatus is the draft order lifecycle state.
type DraftStatus string

const (
	DraftNew         DraftStatus = "NEW"
	DraftExtracted   DraftStatus = "EXTRACTED"
	DraftNeedsReview DraftStatus = "NEEDS_REVIEW"
	DraftReady       DraftStatus = "READY"
	DraftApproved    DraftStatus = "APPROVED"
	DraftPushing     DraftStatus = "PUSHING"
	DraftPushed      DraftStatus = "PUSHED"
	DraftError       DraftStatus = "ERROR"
	DraftRejected    DraftStatus = "REJECTED"
)

// draftTransitions is the complete set of allowed (from, to) pairs.
// PUSHED and REJECTED are terminal.
var draftTransitions = map[DraftStatus][]DraftStatus{
	DraftNew:         {DraftExtracted},
	DraftExtracted:   {DraftNeedsReview, DraftReady},
	DraftNeedsReview: {DraftReady, DraftRejected},
	DraftReady:       {DraftApproved, DraftNeedsReview},
	DraftApproved:    {DraftPushing},
	DraftPushing:     {DraftPushed, DraftError},
	DraftError:       {DraftNeedsReview, DraftPushing},
}

// CanTransition reports whether from → to is an allowed draft transition.
func CanTransition(from, to DraftStatus) bool {
	for _, next := range draftTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the status admits no further transitions.
func (s DraftStatus) Terminal() bool {
	return s == DraftPushed || s == DraftRejected
}

// AtLeastApproved reports whether the draft has passed the approval gate.
func (s DraftStatus) AtLeastApproved() bool {
	switch s {
	case DraftApproved, DraftPushing, DraftPushed:
		return true
	}
	return false
}

// MatchStatus is the per-line resolution state.
type MatchStatus string

const (
	MatchUnmatched  MatchStatus = "UNMATCHED"
	MatchSuggested  MatchStatus = "SUGGESTED"
	MatchMatched    MatchStatus = "MATCHED"
	MatchOverridden MatchStatus = "OVERRIDDEN"
)

// MappingStatus is the learned-association lifecycle.
type MappingStatus string

const (
	MappingSuggested  MappingStatus = "SUGGESTED"
	MappingConfirmed  MappingStatus = "CONFIRMED"
	MappingRejected   MappingStatus = "REJECTED"
	MappingDeprecated MappingStatus = "DEPRECATED"
)

// IssueSeverity grades a validation finding.
type IssueSeverity string

const (
	SeverityInfo    IssueSeverity = "INFO"
	SeverityWarning IssueSeverity = "WARNING"
	SeverityError   IssueSeverity = "ERROR"
)

// IssueStatus is the finding lifecycle.
type IssueStatus string

const (
	IssueOpen         IssueStatus = "OPEN"
	IssueAcknowledged IssueStatus = "ACKNOWLEDGED"
	IssueResolved     IssueStatus = "RESOLVED"
	IssueOverridden   IssueStatus = "OVERRIDDEN"
)

// IssueType is the closed vocabulary of validation findings.
type IssueType string

const (
	IssueMissingCustomer         IssueType = "MISSING_CUSTOMER"
	IssueMissingCurrency         IssueType = "MISSING_CURRENCY"
	IssueCustomerAmbiguous       IssueType = "CUSTOMER_AMBIGUOUS"
	IssueMissingSKU              IssueType = "MISSING_SKU"
	IssueUnknownProduct          IssueType = "UNKNOWN_PRODUCT"
	IssueMissingQty              IssueType = "MISSING_QTY"
	IssueInvalidQty              IssueType = "INVALID_QTY"
	IssueMissingUOM              IssueType = "MISSING_UOM"
	IssueUnknownUOM              IssueType = "UNKNOWN_UOM"
	IssueUOMIncompatible         IssueType = "UOM_INCOMPATIBLE"
	IssueMissingPrice            IssueType = "MISSING_PRICE"
	IssuePriceMismatch           IssueType = "PRICE_MISMATCH"
	IssueDuplicateLine           IssueType = "DUPLICATE_LINE"
	IssueLowConfidenceExtraction IssueType = "LOW_CONFIDENCE_EXTRACTION"
	IssueLowConfidenceMatch      IssueType = "LOW_CONFIDENCE_MATCH"
	IssueLLMOutputInvalid        IssueType = "LLM_OUTPUT_INVALID"
)

// CandidateStatus is the customer-detection candidate state.
type CandidateStatus string

const (
	CandidateOpen     CandidateStatus = "CANDIDATE"
	CandidateSelected CandidateStatus = "SELECTED"
	CandidateRejected CandidateStatus = "REJECTED"
)

// CanonicalUOMs is the closed unit-of-measure set every extractor targets.
var CanonicalUOMs = map[string]bool{
	"ST": true, "M": true, "CM": true, "MM": true,
	"KG": true, "G": true, "L": true, "ML": true,
	"KAR": true, "PAL": true, "SET": true,
}
