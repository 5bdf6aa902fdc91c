package models

import (
	"fmt"
	"time"
)

// LeaseType is the accounting classification of a contract.
type LeaseType string

const (
	LeaseTypeOperating     LeaseType = "OperatingLease"
	LeaseTypeFinance       LeaseType = "FinanceLease"
	LeaseTypeService       LeaseType = "ServiceContract"
	LeaseTypeNotApplicable LeaseType = "NotApplicable"
)

// ParsedDocument is the Parsing phase output.
type ParsedDocument struct {
	FileID     string    `json:"fileId"`
	FileName   string    `json:"fileName"`
	Content    string    `json:"content"`
	Pages      int       `json:"pages"`
	Paragraphs []string  `json:"paragraphs"`
	ParsedAt   time.Time `json:"parsedAt"`
}

// StructuredContent is the Structuring phase output.
type StructuredContent struct {
	FileID          string          `json:"fileId"`
	ContractParties ContractParties `json:"contractParties"`
	AssetDetails    AssetDetails    `json:"assetDetails"`
	PaymentTerms    PaymentTerms    `json:"paymentTerms"`
	ContractPeriod  ContractPeriod  `json:"contractPeriod"`
	SpecialClauses  []SpecialClause `json:"specialClauses"`
	RawContent      string          `json:"rawContent"`
}

// AnalysisText flattens the structured fields for keyword and LLM classification.
func (s StructuredContent) AnalysisText() string {
	clauses := ""
	for i, c := range s.SpecialClauses {
		if i > 0 {
			clauses += ", "
		}
		clauses += c.Description
	}
	return fmt.Sprintf("Parties: %s\nAsset: %s\nPayment: %s\nPeriod: %s\nSpecial clauses: %s\n\nFull text:\n%s",
		s.ContractParties, s.AssetDetails, s.PaymentTerms, s.ContractPeriod, clauses, s.RawContent)
}

type ContractParties struct {
	Lessor       string   `json:"lessor"`
	Lessee       string   `json:"lessee"`
	OtherParties []string `json:"otherParties"`
}

func (p ContractParties) String() string {
	return fmt.Sprintf("lessor: %s, lessee: %s", p.Lessor, p.Lessee)
}

type AssetDetails struct {
	AssetType        string `json:"assetType"`
	AssetDescription string `json:"assetDescription"`
	Location         string `json:"location"`
}

func (a AssetDetails) String() string {
	return fmt.Sprintf("%s - %s (%s)", a.AssetType, a.AssetDescription, a.Location)
}

type PaymentTerms struct {
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Frequency string `json:"frequency"`
}

func (p PaymentTerms) String() string {
	return fmt.Sprintf("%d %s (%s)", p.Amount, p.Currency, p.Frequency)
}

type ContractPeriod struct {
	StartDate            string `json:"startDate,omitempty"`
	EndDate              string `json:"endDate,omitempty"`
	DurationMonths       int    `json:"durationMonths"`
	HasRenewalOption     bool   `json:"hasRenewalOption"`
	HasTerminationOption bool   `json:"hasTerminationOption"`
}

func (p ContractPeriod) String() string {
	if p.StartDate == "" {
		return fmt.Sprintf("%d months", p.DurationMonths)
	}
	return fmt.Sprintf("%s to %s (%d months)", p.StartDate, p.EndDate, p.DurationMonths)
}

type SpecialClause struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Impact      string `json:"impact"`
}

// LeaseClassification is the Classifying phase output.
type LeaseClassification struct {
	IsLease                    bool                       `json:"isLease"`
	Confidence                 float64                    `json:"confidence"`
	LeaseType                  LeaseType                  `json:"leaseType"`
	Citations                  []string                   `json:"citations"`
	Reasoning                  []string                   `json:"reasoning"`
	IdentifiedAssetAnalysis    IdentifiedAssetAnalysis    `json:"identifiedAssetAnalysis"`
	RightToControlAnalysis     RightToControlAnalysis     `json:"rightToControlAnalysis"`
	SubstitutionRightsAnalysis SubstitutionRightsAnalysis `json:"substitutionRightsAnalysis"`
}

type IdentifiedAssetAnalysis struct {
	HasIdentifiedAsset bool     `json:"hasIdentifiedAsset"`
	AssetDescription   string   `json:"assetDescription"`
	AssetSpecificity   string   `json:"assetSpecificity"`
	Citations          []string `json:"citations"`
}

type RightToControlAnalysis struct {
	HasRightToControl bool     `json:"hasRightToControl"`
	ControlIndicators []string `json:"controlIndicators"`
	Citations         []string `json:"citations"`
}

type SubstitutionRightsAnalysis struct {
	HasSubstitutionRights bool     `json:"hasSubstitutionRights"`
	Analysis              string   `json:"analysis"`
	Citations             []string `json:"citations"`
}
