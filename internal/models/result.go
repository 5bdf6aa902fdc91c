package models

import (
	"time"
)

// AnalysisResult is the terminal artifact of a job. Success and failure
// produce the same shape; only the content differs.
type AnalysisResult struct {
	AnalysisID      string        `json:"analysisId"`
	FileInfo        FileInfo      `json:"fileInfo"`
	AnalysisResult  LeaseAnalysis `json:"analysisResult"`
	DocumentSummary string        `json:"documentSummary"`
	// ProcessingTime is expressed in milliseconds.
	ProcessingTime int64     `json:"processingTime"`
	CompletedAt    time.Time `json:"completedAt"`
}

type FileInfo struct {
	FileName   string    `json:"fileName"`
	FileSize   int64     `json:"fileSize"`
	UploadedAt time.Time `json:"uploadedAt"`
}

type LeaseAnalysis struct {
	IsLease                bool                  `json:"isLease"`
	Confidence             float64               `json:"confidence"`
	LeaseType              LeaseType             `json:"leaseType"`
	Summary                ContractSummary       `json:"summary"`
	LeaseAnalysis          DetailedLeaseAnalysis `json:"leaseAnalysis"`
	KeyFindings            []string              `json:"keyFindings"`
	RiskFactors            []string              `json:"riskFactors"`
	Recommendations        []string              `json:"recommendations"`
	ComplianceRequirements []string              `json:"complianceRequirements"`
}

type ContractSummary struct {
	ContractType   string `json:"contractType"`
	PrimaryAsset   string `json:"primaryAsset"`
	ContractPeriod string `json:"contractPeriod"`
	MonthlyPayment string `json:"monthlyPayment"`
}

type DetailedLeaseAnalysis struct {
	IdentifiedAsset               IdentifiedAssetAnalysis    `json:"identifiedAsset"`
	RightToControl                RightToControlAnalysis     `json:"rightToControl"`
	SubstantiveSubstitutionRights SubstitutionRightsAnalysis `json:"substantiveSubstitutionRights"`
}

// Normalize replaces nil slices with empty ones so that every list field
// encodes as [] rather than null.
func (r *AnalysisResult) Normalize() {
	a := &r.AnalysisResult
	a.KeyFindings = nonNil(a.KeyFindings)
	a.RiskFactors = nonNil(a.RiskFactors)
	a.Recommendations = nonNil(a.Recommendations)
	a.ComplianceRequirements = nonNil(a.ComplianceRequirements)
	d := &a.LeaseAnalysis
	d.IdentifiedAsset.Citations = nonNil(d.IdentifiedAsset.Citations)
	d.RightToControl.ControlIndicators = nonNil(d.RightToControl.ControlIndicators)
	d.RightToControl.Citations = nonNil(d.RightToControl.Citations)
	d.SubstantiveSubstitutionRights.Citations = nonNil(d.SubstantiveSubstitutionRights.Citations)
	if a.LeaseType == "" {
		a.LeaseType = LeaseTypeNotApplicable
	}
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

// FallbackOutcome is the checkpointed output of the fallback path. It keeps
// the failure reason next to the Result so a replay can restore both.
type FallbackOutcome struct {
	Phase  Phase          `json:"phase"`
	Reason string         `json:"reason"`
	Result AnalysisResult `json:"result"`
}

// PlaceholderResult is a structurally complete negative Result used when no
// synthesizer output is available, such as for terminated jobs.
func PlaceholderResult(jobID string, req AnalysisRequest, createdAt, now time.Time, reason string) AnalysisResult {
	r := AnalysisResult{
		AnalysisID: jobID,
		FileInfo: FileInfo{
			FileName:   req.FileName,
			FileSize:   req.FileSize,
			UploadedAt: createdAt.UTC(),
		},
		AnalysisResult: LeaseAnalysis{
			LeaseType: LeaseTypeNotApplicable,
			Summary: ContractSummary{
				ContractType:   "Analysis incomplete",
				PrimaryAsset:   "unknown",
				ContractPeriod: "unknown",
				MonthlyPayment: "unknown",
			},
			KeyFindings: []string{reason},
			RiskFactors: []string{"Error detail: " + reason},
		},
		DocumentSummary: reason,
		CompletedAt:     now.UTC(),
	}
	if now.After(createdAt) {
		r.ProcessingTime = now.Sub(createdAt).Milliseconds()
	}
	r.Normalize()
	return r
}
