package analysis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"lease-analyzer/internal/models"
)

// ReportBuilder synthesizes success and fallback Results from phase outputs.
type ReportBuilder struct {
	now func() time.Time
}

func NewReportBuilder() *ReportBuilder {
	return &ReportBuilder{now: time.Now}
}

func (b *ReportBuilder) Report(ctx context.Context, in ReportInput) (models.AnalysisResult, error) {
	if err := ctx.Err(); err != nil {
		return models.AnalysisResult{}, err
	}
	cat := catalogFor(in.Request.Options.Language)
	cls := in.Classification
	content := in.Content
	now := b.now().UTC()

	contractType := cat.contractService
	recommendations := cat.recNonLease
	compliance := []string{}
	if cls.IsLease {
		contractType = cat.contractLease
		recommendations = cat.recLease
		compliance = append(compliance, cat.compliance...)
	}
	payment := formatPayment(content.PaymentTerms, cat)

	result := models.AnalysisResult{
		AnalysisID: in.JobID,
		FileInfo:   fileInfo(in.Request, in.StartedAt),
		AnalysisResult: models.LeaseAnalysis{
			IsLease:    cls.IsLease,
			Confidence: cls.Confidence,
			LeaseType:  cls.LeaseType,
			Summary: models.ContractSummary{
				ContractType:   contractType,
				PrimaryAsset:   localize(content.AssetDetails.AssetDescription, cat),
				ContractPeriod: content.ContractPeriod.String(),
				MonthlyPayment: payment,
			},
			LeaseAnalysis: models.DetailedLeaseAnalysis{
				IdentifiedAsset:               cls.IdentifiedAssetAnalysis,
				RightToControl:                cls.RightToControlAnalysis,
				SubstantiveSubstitutionRights: cls.SubstitutionRightsAnalysis,
			},
			KeyFindings:            append([]string{}, cls.Reasoning...),
			RiskFactors:            riskFactors(content, cat),
			Recommendations:        append([]string{}, recommendations...),
			ComplianceRequirements: compliance,
		},
		DocumentSummary: cat.summary(localize(content.AssetDetails.AssetType, cat), contractType,
			content.ContractPeriod.DurationMonths, payment, cls.IsLease),
		ProcessingTime: elapsedMillis(in.StartedAt, now),
		CompletedAt:    now,
	}
	result.Normalize()
	return result, nil
}

// Fallback builds the negative-outcome Result for a job that failed. It never
// returns an error for valid input so the failure path always terminates.
func (b *ReportBuilder) Fallback(_ context.Context, in FallbackInput) (models.AnalysisResult, error) {
	cat := catalogFor(in.Request.Options.Language)
	now := b.now().UTC()
	reason := in.Reason
	if reason == "" {
		reason = cat.unknown
	}
	phase := string(in.Phase)
	if phase == "" {
		phase = cat.unknown
	}
	result := models.AnalysisResult{
		AnalysisID: in.JobID,
		FileInfo:   fileInfo(in.Request, in.StartedAt),
		AnalysisResult: models.LeaseAnalysis{
			IsLease:    false,
			Confidence: 0,
			LeaseType:  models.LeaseTypeNotApplicable,
			Summary: models.ContractSummary{
				ContractType:   cat.failedContract,
				PrimaryAsset:   cat.unknown,
				ContractPeriod: cat.unknown,
				MonthlyPayment: cat.unknown,
			},
			KeyFindings:     []string{cat.failedFinding(phase)},
			RiskFactors:     []string{cat.failedRisk(reason)},
			Recommendations: []string{cat.failedRecommend},
		},
		DocumentSummary: cat.failedSummary(reason),
		ProcessingTime:  elapsedMillis(in.StartedAt, now),
		CompletedAt:     now,
	}
	result.Normalize()
	return result, nil
}

func fileInfo(req models.AnalysisRequest, uploadedAt time.Time) models.FileInfo {
	return models.FileInfo{
		FileName:   req.FileName,
		FileSize:   req.FileSize,
		UploadedAt: uploadedAt.UTC(),
	}
}

func riskFactors(content models.StructuredContent, cat *catalog) []string {
	risks := []string{}
	if content.ContractPeriod.HasRenewalOption {
		risks = append(risks, cat.riskRenewal)
	}
	if content.ContractPeriod.HasTerminationOption {
		risks = append(risks, cat.riskTermination)
	}
	if len(content.SpecialClauses) > 0 {
		risks = append(risks, cat.riskClauses)
	}
	return risks
}

func formatPayment(terms models.PaymentTerms, cat *catalog) string {
	freq := cat.frequencyUnknown
	switch terms.Frequency {
	case FrequencyMonthly:
		freq = cat.frequencyMonthly
	case FrequencyYearly:
		freq = cat.frequencyYearly
	}
	if terms.Amount == 0 {
		return fmt.Sprintf("%s (%s)", cat.unknown, freq)
	}
	symbol := "¥"
	if terms.Currency == "USD" {
		symbol = "$"
	}
	return fmt.Sprintf("%s%s (%s)", symbol, groupThousands(terms.Amount), freq)
}

func groupThousands(n int64) string {
	s := strconv.FormatInt(n, 10)
	neg := ""
	if n < 0 {
		neg, s = "-", s[1:]
	}
	for i := len(s) - 3; i > 0; i -= 3 {
		s = s[:i] + "," + s[i:]
	}
	return neg + s
}

func localize(v string, cat *catalog) string {
	if v == Unknown || v == "" {
		return cat.unknown
	}
	return v
}

func elapsedMillis(start, end time.Time) int64 {
	if start.IsZero() || end.Before(start) {
		return 0
	}
	return end.Sub(start).Milliseconds()
}
