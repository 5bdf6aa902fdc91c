package analysis

import (
	"context"
	"strings"

	"lease-analyzer/internal/models"
)

var (
	leaseIndicators     = []string{"賃貸", "リース", "lease", "rental", "借用", "使用権", "right-of-use"}
	financeIndicators   = []string{"ファイナンス", "finance", "所有権移転", "transfer of ownership"}
	operatingIndicators = []string{"オペレーティング", "operating"}
)

// KeywordClassifier classifies on the presence of lease vocabulary.
type KeywordClassifier struct{}

func NewKeywordClassifier() *KeywordClassifier { return &KeywordClassifier{} }

func (c *KeywordClassifier) Classify(ctx context.Context, content models.StructuredContent, opts models.AnalysisOptions) (models.LeaseClassification, error) {
	if err := ctx.Err(); err != nil {
		return models.LeaseClassification{}, err
	}
	cat := catalogFor(opts.Language)
	text := strings.ToLower(content.AnalysisText())

	if !containsAny(text, leaseIndicators) {
		return models.LeaseClassification{
			IsLease:    false,
			Confidence: 0.75,
			LeaseType:  models.LeaseTypeService,
			Citations:  []string{},
			Reasoning:  append([]string(nil), cat.nonLeaseReasoning...),
			IdentifiedAssetAnalysis: models.IdentifiedAssetAnalysis{
				AssetDescription: content.AssetDetails.AssetDescription,
				Citations:        []string{},
			},
			RightToControlAnalysis: models.RightToControlAnalysis{
				ControlIndicators: []string{},
				Citations:         []string{},
			},
			SubstitutionRightsAnalysis: models.SubstitutionRightsAnalysis{Citations: []string{}},
		}, nil
	}

	// Operating is the default when the contract names neither type.
	leaseType := models.LeaseTypeOperating
	if containsAny(text, financeIndicators) && !containsAny(text, operatingIndicators) {
		leaseType = models.LeaseTypeFinance
	}
	return models.LeaseClassification{
		IsLease:    true,
		Confidence: 0.85,
		LeaseType:  leaseType,
		Citations:  []string{"IFRS 16.9", "ASC 842-10-15-3"},
		Reasoning:  append([]string(nil), cat.leaseReasoning...),
		IdentifiedAssetAnalysis: models.IdentifiedAssetAnalysis{
			HasIdentifiedAsset: true,
			AssetDescription:   content.AssetDetails.AssetDescription,
			AssetSpecificity:   cat.assetSpecificity,
			Citations:          []string{"IFRS 16.B13", "ASC 842-10-15-13"},
		},
		RightToControlAnalysis: models.RightToControlAnalysis{
			HasRightToControl: true,
			ControlIndicators: append([]string(nil), cat.controlIndicators...),
			Citations:         []string{"IFRS 16.B9(a)", "ASC 842-10-15-3(a)"},
		},
		SubstitutionRightsAnalysis: models.SubstitutionRightsAnalysis{
			HasSubstitutionRights: false,
			Analysis:              cat.noSubstitution,
			Citations:             []string{"IFRS 16.B14", "ASC 842-10-15-4"},
		},
	}, nil
}

func containsAny(text string, words []string) bool {
	for _, w := range words {
		if strings.Contains(text, w) {
			return true
		}
	}
	return false
}
