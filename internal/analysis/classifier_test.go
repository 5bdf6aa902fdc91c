package analysis

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lease-analyzer/internal/models"
)

func structure(t *testing.T, content string) models.StructuredContent {
	t.Helper()
	out, err := NewRuleStructurer().Structure(context.Background(), models.ParsedDocument{FileID: "f1", Content: content})
	require.NoError(t, err)
	return out
}

func TestKeywordClassifierLease(t *testing.T) {
	c := NewKeywordClassifier()
	got, err := c.Classify(context.Background(), structure(t, japaneseLease), models.AnalysisOptions{Language: "ja"})
	require.NoError(t, err)
	assert.True(t, got.IsLease)
	assert.Equal(t, 0.85, got.Confidence)
	assert.Equal(t, models.LeaseTypeOperating, got.LeaseType)
	assert.True(t, got.IdentifiedAssetAnalysis.HasIdentifiedAsset)
	assert.Equal(t, "建物賃貸借契約書", got.IdentifiedAssetAnalysis.AssetDescription)
	assert.Contains(t, got.Reasoning, "契約書にリース関連の用語が含まれている")
	assert.False(t, got.SubstitutionRightsAnalysis.HasSubstitutionRights)
}

func TestKeywordClassifierFinanceLease(t *testing.T) {
	got, err := NewKeywordClassifier().Classify(context.Background(),
		structure(t, "Finance lease of machinery with transfer of ownership at the end of the term."), models.AnalysisOptions{})
	require.NoError(t, err)
	assert.True(t, got.IsLease)
	assert.Equal(t, models.LeaseTypeFinance, got.LeaseType)
}

func TestKeywordClassifierServiceContract(t *testing.T) {
	got, err := NewKeywordClassifier().Classify(context.Background(), structure(t, englishService), models.AnalysisOptions{Language: "en"})
	require.NoError(t, err)
	assert.False(t, got.IsLease)
	assert.Equal(t, 0.75, got.Confidence)
	assert.Equal(t, models.LeaseTypeService, got.LeaseType)
	assert.NotNil(t, got.Citations)
	assert.NotNil(t, got.RightToControlAnalysis.ControlIndicators)
}
