// Package analysis holds the collaborators invoked by the pipeline phases:
// text extraction, rule-based structuring, lease classification and report
// synthesis. Each sits behind a narrow interface so the orchestrator only sees
// opaque phase outputs.
package analysis

import (
	"context"
	"io"
	"time"

	"lease-analyzer/internal/models"
)

// DocumentParser extracts text and layout from a document stream.
type DocumentParser interface {
	Parse(ctx context.Context, req models.AnalysisRequest, r io.Reader) (models.ParsedDocument, error)
}

// ContentStructurer turns parsed text into contract fields.
type ContentStructurer interface {
	Structure(ctx context.Context, doc models.ParsedDocument) (models.StructuredContent, error)
}

// Classifier decides whether a contract contains a lease.
type Classifier interface {
	Classify(ctx context.Context, content models.StructuredContent, opts models.AnalysisOptions) (models.LeaseClassification, error)
}

// ReportInput is everything the success report is built from.
type ReportInput struct {
	JobID          string
	Request        models.AnalysisRequest
	Content        models.StructuredContent
	Classification models.LeaseClassification
	StartedAt      time.Time
}

// FallbackInput describes a job that could not finish.
type FallbackInput struct {
	JobID     string
	Request   models.AnalysisRequest
	Phase     models.Phase
	Reason    string
	StartedAt time.Time
}

// ReportSynthesizer builds terminal Results. Both methods return the same shape.
type ReportSynthesizer interface {
	Report(ctx context.Context, in ReportInput) (models.AnalysisResult, error)
	Fallback(ctx context.Context, in FallbackInput) (models.AnalysisResult, error)
}
