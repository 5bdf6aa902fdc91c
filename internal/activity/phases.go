package activity

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"lease-analyzer/internal/analysis"
	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/filestore"
	"lease-analyzer/internal/models"
)

// Collaborators are the external services behind each phase.
type Collaborators struct {
	Files      filestore.FileStore
	Parser     analysis.DocumentParser
	Structurer analysis.ContentStructurer
	Classifier analysis.Classifier
	Reports    analysis.ReportSynthesizer
}

// Register binds every pipeline phase and the fallback to g.
func (c Collaborators) Register(g *Gateway) {
	g.Register(models.PhaseParsing, c.parse)
	g.Register(models.PhaseStructuring, c.structure)
	g.Register(models.PhaseClassifying, c.classify)
	g.Register(models.PhaseReporting, c.report)
	g.Register(models.PhaseFallback, c.fallback)
}

func (c Collaborators) parse(ctx context.Context, req Request) (any, error) {
	rc, err := c.Files.Open(ctx, req.Input.FileID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrValidation) {
			return nil, apperr.Permanent(err)
		}
		return nil, err
	}
	defer rc.Close()
	return c.Parser.Parse(ctx, req.Input, rc)
}

func (c Collaborators) structure(ctx context.Context, req Request) (any, error) {
	var doc models.ParsedDocument
	if err := decodePrior(req, models.PhaseParsing, &doc); err != nil {
		return nil, err
	}
	return c.Structurer.Structure(ctx, doc)
}

func (c Collaborators) classify(ctx context.Context, req Request) (any, error) {
	var content models.StructuredContent
	if err := decodePrior(req, models.PhaseStructuring, &content); err != nil {
		return nil, err
	}
	return c.Classifier.Classify(ctx, content, req.Input.Options)
}

func (c Collaborators) report(ctx context.Context, req Request) (any, error) {
	var content models.StructuredContent
	if err := decodePrior(req, models.PhaseStructuring, &content); err != nil {
		return nil, err
	}
	var cls models.LeaseClassification
	if err := decodePrior(req, models.PhaseClassifying, &cls); err != nil {
		return nil, err
	}
	return c.Reports.Report(ctx, analysis.ReportInput{
		JobID:          req.JobID,
		Request:        req.Input,
		Content:        content,
		Classification: cls,
		StartedAt:      req.CreatedAt,
	})
}

func (c Collaborators) fallback(ctx context.Context, req Request) (any, error) {
	if req.Failure == nil {
		return nil, apperr.Permanent(errors.New("fallback invoked without a failure"))
	}
	result, err := c.Reports.Fallback(ctx, analysis.FallbackInput{
		JobID:     req.JobID,
		Request:   req.Input,
		Phase:     req.Failure.Phase,
		Reason:    req.Failure.Reason,
		StartedAt: req.CreatedAt,
	})
	if err != nil {
		return nil, err
	}
	return models.FallbackOutcome{Phase: req.Failure.Phase, Reason: req.Failure.Reason, Result: result}, nil
}

// decodePrior reads a completed phase's output. A missing or undecodable
// output cannot be fixed by retrying.
func decodePrior(req Request, phase models.Phase, v any) error {
	raw, ok := req.Prior[phase]
	if !ok {
		return apperr.Permanent(fmt.Errorf("missing %s output", phase))
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.Permanent(fmt.Errorf("decode %s output: %w", phase, err))
	}
	return nil
}
