package status

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"lease-analyzer/internal/apperr"
	"lease-analyzer/internal/models"
	"lease-analyzer/internal/store"
)

func seed(t *testing.T, jobs ...models.Job) *store.Memory {
	t.Helper()
	st := store.NewMemory()
	for _, j := range jobs {
		_, err := st.UpsertJob(context.Background(), j)
		require.NoError(t, err)
	}
	return st
}

func TestGetStatus(t *testing.T) {
	svc := NewService(seed(t, models.Job{ID: "j1", Status: models.StatusRunning, Phase: models.PhaseParsing}))

	job, err := svc.GetStatus(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, models.PhaseParsing, job.Phase)

	_, err = svc.GetStatus(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestGetResultNotReady(t *testing.T) {
	svc := NewService(seed(t, models.Job{ID: "j1", Status: models.StatusRunning}))

	_, err := svc.GetResult(context.Background(), "j1")
	require.ErrorIs(t, err, apperr.ErrNotReady)
	var nr *apperr.NotReadyError
	require.True(t, errors.As(err, &nr))
	assert.Equal(t, "Running", nr.Status)
}

func TestGetResultTerminal(t *testing.T) {
	res := models.PlaceholderResult("j1", models.AnalysisRequest{FileName: "a.txt"}, time.Time{}, time.Time{}, "boom")
	svc := NewService(seed(t, models.Job{ID: "j1", Status: models.StatusFailed, Result: &res}))

	got, err := svc.GetResult(context.Background(), "j1")
	require.NoError(t, err)
	assert.Equal(t, "j1", got.AnalysisID)
	assert.False(t, got.AnalysisResult.IsLease)
	assert.Equal(t, []string{"Error detail: boom"}, got.AnalysisResult.RiskFactors)

	_, err = svc.GetResult(context.Background(), "missing")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
