package sqlite_test

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/phrazzld/studykit/internal/domain"
	"github.com/phrazzld/studykit/internal/platform/logger"
	"github.com/phrazzld/studykit/internal/platform/sqlite"
	"github.com/phrazzld/studykit/internal/store"
	"github.com/phrazzld/studykit/internal/testdb"
)

func newTestStore(t *testing.T) *sqlite.JobStore {
	t.Helper()
	log, _ := logger.GetTestLogger(t)
	return sqlite.NewJobStore(testdb.OpenSQLite(t), log)
}

func newDocumentJob(t *testing.T) *domain.Job {
	t.Helper()
	job, err := domain.NewJob(uuid.New(), domain.Input{
		Kind:     domain.InputKindDocument,
		Text:     "Cells divide by mitosis.",
		Language: "EN",
	}, domain.ModelSelectionGemini)
	require.NoError(t, err)
	return job
}

func TestJobStore_CreateAndGet(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	job := newDocumentJob(t)

	require.NoError(t, s.Create(ctx, job))

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, job.ID, got.ID)
	assert.Equal(t, job.OwnerID, got.OwnerID)
	assert.Equal(t, domain.JobStatusCreated, got.Status)
	assert.Equal(t, 0, got.Progress)
	assert.Equal(t, domain.ModelSelectionGemini, got.ModelSelection)
	assert.Equal(t, job.Input, got.Input)
	assert.Equal(t, "en", got.Input.Language)
	assert.True(t, job.CreatedAt.Equal(got.CreatedAt))
	assert.Empty(t, got.StageOutputs)
}

func TestJobStore_CreateWithoutOwner(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	job := newDocumentJob(t)
	job.OwnerID = uuid.Nil

	require.NoError(t, s.Create(ctx, job))
	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, uuid.Nil, got.OwnerID)
}

func TestJobStore_CreateErrors(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)

	t.Run("duplicate", func(t *testing.T) {
		job := newDocumentJob(t)
		require.NoError(t, s.Create(ctx, job))
		err := s.Create(ctx, job)
		assert.ErrorIs(t, err, store.ErrDuplicate)

		var storeErr *store.StoreError
		require.ErrorAs(t, err, &storeErr)
		assert.Equal(t, "job", storeErr.Entity)
		assert.Equal(t, "create", storeErr.Operation)
	})

	t.Run("invalid", func(t *testing.T) {
		job := newDocumentJob(t)
		job.Progress = 150
		err := s.Create(ctx, job)
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
		assert.ErrorIs(t, err, domain.ErrInvalidProgress)
	})
}

func TestJobStore_GetByID_NotFound(t *testing.T) {
	t.Parallel()
	s := newTestStore(t)

	_, err := s.GetByID(context.Background(), uuid.New())
	assert.ErrorIs(t, err, store.ErrJobNotFound)
	assert.True(t, store.IsNotFoundError(err))
}

func TestJobStore_SaveStageOutput(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	job := newDocumentJob(t)
	require.NoError(t, s.Create(ctx, job))

	summary := domain.Summary{Introduction: "Intro", Body: "Body", KeyPoints: []string{"one"}}
	out, err := domain.NewStageOutput(domain.StageSummarize, summary, "gemini", false)
	require.NoError(t, err)
	require.NoError(t, s.SaveStageOutput(ctx, job.ID, out))
	require.NoError(t, s.SaveStageOutput(ctx, job.ID, domain.EmptyStageOutput(domain.StageQuiz, errors.New("provider down"))))

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	require.Len(t, got.StageOutputs, 2)

	var decoded domain.Summary
	require.NoError(t, got.Output(domain.StageSummarize).Decode(&decoded))
	assert.Equal(t, summary, decoded)
	assert.Equal(t, "gemini", got.Output(domain.StageSummarize).Provider)

	quiz := got.Output(domain.StageQuiz)
	assert.True(t, quiz.Empty)
	assert.Nil(t, quiz.Payload)
	assert.Equal(t, "provider down", quiz.Error)

	t.Run("upsert replaces the same stage only", func(t *testing.T) {
		replacement, err := domain.NewStageOutput(domain.StageSummarize,
			domain.Summary{Body: "Second body"}, "deterministic", true)
		require.NoError(t, err)
		require.NoError(t, s.SaveStageOutput(ctx, job.ID, replacement))

		got, err := s.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Len(t, got.StageOutputs, 2)
		assert.True(t, got.Output(domain.StageSummarize).Degraded)
		assert.True(t, got.Output(domain.StageQuiz).Empty)
	})

	t.Run("unknown stage", func(t *testing.T) {
		err := s.SaveStageOutput(ctx, job.ID, &domain.StageOutput{Stage: "lyrics"})
		assert.ErrorIs(t, err, store.ErrInvalidEntity)
	})

	t.Run("unknown job", func(t *testing.T) {
		err := s.SaveStageOutput(ctx, uuid.New(), domain.EmptyStageOutput(domain.StageQuiz, nil))
		assert.ErrorIs(t, err, store.ErrJobNotFound)
	})
}

func TestJobStore_SetStatus(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	job := newDocumentJob(t)
	require.NoError(t, s.Create(ctx, job))

	require.NoError(t, s.SetStatus(ctx, job.ID, domain.JobStatusRunning, ""))

	err := s.SetStatus(ctx, job.ID, domain.JobStatusCreated, "")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	require.NoError(t, s.SetStatus(ctx, job.ID, domain.JobStatusFailed, "extraction failed"))
	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.JobStatusFailed, got.Status)
	assert.Equal(t, "extraction failed", got.ErrorMessage)

	t.Run("terminal jobs reject every mutation", func(t *testing.T) {
		assert.ErrorIs(t, s.SetStatus(ctx, job.ID, domain.JobStatusStopped, ""), store.ErrJobTerminal)
		assert.ErrorIs(t, s.SetProgress(ctx, job.ID, 100), store.ErrJobTerminal)
		assert.ErrorIs(t, s.SaveStageOutput(ctx, job.ID, domain.EmptyStageOutput(domain.StageQuiz, nil)), store.ErrJobTerminal)

		got, err := s.GetByID(ctx, job.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.JobStatusFailed, got.Status)
		assert.Empty(t, got.StageOutputs)
	})

	t.Run("unknown job", func(t *testing.T) {
		assert.ErrorIs(t, s.SetStatus(ctx, uuid.New(), domain.JobStatusRunning, ""), store.ErrJobNotFound)
	})

	t.Run("invalid status", func(t *testing.T) {
		assert.ErrorIs(t, s.SetStatus(ctx, job.ID, "paused", ""), domain.ErrInvalidJobStatus)
	})
}

func TestJobStore_SetProgressIsMonotonic(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	job := newDocumentJob(t)
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.SetStatus(ctx, job.ID, domain.JobStatusRunning, ""))

	require.NoError(t, s.SetProgress(ctx, job.ID, 60))
	require.NoError(t, s.SetProgress(ctx, job.ID, 40))

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 60, got.Progress)

	assert.ErrorIs(t, s.SetProgress(ctx, job.ID, 101), store.ErrInvalidEntity)
}

func TestJobStore_ConcurrentStageWrites(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	s := newTestStore(t)
	job := newDocumentJob(t)
	require.NoError(t, s.Create(ctx, job))
	require.NoError(t, s.SetStatus(ctx, job.ID, domain.JobStatusRunning, ""))

	stages := []domain.Stage{domain.StageClassify, domain.StageSummarize, domain.StageQuiz, domain.StageFlashcards}
	var wg sync.WaitGroup
	errs := make([]error, len(stages))
	for i, stage := range stages {
		wg.Add(1)
		go func(i int, stage domain.Stage) {
			defer wg.Done()
			if err := s.SaveStageOutput(ctx, job.ID, domain.EmptyStageOutput(stage, nil)); err != nil {
				errs[i] = err
				return
			}
			errs[i] = s.SetProgress(ctx, job.ID, domain.ProgressAfter(0, stage))
		}(i, stage)
	}
	wg.Wait()

	for _, err := range errs {
		assert.NoError(t, err)
	}
	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Len(t, got.StageOutputs, len(stages))
	assert.Equal(t, 100, got.Progress)
}

func TestRunInTransaction_RollsBackOnError(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testdb.OpenSQLite(t)
	s := sqlite.NewJobStore(db, nil)
	job := newDocumentJob(t)
	require.NoError(t, s.Create(ctx, job))

	boom := errors.New("boom")
	err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `UPDATE jobs SET progress = 50 WHERE id = ?`, job.ID.String()); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.Progress)
}

func TestRunInTransaction_Commits(t *testing.T) {
	t.Parallel()
	ctx := context.Background()
	db := testdb.OpenSQLite(t)
	s := sqlite.NewJobStore(db, nil)
	job := newDocumentJob(t)
	require.NoError(t, s.Create(ctx, job))

	err := store.RunInTransaction(ctx, db, func(ctx context.Context, tx *sql.Tx) error {
		_, err := tx.ExecContext(ctx, `UPDATE jobs SET progress = 50 WHERE id = ?`, job.ID.String())
		return err
	})
	require.NoError(t, err)

	got, err := s.GetByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, 50, got.Progress)
}
