package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/aotms/exam-engine/internal/model"
	"github.com/aotms/exam-engine/internal/repository"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"
)

const lockReleaseTimeout = 2 * time.Second

// AttemptStore is the ephemeral, per-attempt working state.
type AttemptStore interface {
	UpsertAnswer(ctx context.Context, key model.AttemptKey, questionID, option string) error
	SetTimer(ctx context.Context, key model.AttemptKey, seconds int) error
	GetAnswers(ctx context.Context, key model.AttemptKey) (model.AnswerMap, error)
	GetTimer(ctx context.Context, key model.AttemptKey) (*int, error)
	Clear(ctx context.Context, key model.AttemptKey) error
}

// SubmissionStore is the durable record of finalized attempts.
type SubmissionStore interface {
	Insert(ctx context.Context, s *model.FinalizedSubmission) error
	InsertOnce(ctx context.Context, s *model.FinalizedSubmission) (bool, error)
	FindByIdempotencyKey(ctx context.Context, key string) (*model.FinalizedSubmission, error)
}

// AttemptLocker is a shared/exclusive lock per attempt. Answer submits share
// it; finalize holds it alone.
type AttemptLocker interface {
	LockShared(ctx context.Context, key model.AttemptKey) (func(context.Context) error, error)
	LockExclusive(ctx context.Context, key model.AttemptKey) (func(context.Context) error, error)
}

// CleanupQueue receives attempts whose ephemeral state survived finalize.
type CleanupQueue interface {
	Enqueue(ctx context.Context, key model.AttemptKey) error
}

// TimerPolicy decides what happens when a client reports more time remaining
// than the server last stored.
type TimerPolicy string

const (
	TimerPolicyAccept TimerPolicy = "accept"
	TimerPolicyClamp  TimerPolicy = "clamp"
	TimerPolicyReject TimerPolicy = "reject"
)

// ParseTimerPolicy validates a configured policy name.
func ParseTimerPolicy(s string) (TimerPolicy, error) {
	switch p := TimerPolicy(s); p {
	case TimerPolicyAccept, TimerPolicyClamp, TimerPolicyReject:
		return p, nil
	case "":
		return TimerPolicyAccept, nil
	default:
		return "", fmt.Errorf("unknown timer policy %q", s)
	}
}

// AttemptServiceOptions tunes the hardening knobs of AttemptService.
type AttemptServiceOptions struct {
	TimerPolicy TimerPolicy
	// UniqueSubmissions turns a repeated finalize of the same attempt into a
	// no-op that returns the first submission id.
	UniqueSubmissions bool
}

// FinalizeOptions are per-call finalize parameters.
type FinalizeOptions struct {
	IdempotencyKey string
}

// FinalizeResult describes a successful finalize.
type FinalizeResult struct {
	SubmissionID uuid.UUID
	// Replayed is set when no new row was written because the idempotency key
	// or the attempt already had one.
	Replayed bool
	// CleanupPending is set when the durable write succeeded but the
	// ephemeral state could not be cleared.
	CleanupPending bool
}

// AttemptService coordinates the live attempt store and the durable
// submission store. It keeps no state between calls.
type AttemptService struct {
	attempts    AttemptStore
	submissions SubmissionStore
	locker      AttemptLocker
	cleanup     CleanupQueue
	opts        AttemptServiceOptions
	log         zerolog.Logger
}

// NewAttemptService creates a new AttemptService. A nil locker disables
// per-attempt locking; a nil cleanup queue drops stale attempts after logging.
func NewAttemptService(
	attempts AttemptStore,
	submissions SubmissionStore,
	locker AttemptLocker,
	cleanup CleanupQueue,
	opts AttemptServiceOptions,
	log zerolog.Logger,
) *AttemptService {
	if locker == nil {
		locker = noopLocker{}
	}
	if opts.TimerPolicy == "" {
		opts.TimerPolicy = TimerPolicyAccept
	}
	return &AttemptService{
		attempts:    attempts,
		submissions: submissions,
		locker:      locker,
		cleanup:     cleanup,
		opts:        opts,
		log:         log.With().Str("component", "attempt_service").Logger(),
	}
}

// SubmitAnswer records one answer and the client-reported time remaining.
// The two writes are independent: if the second fails the first is not
// rolled back.
func (s *AttemptService) SubmitAnswer(ctx context.Context, key model.AttemptKey, questionID, option string, timeRemaining int) error {
	const op = "submit_answer"

	if err := key.Validate(); err != nil {
		return newAttemptError(op, key, ErrValidation, err)
	}
	if questionID == "" {
		return newAttemptError(op, key, ErrValidation, errors.New("question_id is required"))
	}
	if timeRemaining < 0 {
		return newAttemptError(op, key, ErrValidation, errors.New("time_remaining_seconds must be non-negative"))
	}

	unlock, err := s.lock(ctx, op, key, s.locker.LockShared)
	if err != nil {
		return err
	}
	defer unlock()

	seconds := timeRemaining
	if s.opts.TimerPolicy != TimerPolicyAccept {
		prev, err := s.attempts.GetTimer(ctx, key)
		if err != nil {
			return newAttemptError(op, key, ErrStoreUnavailable, fmt.Errorf("get timer: %w", err))
		}
		if prev != nil && seconds > *prev {
			if s.opts.TimerPolicy == TimerPolicyReject {
				return newAttemptError(op, key, ErrTimerRegression,
					fmt.Errorf("reported %d, stored %d", seconds, *prev))
			}
			seconds = *prev
		}
	}

	if err := s.attempts.UpsertAnswer(ctx, key, questionID, option); err != nil {
		s.log.Error().Err(err).
			Str("user_id", key.UserID).
			Str("exam_id", key.ExamID).
			Msg("redis_save_failed")
		return newAttemptError(op, key, ErrStoreUnavailable, fmt.Errorf("upsert answer: %w", err))
	}

	if err := s.attempts.SetTimer(ctx, key, seconds); err != nil {
		s.log.Error().Err(err).
			Str("user_id", key.UserID).
			Str("exam_id", key.ExamID).
			Msg("redis_timer_save_failed")
		return newAttemptError(op, key, ErrStoreUnavailable, fmt.Errorf("set timer: %w", err))
	}

	s.log.Debug().
		Str("user_id", key.UserID).
		Str("exam_id", key.ExamID).
		Str("question_id", questionID).
		Int("time_remaining", seconds).
		Msg("answer_saved_to_redis")
	return nil
}

// RecoverState returns whatever the live store holds for the attempt. It is
// empty for attempts that never wrote or were already finalized.
func (s *AttemptService) RecoverState(ctx context.Context, key model.AttemptKey) (*model.AttemptState, error) {
	const op = "recover_state"

	if err := key.Validate(); err != nil {
		return nil, newAttemptError(op, key, ErrValidation, err)
	}

	answers, err := s.attempts.GetAnswers(ctx, key)
	if err != nil {
		return nil, newAttemptError(op, key, ErrStoreUnavailable, fmt.Errorf("get answers: %w", err))
	}
	if answers == nil {
		answers = model.AnswerMap{}
	}

	timer, err := s.attempts.GetTimer(ctx, key)
	if err != nil {
		return nil, newAttemptError(op, key, ErrStoreUnavailable, fmt.Errorf("get timer: %w", err))
	}

	return &model.AttemptState{
		Answers:              answers,
		TimeRemainingSeconds: timer,
	}, nil
}

// Finalize moves the attempt from the live store into a durable submission.
// The insert always happens before the clear: a failed insert leaves the live
// state intact for a retry, a failed clear leaves a stale copy behind but the
// call still succeeds.
func (s *AttemptService) Finalize(ctx context.Context, key model.AttemptKey, opts FinalizeOptions) (*FinalizeResult, error) {
	const op = "finalize"

	if err := key.Validate(); err != nil {
		return nil, newAttemptError(op, key, ErrValidation, err)
	}

	log := s.log.With().
		Str("user_id", key.UserID).
		Str("exam_id", key.ExamID).
		Logger()
	log.Info().Msg("exam_finishing")

	// Nothing to finalize: answer without touching the lock so the call
	// writes nothing at all. A keyed retry still needs the replay lookup.
	if opts.IdempotencyKey == "" {
		answers, err := s.attempts.GetAnswers(ctx, key)
		if err != nil {
			return nil, newAttemptError(op, key, ErrStoreUnavailable, fmt.Errorf("get answers: %w", err))
		}
		if len(answers) == 0 {
			log.Warn().Msg("exam_finish_failed_no_answers")
			return nil, newAttemptError(op, key, ErrNoAnswersRecorded, nil)
		}
	}

	unlock, err := s.lock(ctx, op, key, s.locker.LockExclusive)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if opts.IdempotencyKey != "" {
		prior, err := s.submissions.FindByIdempotencyKey(ctx, opts.IdempotencyKey)
		switch {
		case err == nil:
			if prior.UserID != key.UserID || prior.ExamID != key.ExamID {
				return nil, newAttemptError(op, key, ErrValidation,
					errors.New("idempotency key already used for another attempt"))
			}
			log.Info().
				Str("submission_id", prior.ID.String()).
				Msg("exam_finish_replayed")
			return &FinalizeResult{
				SubmissionID:   prior.ID,
				Replayed:       true,
				CleanupPending: !s.clear(ctx, log, key),
			}, nil
		case !errors.Is(err, pgx.ErrNoRows):
			return nil, newAttemptError(op, key, ErrPersistenceFailure,
				fmt.Errorf("find by idempotency key: %w", err))
		}
	}

	answers, err := s.attempts.GetAnswers(ctx, key)
	if err != nil {
		return nil, newAttemptError(op, key, ErrStoreUnavailable, fmt.Errorf("get answers: %w", err))
	}
	if len(answers) == 0 {
		log.Warn().Msg("exam_finish_failed_no_answers")
		return nil, newAttemptError(op, key, ErrNoAnswersRecorded, nil)
	}

	sub := &model.FinalizedSubmission{
		UserID:  key.UserID,
		ExamID:  key.ExamID,
		Answers: answers,
	}
	if opts.IdempotencyKey != "" {
		idem := opts.IdempotencyKey
		sub.IdempotencyKey = &idem
	}

	created := true
	if s.opts.UniqueSubmissions {
		created, err = s.submissions.InsertOnce(ctx, sub)
	} else {
		err = s.submissions.Insert(ctx, sub)
	}
	if err != nil {
		log.Error().Err(err).Msg("exam_finish_critical_error")
		return nil, newAttemptError(op, key, ErrPersistenceFailure, fmt.Errorf("insert submission: %w", err))
	}

	log.Info().
		Str("submission_id", sub.ID.String()).
		Int("answers", len(answers)).
		Bool("created", created).
		Msg("exam_saved_to_postgres")

	return &FinalizeResult{
		SubmissionID:   sub.ID,
		Replayed:       !created,
		CleanupPending: !s.clear(ctx, log, key),
	}, nil
}

// clear removes the live state after a durable write. Failures are logged and
// handed to the cleanup queue; they never fail the finalize.
func (s *AttemptService) clear(ctx context.Context, log zerolog.Logger, key model.AttemptKey) bool {
	err := s.attempts.Clear(ctx, key)
	if err == nil {
		log.Info().Msg("exam_redis_cache_cleared")
		return true
	}

	log.Error().Err(err).Msg("exam_redis_cache_clear_failed")
	if s.cleanup == nil {
		return false
	}

	// The request context may be what failed the clear.
	qctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
	defer cancel()
	if err := s.cleanup.Enqueue(qctx, key); err != nil {
		log.Error().Err(err).Msg("stale_attempt_enqueue_failed")
	}
	return false
}

type lockFunc func(ctx context.Context, key model.AttemptKey) (func(context.Context) error, error)

// lock maps contention to ErrAttemptBusy. Anything else, a cancelled or
// expired ctx included, is ErrStoreUnavailable.
func (s *AttemptService) lock(ctx context.Context, op string, key model.AttemptKey, acquire lockFunc) (func(), error) {
	release, err := acquire(ctx, key)
	if err != nil {
		if errors.Is(err, repository.ErrLockNotAcquired) {
			return nil, newAttemptError(op, key, ErrAttemptBusy, err)
		}
		return nil, newAttemptError(op, key, ErrStoreUnavailable, fmt.Errorf("lock attempt: %w", err))
	}

	return func() {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), lockReleaseTimeout)
		defer cancel()
		if err := release(rctx); err != nil {
			s.log.Warn().Err(err).
				Str("user_id", key.UserID).
				Str("exam_id", key.ExamID).
				Msg("attempt_lock_release_failed")
		}
	}, nil
}

type noopLocker struct{}

func (noopLocker) LockShared(context.Context, model.AttemptKey) (func(context.Context) error, error) {
	return noopRelease, nil
}

func (noopLocker) LockExclusive(context.Context, model.AttemptKey) (func(context.Context) error, error) {
	return noopRelease, nil
}

func noopRelease(context.Context) error { return nil }
