package repository

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/unimath/placement-backend/internal/grading"
	"github.com/unimath/placement-backend/internal/model"
)

// Recorder composes the per-table repositories into the persistence
// surfaces the session and the grading engine depend on. It satisfies both
// grading.Recorder and session.Repo.
type Recorder struct {
	Students *StudentRepository
	Attempts *AttemptRepository
	Credits  *CreditRepository
	Surveys  *SurveyRepository
	Pending  *PendingExamRepository
	Holds    *HoldRepository
	Logs     *PlacementLogRepository
	Queue    *SISQueue
}

// NewRecorder wires up a Recorder over the given connections.
func NewRecorder(pool *pgxpool.Pool, rdb *redis.Client) *Recorder {
	return &Recorder{
		Students: NewStudentRepository(pool),
		Attempts: NewAttemptRepository(pool),
		Credits:  NewCreditRepository(pool),
		Surveys:  NewSurveyRepository(pool),
		Pending:  NewPendingExamRepository(pool),
		Holds:    NewHoldRepository(pool),
		Logs:     NewPlacementLogRepository(pool),
		Queue:    NewSISQueue(rdb),
	}
}

func (r *Recorder) GetStudent(ctx context.Context, studentID string) (*model.Student, error) {
	return r.Students.GetByID(ctx, studentID)
}

func (r *Recorder) SetLicensed(ctx context.Context, studentID string, licensed bool) error {
	return r.Students.SetLicensed(ctx, studentID, licensed)
}

func (r *Recorder) SetHoldSeverity(ctx context.Context, studentID, severity string) error {
	return r.Students.SetHoldSeverity(ctx, studentID, severity)
}

func (r *Recorder) LegalAttemptStamps(ctx context.Context, studentID, examID string) ([]grading.AttemptStamp, error) {
	return r.Attempts.LegalStamps(ctx, studentID, examID)
}

func (r *Recorder) CountLegalAttempts(ctx context.Context, studentID, examID string) (unproctored, proctored int, err error) {
	return r.Attempts.CountLegal(ctx, studentID, examID)
}

func (r *Recorder) InsertAttempt(ctx context.Context, att *model.PlacementAttempt) error {
	return r.Attempts.Insert(ctx, att)
}

func (r *Recorder) InsertAttemptAnswers(ctx context.Context, answers []model.AttemptAnswer) error {
	return r.Attempts.InsertAnswers(ctx, answers)
}

func (r *Recorder) ApplyCredit(ctx context.Context, credit model.Credit) error {
	return r.Credits.Apply(ctx, credit)
}

func (r *Recorder) InsertDenial(ctx context.Context, denial model.Denial) error {
	return r.Credits.InsertDenial(ctx, denial)
}

func (r *Recorder) UpsertAdminHold(ctx context.Context, hold model.AdminHold) error {
	return r.Holds.Upsert(ctx, hold)
}

func (r *Recorder) InsertPendingExam(ctx context.Context, pe model.PendingExam) error {
	return r.Pending.Insert(ctx, pe)
}

func (r *Recorder) DeletePendingExam(ctx context.Context, serial int64, studentID string) error {
	return r.Pending.Delete(ctx, serial, studentID)
}

func (r *Recorder) InsertPlacementLog(ctx context.Context, entry model.PlacementLog) error {
	return r.Logs.Insert(ctx, entry)
}

func (r *Recorder) MarkLogFinished(ctx context.Context, studentID string, startDate time.Time, startMinute int, finishDate time.Time, recovered *time.Time) error {
	return r.Logs.MarkFinished(ctx, studentID, startDate, startMinute, finishDate, recovered)
}

func (r *Recorder) InsertSurveyAnswers(ctx context.Context, answers []model.SurveyAnswer) error {
	return r.Surveys.Insert(ctx, answers)
}

func (r *Recorder) LatestSurveyAnswers(ctx context.Context, studentID string) ([]model.SurveyAnswer, error) {
	return r.Surveys.Latest(ctx, studentID)
}

func (r *Recorder) QueueSISUpload(ctx context.Context, upload model.SISUpload) error {
	return r.Queue.Push(ctx, upload)
}
