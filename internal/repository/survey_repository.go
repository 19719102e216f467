package repository

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/unimath/placement-backend/internal/model"
)

// SurveyRepository handles pre-exam survey response rows.
type SurveyRepository struct {
	pool *pgxpool.Pool
}

// NewSurveyRepository creates a new SurveyRepository.
func NewSurveyRepository(pool *pgxpool.Pool) *SurveyRepository {
	return &SurveyRepository{pool: pool}
}

// Insert writes the survey answer rows for one submission.
func (r *SurveyRepository) Insert(ctx context.Context, answers []model.SurveyAnswer) error {
	for _, a := range answers {
		_, err := r.pool.Exec(ctx,
			`INSERT INTO survey_answers
			        (student_id, exam_id, survey_date, question_nbr, answer, answer_min)
			 VALUES ($1, $2, $3, $4, $5, $6)`,
			a.StudentID, a.ExamID, a.SurveyDate, a.QuestionNbr, a.Answer, a.AnswerMin,
		)
		if err != nil {
			return err
		}
	}
	return nil
}

// Latest returns the student's most recent response for each question
// number, across all survey submissions.
func (r *SurveyRepository) Latest(ctx context.Context, studentID string) ([]model.SurveyAnswer, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT DISTINCT ON (question_nbr)
		        student_id, exam_id, survey_date, question_nbr, answer, answer_min
		 FROM survey_answers
		 WHERE student_id = $1
		 ORDER BY question_nbr, survey_date DESC, answer_min DESC`,
		studentID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var answers []model.SurveyAnswer
	for rows.Next() {
		var a model.SurveyAnswer
		if err := rows.Scan(&a.StudentID, &a.ExamID, &a.SurveyDate, &a.QuestionNbr, &a.Answer, &a.AnswerMin); err != nil {
			return nil, err
		}
		answers = append(answers, a)
	}
	return answers, rows.Err()
}
