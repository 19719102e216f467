package session

import (
	"context"
	"strconv"

	"github.com/unimath/placement-backend/internal/model"
)

// The profile survey spans three pages whose responses map into fifteen
// numbered slots. Page one asks preparation hours (slot 1) and preparation
// resources (slot 2, a bit-flag sum). Page two asks time since the last
// math course (slot 3) and typical grade (slot 4). Page three collects the
// high-school courses taken (slots 5..13, one course code per checked box)
// and the highest college course taken (slot 14, single choice). A student
// who checks nothing on page three records the sentinel "0" in slot 5.
var (
	hsCourseFields = []struct {
		field string
		code  string
	}{
		{"q5_1", "4"},
		{"q5_2", "6"},
		{"q5_3", "9"},
		{"q5_4", "5"},
		{"q5_5", "7"},
		{"q5_6", "10"},
		{"q5_7", "13"},
		{"q5_8", "15"},
		{"q5_9", "1"},
	}

	collegeCourseFields = []struct {
		field string
		code  string
	}{
		{"q6_1", "3"},
		{"q6_2", "8"},
		{"q6_3", "11"},
		{"q6_4", "12"},
		{"q6_5", "14"},
		{"q6_6", "16"},
		{"q6_7", "2"},
	}

	resourceFlags = []struct {
		field string
		value int
	}{
		{"q2_1", 8},
		{"q2_2", 4},
		{"q2_3", 2},
		{"q2_4", 1},
	}
)

// recordProfilePageLocked captures the current page's fields into the
// response slots. Revisiting a page overwrites its slots.
func (s *Session) recordProfilePageLocked(in Input) {
	has := func(field string) bool {
		_, ok := in.Survey[field]
		return ok
	}

	switch s.profilePage {
	case 1:
		s.profileResponses[0] = in.Survey["q1"]
		resources := 0
		for _, f := range resourceFlags {
			if has(f.field) {
				resources += f.value
			}
		}
		s.profileResponses[1] = strconv.Itoa(resources)

	case 2:
		s.profileResponses[2] = in.Survey["q3"]
		s.profileResponses[3] = in.Survey["q4"]

	case 3:
		for i := 4; i < 13; i++ {
			s.profileResponses[i] = ""
		}
		hs := 4
		for _, f := range hsCourseFields {
			if has(f.field) {
				s.profileResponses[hs] = f.code
				hs++
			}
		}

		s.profileResponses[13] = ""
		college := 13
		for _, f := range collegeCourseFields {
			if has(f.field) {
				s.profileResponses[college] = f.code
				college++
				break
			}
		}

		if hs == 4 && college == 13 {
			s.profileResponses[4] = "0"
		}
	}
}

// storeSurveyLocked writes the non-empty response slots as timestamped
// survey rows, one per slot, question number = slot index + 1.
func (s *Session) storeSurveyLocked(ctx context.Context) {
	now := s.deps.now()
	minute := now.Hour()*60 + now.Minute()

	var rows []model.SurveyAnswer
	for i, answer := range s.profileResponses {
		if answer == "" {
			continue
		}
		rows = append(rows, model.SurveyAnswer{
			StudentID:   s.studentID,
			ExamID:      s.examID,
			SurveyDate:  now,
			QuestionNbr: i + 1,
			Answer:      answer,
			AnswerMin:   minute,
		})
	}

	if len(rows) == 0 {
		return
	}

	if err := s.deps.Repo.InsertSurveyAnswers(ctx, rows); err != nil {
		s.log.Error().Err(err).Msg("Failed to store survey responses")
	}
}
