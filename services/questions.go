package services

import (
	"github.com/ianpilon/IOG-Procurement-Voice-AI-system/models"
)

// Tier1Questions is the business-survival discovery question set. The
// slice order is the asking order; it is read-only at runtime and safe
// for unsynchronized concurrent reads.
var Tier1Questions = []models.Question{
	{
		ID:       "Q1",
		Short:    "Critical Vulnerabilities",
		Full:     "What are the 3-5 things that, if they went wrong tomorrow, would put this business in serious danger - and how would you fix them?",
		Keywords: []string{"danger", "wrong", "serious", "risk", "fail"},
	},
	{
		ID:       "Q2",
		Short:    "Crisis Moments",
		Full:     "Walk me through your last three 'oh shit' moments - what went wrong, what did you do, and what would you do differently now?",
		Keywords: []string{"oh shit", "crisis", "went wrong", "problem"},
	},
	{
		ID:       "Q3",
		Short:    "Critical Relationships",
		Full:     "Which customers, suppliers, or relationships are absolutely critical to keep - and what's the unwritten agreement or history with each that I need to know?",
		Keywords: []string{"customer", "supplier", "relationship", "critical"},
	},
	{
		ID:       "Q4",
		Short:    "Silent Killers",
		Full:     "What are the 'silent killers' - small things people ignore that snowball into big problems?",
		Keywords: []string{"silent", "ignore", "small", "snowball"},
	},
}

// QuestionByID returns the question with the given ID, or nil.
func QuestionByID(questions []models.Question, id string) *models.Question {
	for i := range questions {
		if questions[i].ID == id {
			return &questions[i]
		}
	}
	return nil
}
