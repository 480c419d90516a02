// Package processing turns chat and schedule requests into upstream calls and formats what
// comes back.
package processing

import "github.com/teilomillet/campusgate/conversation"

// ChatResult is the outcome of Processor.Chat.
type ChatResult struct {
	Reply     string
	Provider  string
	TurnsUsed int
	Repairs   conversation.Repairs
}

// ScheduleEvent is one commitment the student wants scheduled.
type ScheduleEvent struct {
	Title    string `json:"title" validate:"required,max=200"`
	Type     string `json:"type,omitempty" validate:"max=40"`
	Day      string `json:"day,omitempty" validate:"max=20"`
	Start    string `json:"start,omitempty" validate:"max=20"`
	End      string `json:"end,omitempty" validate:"max=20"`
	Location string `json:"location,omitempty" validate:"max=200"`
}

// ScheduleRequest is the data the schedule template renders.
type ScheduleRequest struct {
	Events      []ScheduleEvent `json:"events" validate:"required,min=1,dive"`
	Preferences string          `json:"preferences,omitempty" validate:"max=2000"`
	University  string          `json:"university,omitempty" validate:"max=200"`
}

// Response is the processed output of a templated request.
type Response struct {
	Content  string `json:"content"`
	Provider string `json:"provider"`
}
