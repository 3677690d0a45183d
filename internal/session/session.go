// Package session is the per-user conversation state machine. Apply is pure:
// the caller loads the record, applies one input and persists the result.
package session

import (
	"strings"

	"github.com/example/carpool-matching/internal/geo"
	"github.com/example/carpool-matching/internal/models"
)

type InputKind int

const (
	InputRegisterRequested InputKind = iota + 1
	InputSetDestinationRequested
	InputFeedbackRequested
	InputText
	InputLocation
)

// Input is one user event relevant to the session.
type Input struct {
	Kind     InputKind
	Text     string
	Location *models.Coord
	// Address is the resolved label of Location.
	Address string
}

// Step names what Apply did, so callers can choose a reply.
type Step int

const (
	StepAskName Step = iota + 1
	StepAskPhone
	StepInvalidPhone
	StepRegistered
	StepAlreadyRegistered
	StepNeedsRegistration
	StepAskDestination
	StepAskPassengers
	StepInvalidPassengers
	StepSettingsComplete
	StepAskFeedback
	StepFeedbackReceived
	StepFinishCurrentStep
	StepUnexpectedLocation
	StepMainMenu
)

// Result of one transition. Changed reports whether the record must be saved.
type Result struct {
	Session  models.UserSession
	Step     Step
	Changed  bool
	Feedback string
	// Err carries the validation failure behind a re-prompt.
	Err error
}

// Apply runs one input through the state machine.
func Apply(s models.UserSession, in Input) Result {
	switch in.Kind {
	case InputRegisterRequested, InputSetDestinationRequested, InputFeedbackRequested:
		return trigger(s, in.Kind)
	case InputText:
		return text(s, in.Text)
	case InputLocation:
		return location(s, in)
	}
	return Result{Session: s, Step: StepMainMenu}
}

func trigger(s models.UserSession, kind InputKind) Result {
	if s.State != models.StateNone {
		return Result{Session: s, Step: StepFinishCurrentStep}
	}
	switch kind {
	case InputRegisterRequested:
		if s.Registered() {
			return Result{Session: s, Step: StepAlreadyRegistered}
		}
		return moveTo(s, models.StateAwaitingName, StepAskName)
	case InputSetDestinationRequested:
		if !s.Registered() {
			return Result{Session: s, Step: StepNeedsRegistration}
		}
		return moveTo(s, models.StateAwaitingDestination, StepAskDestination)
	default:
		if !s.Registered() {
			return Result{Session: s, Step: StepNeedsRegistration}
		}
		return moveTo(s, models.StateAwaitingFeedback, StepAskFeedback)
	}
}

func text(s models.UserSession, raw string) Result {
	switch s.State {
	case models.StateAwaitingName:
		name, err := ParseName(raw)
		if err != nil {
			return Result{Session: s, Step: StepAskName, Err: err}
		}
		s.Name = name
		return moveTo(s, models.StateAwaitingPhone, StepAskPhone)
	case models.StateAwaitingPhone:
		phone, err := ParsePhone(raw)
		if err != nil {
			return Result{Session: s, Step: StepInvalidPhone, Err: err}
		}
		s.Phone = phone
		return moveTo(s, models.StateNone, StepRegistered)
	case models.StateAwaitingDestination:
		return Result{Session: s, Step: StepAskDestination}
	case models.StateAwaitingPassengers:
		n, err := ParsePassengers(raw)
		if err != nil {
			return Result{Session: s, Step: StepInvalidPassengers, Err: err}
		}
		s.Passengers = n
		return moveTo(s, models.StateNone, StepSettingsComplete)
	case models.StateAwaitingFeedback:
		fb := strings.TrimSpace(raw)
		if fb == "" {
			return Result{Session: s, Step: StepAskFeedback}
		}
		r := moveTo(s, models.StateNone, StepFeedbackReceived)
		r.Feedback = fb
		return r
	}
	if !s.Registered() {
		return Result{Session: s, Step: StepNeedsRegistration}
	}
	return Result{Session: s, Step: StepMainMenu}
}

func location(s models.UserSession, in Input) Result {
	if s.State != models.StateAwaitingDestination {
		return Result{Session: s, Step: StepUnexpectedLocation}
	}
	if in.Location == nil {
		return Result{Session: s, Step: StepAskDestination}
	}
	if err := geo.ValidCoord(*in.Location); err != nil {
		return Result{Session: s, Step: StepAskDestination, Err: err}
	}
	c := *in.Location
	s.Destination = &c
	s.Address = in.Address
	if s.Address == "" {
		s.Address = geo.FormatCoord(c)
	}
	// the passenger count is asked again for every new destination
	s.Passengers = 0
	return moveTo(s, models.StateAwaitingPassengers, StepAskPassengers)
}

func moveTo(s models.UserSession, state models.SessionState, step Step) Result {
	s.State = state
	return Result{Session: s, Step: step, Changed: true}
}
