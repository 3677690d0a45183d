package session

import (
	"errors"
	"testing"

	"github.com/example/carpool-matching/internal/models"
)

func registered() models.UserSession {
	return models.UserSession{UserID: "u1", Name: "Amy", Phone: "0912345678"}
}

func TestRegistrationFlow(t *testing.T) {
	s := models.UserSession{UserID: "u1"}

	r := Apply(s, Input{Kind: InputRegisterRequested})
	if r.Step != StepAskName || r.Session.State != models.StateAwaitingName || !r.Changed {
		t.Fatalf("register: %+v", r)
	}
	r = Apply(r.Session, Input{Kind: InputText, Text: "  Amy "})
	if r.Step != StepAskPhone || r.Session.Name != "Amy" || r.Session.State != models.StateAwaitingPhone {
		t.Fatalf("name: %+v", r)
	}

	for _, bad := range []string{"0812345678", "091234567", "09123456789", "09-1234567", ""} {
		rr := Apply(r.Session, Input{Kind: InputText, Text: bad})
		if rr.Step != StepInvalidPhone || rr.Changed || rr.Session.State != models.StateAwaitingPhone {
			t.Fatalf("phone %q: %+v", bad, rr)
		}
		if !models.IsValidation(rr.Err) {
			t.Fatalf("phone %q: expected validation error, got %v", bad, rr.Err)
		}
	}

	r = Apply(r.Session, Input{Kind: InputText, Text: "0912345678"})
	if r.Step != StepRegistered || r.Session.State != models.StateNone || !r.Session.Registered() {
		t.Fatalf("phone: %+v", r)
	}

	r = Apply(r.Session, Input{Kind: InputRegisterRequested})
	if r.Step != StepAlreadyRegistered || r.Changed {
		t.Fatalf("re-register: %+v", r)
	}
}

func TestUnregisteredUserIsGuarded(t *testing.T) {
	s := models.UserSession{UserID: "u1"}
	for _, kind := range []InputKind{InputSetDestinationRequested, InputFeedbackRequested, InputText} {
		r := Apply(s, Input{Kind: kind, Text: "hello"})
		if r.Step != StepNeedsRegistration || r.Changed || r.Session.State != models.StateNone {
			t.Fatalf("kind %d: %+v", kind, r)
		}
	}
}

func TestDestinationAndPassengers(t *testing.T) {
	s := registered()
	s.Passengers = 3

	r := Apply(s, Input{Kind: InputSetDestinationRequested})
	if r.Step != StepAskDestination || r.Session.State != models.StateAwaitingDestination {
		t.Fatalf("set destination: %+v", r)
	}
	if rr := Apply(r.Session, Input{Kind: InputText, Text: "Taipei 101"}); rr.Step != StepAskDestination || rr.Changed {
		t.Fatalf("text while awaiting location: %+v", rr)
	}
	bad := models.Coord{Lon: 181, Lat: 0}
	if rr := Apply(r.Session, Input{Kind: InputLocation, Location: &bad}); rr.Step != StepAskDestination || rr.Changed {
		t.Fatalf("bad location: %+v", rr)
	}

	dest := models.Coord{Lon: 121.5645, Lat: 25.0339}
	r = Apply(r.Session, Input{Kind: InputLocation, Location: &dest})
	if r.Step != StepAskPassengers || r.Session.State != models.StateAwaitingPassengers {
		t.Fatalf("location: %+v", r)
	}
	if r.Session.Address == "" || r.Session.Passengers != 0 || r.Session.ReadyToMatch() {
		t.Fatalf("session = %+v", r.Session)
	}

	for _, bad := range []string{"0", "5", "two", "-1", "1.5"} {
		rr := Apply(r.Session, Input{Kind: InputText, Text: bad})
		if rr.Step != StepInvalidPassengers || rr.Changed || rr.Session.State != models.StateAwaitingPassengers {
			t.Fatalf("passengers %q: %+v", bad, rr)
		}
	}
	r = Apply(r.Session, Input{Kind: InputText, Text: " 2 "})
	if r.Step != StepSettingsComplete || r.Session.Passengers != 2 || r.Session.State != models.StateNone {
		t.Fatalf("passengers: %+v", r)
	}
	if !r.Session.ReadyToMatch() {
		t.Fatalf("session should be ready: %+v", r.Session)
	}
}

func TestFeedbackFlow(t *testing.T) {
	r := Apply(registered(), Input{Kind: InputFeedbackRequested})
	if r.Step != StepAskFeedback || r.Session.State != models.StateAwaitingFeedback {
		t.Fatalf("feedback request: %+v", r)
	}
	if rr := Apply(r.Session, Input{Kind: InputText, Text: "   "}); rr.Step != StepAskFeedback || rr.Changed {
		t.Fatalf("blank feedback: %+v", rr)
	}
	r = Apply(r.Session, Input{Kind: InputText, Text: "great service"})
	if r.Step != StepFeedbackReceived || r.Feedback != "great service" || r.Session.State != models.StateNone {
		t.Fatalf("feedback: %+v", r)
	}
}

func TestTriggersMidFlowAskToFinish(t *testing.T) {
	s := registered()
	s.State = models.StateAwaitingPassengers
	for _, kind := range []InputKind{InputRegisterRequested, InputSetDestinationRequested, InputFeedbackRequested} {
		r := Apply(s, Input{Kind: kind})
		if r.Step != StepFinishCurrentStep || r.Changed || r.Session.State != models.StateAwaitingPassengers {
			t.Fatalf("kind %d: %+v", kind, r)
		}
	}
}

func TestLocationOutsideDestinationStep(t *testing.T) {
	c := models.Coord{Lon: 121, Lat: 25}
	r := Apply(registered(), Input{Kind: InputLocation, Location: &c})
	if r.Step != StepUnexpectedLocation || r.Changed {
		t.Fatalf("unexpected location: %+v", r)
	}
}

func TestIdleTextShowsMenu(t *testing.T) {
	r := Apply(registered(), Input{Kind: InputText, Text: "hi"})
	if r.Step != StepMainMenu || r.Changed {
		t.Fatalf("idle text: %+v", r)
	}
}

func TestParseReasons(t *testing.T) {
	if _, err := ParsePhone("0812345678"); !errors.Is(err, ErrBadPrefix) {
		t.Fatalf("expected ErrBadPrefix, got %v", err)
	}
	if _, err := ParsePhone("09abc"); !errors.Is(err, ErrNotANumber) {
		t.Fatalf("expected ErrNotANumber, got %v", err)
	}
	if _, err := ParsePassengers("7"); !errors.Is(err, ErrOutOfRange) || !errors.Is(err, models.ErrInvalidFormat) {
		t.Fatalf("expected ErrOutOfRange, got %v", err)
	}
	if n, err := ParsePassengers("4"); err != nil || n != 4 {
		t.Fatalf("ParsePassengers(4) = %d, %v", n, err)
	}
}
