package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/example/carpool-matching/internal/config"
	"github.com/example/carpool-matching/internal/dispatch"
	"github.com/example/carpool-matching/internal/geo"
	"github.com/example/carpool-matching/internal/logging"
	"github.com/example/carpool-matching/internal/matcher"
	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/notice"
	"github.com/example/carpool-matching/internal/registry"
	"github.com/example/carpool-matching/internal/session"
	"github.com/example/carpool-matching/internal/storage"
)

const (
	loadingSeconds       = 30
	maxSaveAttempts      = 3
	defaultLockTimeout   = 3 * time.Second
	feedbackFallbackName = "unknown user"
)

// Service handles inbound user events. Every handler runs under the user's
// lock and answers with the notifications to deliver; failures are logged and
// turned into a generic notice rather than returned.
type Service struct {
	Sessions storage.SessionStore
	Feedback storage.FeedbackLog
	Locks    storage.Locker
	Matcher  *matcher.Engine
	Registry *registry.Registry
	Geocoder geo.Geocoder
	Loading  dispatch.LoadingIndicator
	Config   config.MatchingConfig

	CallTimeout time.Duration
	LockTimeout time.Duration
	Now         func() time.Time
	Logger      *slog.Logger
}

func (s *Service) now() time.Time {
	if s.Now != nil {
		return s.Now()
	}
	return time.Now()
}

func (s *Service) logger() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return logging.Discard()
}

type handlerFunc func(ctx context.Context, log *slog.Logger) ([]models.Notification, error)

func (s *Service) withUser(ctx context.Context, userID, op string, fn handlerFunc) []models.Notification {
	log := s.logger().With("user_id", userID, "op", op)
	timeout := s.LockTimeout
	if timeout <= 0 {
		timeout = defaultLockTimeout
	}
	lockCtx, cancel := context.WithTimeout(ctx, timeout)
	unlock, err := s.Locks.Lock(lockCtx, userID)
	cancel()
	if err != nil {
		log.Warn("user lock unavailable", "error", err)
		return []models.Notification{notice.Busy(userID)}
	}
	defer unlock()

	notes, err := fn(ctx, log)
	if err != nil {
		log.Error("handler failed", "error", err)
		return []models.Notification{notice.ServiceError(userID)}
	}
	return notes
}

func (s *Service) OnRegisterRequested(ctx context.Context, userID string) []models.Notification {
	return s.withUser(ctx, userID, "register", func(ctx context.Context, log *slog.Logger) ([]models.Notification, error) {
		return s.transition(ctx, log, userID, session.Input{Kind: session.InputRegisterRequested})
	})
}

func (s *Service) OnSetDestinationRequested(ctx context.Context, userID string) []models.Notification {
	return s.withUser(ctx, userID, "set_destination", func(ctx context.Context, log *slog.Logger) ([]models.Notification, error) {
		return s.transition(ctx, log, userID, session.Input{Kind: session.InputSetDestinationRequested})
	})
}

func (s *Service) OnFeedbackRequested(ctx context.Context, userID string) []models.Notification {
	return s.withUser(ctx, userID, "feedback", func(ctx context.Context, log *slog.Logger) ([]models.Notification, error) {
		return s.transition(ctx, log, userID, session.Input{Kind: session.InputFeedbackRequested})
	})
}

func (s *Service) OnHelpRequested(_ context.Context, userID string) []models.Notification {
	return []models.Notification{notice.Help(userID)}
}

// OnTextInput feeds free text to the current conversation step. An idle
// leader whose group waits for a plate has the text taken as the plate;
// other idle users get keyword routing.
func (s *Service) OnTextInput(ctx context.Context, userID, text string) []models.Notification {
	return s.withUser(ctx, userID, "text", func(ctx context.Context, log *slog.Logger) ([]models.Notification, error) {
		sess, err := s.Sessions.GetOrCreateSession(ctx, userID, s.now())
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		if sess.State == models.StateNone {
			if g, err := s.Registry.AwaitingVehicleID(ctx, userID); err == nil {
				return s.submitVehicleID(ctx, userID, g.ID, text)
			} else if !errors.Is(err, models.ErrNotFound) {
				return nil, fmt.Errorf("lookup awaiting group: %w", err)
			}
			if sess.Registered() {
				switch matchKeyword(text) {
				case keywordHelp:
					return []models.Notification{notice.Help(userID)}, nil
				case keywordFeedback:
					return s.transition(ctx, log, userID, session.Input{Kind: session.InputFeedbackRequested})
				case keywordSetDestination:
					return s.transition(ctx, log, userID, session.Input{Kind: session.InputSetDestinationRequested})
				case keywordStartMatching:
					return s.startMatching(ctx, log, userID)
				}
			}
		}
		return s.transition(ctx, log, userID, session.Input{Kind: session.InputText, Text: text})
	})
}

// OnLocationInput takes a shared location as the destination. hint is the
// address the messaging client attached, if any.
func (s *Service) OnLocationInput(ctx context.Context, userID string, c models.Coord, hint string) []models.Notification {
	return s.withUser(ctx, userID, "location", func(ctx context.Context, log *slog.Logger) ([]models.Notification, error) {
		sess, err := s.Sessions.GetOrCreateSession(ctx, userID, s.now())
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		in := session.Input{Kind: session.InputLocation, Location: &c}
		if sess.State == models.StateAwaitingDestination && geo.ValidCoord(c) == nil {
			in.Address = geo.ResolveAddress(ctx, s.Geocoder, c, hint, s.CallTimeout, log)
		}
		return s.transition(ctx, log, userID, in)
	})
}

func (s *Service) OnStartMatchingRequested(ctx context.Context, userID string) []models.Notification {
	return s.withUser(ctx, userID, "start_matching", func(ctx context.Context, log *slog.Logger) ([]models.Notification, error) {
		return s.startMatching(ctx, log, userID)
	})
}

func (s *Service) OnCancelPending(ctx context.Context, userID string) []models.Notification {
	return s.withUser(ctx, userID, "cancel_pending", func(ctx context.Context, log *slog.Logger) ([]models.Notification, error) {
		err := s.Matcher.Cancel(ctx, userID)
		if errors.Is(err, models.ErrNotFound) {
			return []models.Notification{notice.NothingToCancel(userID)}, nil
		}
		if err != nil {
			return nil, err
		}
		return []models.Notification{notice.PendingCancelled(userID)}, nil
	})
}

func (s *Service) OnLeaveGroup(ctx context.Context, userID, groupID string) []models.Notification {
	return s.withUser(ctx, userID, "leave_group", func(ctx context.Context, log *slog.Logger) ([]models.Notification, error) {
		res, err := s.Registry.Leave(ctx, userID, groupID)
		if n, ok := groupErrorNotice(userID, err); ok {
			return []models.Notification{n}, nil
		}
		if err != nil {
			return nil, err
		}
		return res.Notes, nil
	})
}

func (s *Service) OnRequestVehicleId(ctx context.Context, userID, groupID string) []models.Notification {
	return s.withUser(ctx, userID, "request_vehicle_id", func(ctx context.Context, log *slog.Logger) ([]models.Notification, error) {
		notes, err := s.Registry.RequestVehicleID(ctx, userID, groupID)
		if n, ok := groupErrorNotice(userID, err); ok {
			return []models.Notification{n}, nil
		}
		return notes, err
	})
}

func (s *Service) OnSubmitVehicleId(ctx context.Context, userID, groupID, raw string) []models.Notification {
	return s.withUser(ctx, userID, "submit_vehicle_id", func(ctx context.Context, log *slog.Logger) ([]models.Notification, error) {
		return s.submitVehicleID(ctx, userID, groupID, raw)
	})
}

func (s *Service) submitVehicleID(ctx context.Context, userID, groupID, raw string) ([]models.Notification, error) {
	notes, err := s.Registry.SubmitVehicleID(ctx, userID, groupID, raw)
	if n, ok := groupErrorNotice(userID, err); ok {
		return []models.Notification{n}, nil
	}
	return notes, err
}

func (s *Service) startMatching(ctx context.Context, log *slog.Logger, userID string) ([]models.Notification, error) {
	sess, err := s.Sessions.GetOrCreateSession(ctx, userID, s.now())
	if err != nil {
		return nil, fmt.Errorf("load session: %w", err)
	}
	switch {
	case sess.State != models.StateNone:
		return []models.Notification{notice.FinishCurrentStep(userID, sess.State)}, nil
	case !sess.Registered():
		return []models.Notification{notice.RegisterPrompt(userID)}, nil
	case !sess.ReadyToMatch():
		return []models.Notification{notice.SettingsIncomplete(userID)}, nil
	}

	err = s.Matcher.Enqueue(ctx, userID, *sess.Destination, sess.Passengers)
	switch {
	case errors.Is(err, models.ErrAlreadyQueued):
		return []models.Notification{notice.AlreadyQueued(userID)}, nil
	case errors.Is(err, models.ErrAlreadyMatched):
		g, gerr := s.Registry.Groups.OpenGroupForUser(ctx, userID)
		if gerr != nil {
			return nil, fmt.Errorf("lookup open group: %w", gerr)
		}
		return []models.Notification{notice.AlreadyMatched(userID, g.ID)}, nil
	case models.IsValidation(err):
		log.Warn("stored settings rejected", "error", err)
		return []models.Notification{notice.SettingsIncomplete(userID)}, nil
	case err != nil:
		return nil, err
	}

	s.showLoading(ctx, log, userID)
	return []models.Notification{notice.Searching(userID, s.Config.Interval)}, nil
}

func (s *Service) showLoading(ctx context.Context, log *slog.Logger, userID string) {
	if s.Loading == nil {
		return
	}
	callCtx := ctx
	if s.CallTimeout > 0 {
		var cancel context.CancelFunc
		callCtx, cancel = context.WithTimeout(ctx, s.CallTimeout)
		defer cancel()
	}
	if err := s.Loading.ShowLoading(callCtx, userID, dispatch.ClampLoadingSeconds(loadingSeconds)); err != nil {
		log.Warn("loading indicator failed", "error", err)
	}
}

// transition applies one input to the user's session and persists the
// result, retrying when a concurrent writer bumped the version.
func (s *Service) transition(ctx context.Context, log *slog.Logger, userID string, in session.Input) ([]models.Notification, error) {
	for attempt := 1; ; attempt++ {
		now := s.now()
		sess, err := s.Sessions.GetOrCreateSession(ctx, userID, now)
		if err != nil {
			return nil, fmt.Errorf("load session: %w", err)
		}
		res := session.Apply(*sess, in)
		if res.Err != nil {
			log.Debug("input rejected", "step", res.Step, "error", res.Err)
		}
		if res.Changed {
			next := res.Session
			next.UpdatedAt = now
			err := s.Sessions.SaveSession(ctx, &next)
			if errors.Is(err, models.ErrConflict) && attempt < maxSaveAttempts {
				log.Debug("session save conflict, retrying", "attempt", attempt)
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("save session: %w", err)
			}
			res.Session = next
		}
		if res.Step == session.StepFeedbackReceived {
			if err := s.recordFeedback(ctx, res.Session, res.Feedback, now); err != nil {
				return nil, err
			}
			log.Info("feedback recorded")
		}
		return render(userID, res), nil
	}
}

func (s *Service) recordFeedback(ctx context.Context, sess models.UserSession, text string, now time.Time) error {
	name := sess.Name
	if name == "" {
		name = feedbackFallbackName
	}
	if err := s.Feedback.AppendFeedback(ctx, models.Feedback{UserID: sess.UserID, Name: name, Text: text, CreatedAt: now}); err != nil {
		return fmt.Errorf("append feedback: %w", err)
	}
	return nil
}

func render(userID string, res session.Result) []models.Notification {
	sess := res.Session
	var n models.Notification
	switch res.Step {
	case session.StepAskName:
		n = notice.AskName(userID)
	case session.StepAskPhone:
		n = notice.AskPhone(userID)
	case session.StepInvalidPhone:
		n = notice.InvalidPhone(userID)
	case session.StepRegistered:
		n = notice.Registered(userID, sess.Name)
	case session.StepAlreadyRegistered:
		n = notice.AlreadyRegistered(userID, sess.Name)
	case session.StepNeedsRegistration:
		n = notice.RegisterPrompt(userID)
	case session.StepAskDestination:
		n = notice.AskDestination(userID)
	case session.StepAskPassengers:
		n = notice.AskPassengers(userID, sess.Address)
	case session.StepInvalidPassengers:
		n = notice.InvalidPassengers(userID)
	case session.StepSettingsComplete:
		n = notice.SettingsComplete(userID, sess.Address, sess.Passengers)
	case session.StepAskFeedback:
		n = notice.AskFeedback(userID)
	case session.StepFeedbackReceived:
		n = notice.FeedbackThanks(userID)
	case session.StepFinishCurrentStep:
		n = notice.FinishCurrentStep(userID, sess.State)
	case session.StepUnexpectedLocation:
		n = notice.UnexpectedLocation(userID)
	default:
		n = notice.MainMenu(userID, sess.Name)
	}
	return []models.Notification{n}
}

func groupErrorNotice(userID string, err error) (models.Notification, bool) {
	switch {
	case err == nil:
		return models.Notification{}, false
	case errors.Is(err, models.ErrNotAMember):
		return notice.NotAMember(userID), true
	case errors.Is(err, models.ErrNotLeader):
		return notice.NotLeader(userID), true
	case errors.Is(err, models.ErrInvalidFormat):
		return notice.InvalidVehicleID(userID), true
	case errors.Is(err, models.ErrNotFound), errors.Is(err, models.ErrGroupClosed):
		return notice.GroupNotFound(userID), true
	}
	return models.Notification{}, false
}
