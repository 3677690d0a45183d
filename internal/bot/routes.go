package bot

import (
	"context"
	"net/url"
	"strings"

	"github.com/example/carpool-matching/internal/models"
	"github.com/example/carpool-matching/internal/notice"
)

type keyword int

const (
	keywordNone keyword = iota
	keywordHelp
	keywordFeedback
	keywordSetDestination
	keywordStartMatching
)

var keywords = map[string]keyword{
	"help":            keywordHelp,
	"?":               keywordHelp,
	"使用說明":            keywordHelp,
	"幫助":              keywordHelp,
	"feedback":        keywordFeedback,
	"客服":              keywordFeedback,
	"聯繫客服":            keywordFeedback,
	"意見":              keywordFeedback,
	"回饋":              keywordFeedback,
	"set destination": keywordSetDestination,
	"設定":              keywordSetDestination,
	"目的地":             keywordSetDestination,
	"重設":              keywordSetDestination,
	"start matching":  keywordStartMatching,
	"配對":              keywordStartMatching,
	"開始":              keywordStartMatching,
	"找人":              keywordStartMatching,
}

func matchKeyword(text string) keyword {
	return keywords[strings.ToLower(strings.TrimSpace(text))]
}

// HandlePostback routes a button payload such as
// "action=cancel_successful_match&match_id=<id>" to its handler.
func (s *Service) HandlePostback(ctx context.Context, userID, data string) []models.Notification {
	v, err := url.ParseQuery(data)
	if err != nil {
		s.logger().Warn("malformed postback", "user_id", userID, "data", data, "error", err)
		return []models.Notification{notice.UnknownCommand(userID)}
	}
	groupID := v.Get("match_id")

	switch v.Get("action") {
	case notice.ActionRegister:
		return s.OnRegisterRequested(ctx, userID)
	case notice.ActionSetDestination:
		return s.OnSetDestinationRequested(ctx, userID)
	case notice.ActionStartMatching:
		return s.OnStartMatchingRequested(ctx, userID)
	case notice.ActionHelp:
		return s.OnHelpRequested(ctx, userID)
	case notice.ActionFeedback:
		return s.OnFeedbackRequested(ctx, userID)
	case notice.ActionCancelPending:
		return s.OnCancelPending(ctx, userID)
	case notice.ActionLeaveGroup:
		if groupID == "" {
			break
		}
		return s.OnLeaveGroup(ctx, userID, groupID)
	case notice.ActionSubmitVehicle:
		if groupID == "" {
			break
		}
		return s.OnRequestVehicleId(ctx, userID, groupID)
	}
	s.logger().Warn("unknown postback", "user_id", userID, "data", data)
	return []models.Notification{notice.UnknownCommand(userID)}
}
