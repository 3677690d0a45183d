// Package notice builds the user-facing notifications and the postback
// payloads attached to them.
package notice

import (
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/example/carpool-matching/internal/geo"
	"github.com/example/carpool-matching/internal/models"
)

// Postback actions understood by the webhook router.
const (
	ActionRegister       = "register"
	ActionSetDestination = "set_destination"
	ActionStartMatching  = "start_matching"
	ActionHelp           = "help"
	ActionFeedback       = "feedback"
	ActionCancelPending  = "cancel_pending_match"
	ActionLeaveGroup     = "cancel_successful_match"
	ActionSubmitVehicle  = "submit_vehicle"
)

// DefaultPartnerName addresses a member whose profile could not be fetched.
const DefaultPartnerName = "carpool partner"

// PostbackData encodes an action and an optional group id as a query string.
func PostbackData(action, groupID string) string {
	v := url.Values{"action": {action}}
	if groupID != "" {
		v.Set("match_id", groupID)
	}
	return v.Encode()
}

// ShortID is the group id prefix shown to users.
func ShortID(groupID string) string {
	if len(groupID) > 8 {
		return groupID[:8]
	}
	return groupID
}

func postback(label, action string) models.Action {
	return models.Action{Label: label, Data: PostbackData(action, "")}
}

func build(userID string, kind models.NoticeKind, text string, actions ...models.Action) models.Notification {
	return models.Notification{UserID: userID, Kind: kind, Text: text, Actions: actions}
}

func RegisterPrompt(userID string) models.Notification {
	return build(userID, models.NoticeRegisterPrompt,
		"Welcome to shared taxi matching! Please register first, it only takes two steps.",
		postback("Register", ActionRegister), postback("Learn more", ActionHelp))
}

func AskName(userID string) models.Notification {
	return build(userID, models.NoticeAskName, "Please enter your name.")
}

func AskPhone(userID string) models.Notification {
	return build(userID, models.NoticeAskPhone, "Please enter your mobile number (10 digits starting with 09).")
}

func InvalidPhone(userID string) models.Notification {
	return build(userID, models.NoticeInvalidPhone,
		"That does not look like a valid mobile number. Please enter 10 digits starting with 09.")
}

func Registered(userID, name string) models.Notification {
	return build(userID, models.NoticeRegistered,
		fmt.Sprintf("Registration complete. Welcome, %s!", name), menuActions()...)
}

func AlreadyRegistered(userID, name string) models.Notification {
	return build(userID, models.NoticeAlreadyRegistered,
		fmt.Sprintf("You are already registered as %s.", name), menuActions()...)
}

func MainMenu(userID, name string) models.Notification {
	return build(userID, models.NoticeMainMenu, fmt.Sprintf("Hi %s, please choose an option:", name), menuActions()...)
}

func menuActions() []models.Action {
	return []models.Action{
		postback("Set destination", ActionSetDestination),
		postback("Start matching", ActionStartMatching),
		postback("Help", ActionHelp),
		postback("Feedback", ActionFeedback),
	}
}

const helpText = `How shared taxi matching works:

1. Register: enter your name and mobile number (first time only).
2. Set destination: share the location you are heading to.
3. Set passengers: enter how many people ride, yourself included (1-4).
4. Start matching: we look for riders heading to the same place.
5. Match notice: once partners are found you get the group details and a map link.
6. Cancel: stop searching while pending, or leave a formed group.

Tips:
- Matching runs every few minutes, please be patient.
- If nobody is found for a while, try again later.
- Type "feedback" to reach us.`

func Help(userID string) models.Notification {
	return build(userID, models.NoticeHelp, helpText)
}

func AskDestination(userID string) models.Notification {
	return build(userID, models.NoticeAskDestination, "Please share the location of your destination.",
		models.Action{Label: "Share location", LocationPicker: true})
}

func AskPassengers(userID, address string) models.Notification {
	return build(userID, models.NoticeAskPassengers,
		fmt.Sprintf("Destination set:\n%s\n\nHow many people will ride, yourself included? (1-4)", address))
}

func InvalidPassengers(userID string) models.Notification {
	return build(userID, models.NoticeInvalidPassengers, "Please enter a number between 1 and 4.")
}

func SettingsComplete(userID, address string, passengers int) models.Notification {
	return build(userID, models.NoticeSettingsComplete,
		fmt.Sprintf("Settings saved.\nDestination: %s\nPassengers: %d\n\nReady to find carpool partners?", address, passengers),
		postback("Start matching", ActionStartMatching), postback("Change settings", ActionSetDestination))
}

func SettingsIncomplete(userID string) models.Notification {
	return build(userID, models.NoticeSettingsIncomplete,
		"Please set your destination and passenger count before matching.",
		postback("Set destination", ActionSetDestination))
}

func UnexpectedLocation(userID string) models.Notification {
	return build(userID, models.NoticeUnexpectedLocation,
		"Got your location, but I was not expecting one. Tap \"Set destination\" first.",
		postback("Set destination", ActionSetDestination))
}

func Searching(userID string, interval time.Duration) models.Notification {
	return build(userID, models.NoticeSearching,
		fmt.Sprintf("Looking for carpool partners...\nMatching runs every %d minute(s).", wholeMinutes(interval)),
		postback("Cancel search", ActionCancelPending))
}

func AlreadyQueued(userID string) models.Notification {
	return build(userID, models.NoticeAlreadyQueued, "You are already waiting for a match.",
		postback("Cancel search", ActionCancelPending))
}

func AlreadyMatched(userID, groupID string) models.Notification {
	return build(userID, models.NoticeAlreadyMatched,
		fmt.Sprintf("You are already in carpool group %s.", ShortID(groupID)),
		models.Action{Label: "Leave group", Data: PostbackData(ActionLeaveGroup, groupID)})
}

func PendingCancelled(userID string) models.Notification {
	return build(userID, models.NoticePendingCancelled, "Your search has been cancelled.", menuActions()...)
}

func NothingToCancel(userID string) models.Notification {
	return build(userID, models.NoticeNothingToCancel, "You have no search in progress.")
}

func Timeout(userID string, timeout time.Duration) models.Notification {
	return build(userID, models.NoticeTimeout,
		fmt.Sprintf("Sorry, no carpool partner was found within %d minutes.\nYou can try again later or adjust your destination.", wholeMinutes(timeout)),
		postback("Try again", ActionStartMatching))
}

// MatchSuccess is the notice for one member of a freshly formed group.
func MatchSuccess(userID, displayName string, g *models.MatchGroup) models.Notification {
	var b strings.Builder
	fmt.Fprintf(&b, "Match found, %s!\n", displayName)
	fmt.Fprintf(&b, "Riding with %d partner(s), %d passenger(s) in total.\n", len(g.Members)-1, g.TotalPassengers)
	fmt.Fprintf(&b, "Matched at: %s\n", g.CreatedAt.Format("2006-01-02 15:04"))
	fmt.Fprintf(&b, "Group: %s\n", ShortID(g.ID))
	fmt.Fprintf(&b, "Destination: %s", geo.MapURL(g.Destination))
	actions := []models.Action{{Label: "Leave group", Data: PostbackData(ActionLeaveGroup, g.ID)}}
	if userID == g.LeaderID {
		b.WriteString("\n\nYou are the group leader. Once you have a taxi, share its plate number with the group.")
		actions = append(actions, models.Action{Label: "Submit plate", Data: PostbackData(ActionSubmitVehicle, g.ID)})
	}
	return build(userID, models.NoticeMatchSuccess, b.String(), actions...)
}

func LeftGroup(userID, groupID string) models.Notification {
	return build(userID, models.NoticeLeftGroup, fmt.Sprintf("You left carpool group %s.", ShortID(groupID)), menuActions()...)
}

func MemberLeft(userID, groupID, leaverName string, remaining, totalPassengers int) models.Notification {
	return build(userID, models.NoticeMemberLeft,
		fmt.Sprintf("%s left carpool group %s. %d member(s) remain, %d passenger(s) in total.",
			leaverName, ShortID(groupID), remaining, totalPassengers))
}

func GroupCancelled(userID, groupID string) models.Notification {
	return build(userID, models.NoticeGroupCancelled,
		fmt.Sprintf("Carpool group %s was cancelled because too few members remain.\nYou can start matching again.", ShortID(groupID)),
		postback("Start matching", ActionStartMatching))
}

func NotAMember(userID string) models.Notification {
	return build(userID, models.NoticeNotAMember, "You are not a member of that carpool group.")
}

func GroupNotFound(userID string) models.Notification {
	return build(userID, models.NoticeGroupNotFound, "That carpool group no longer exists or has been cancelled.")
}

func AskVehicleID(userID string) models.Notification {
	return build(userID, models.NoticeAskVehicleID, "Please enter the taxi's plate number (for example ABC-1234).")
}

func InvalidVehicleID(userID string) models.Notification {
	return build(userID, models.NoticeInvalidVehicleID, "That plate number does not look right. Please try again, for example ABC-1234.")
}

func NotLeader(userID string) models.Notification {
	return build(userID, models.NoticeNotLeader, "Only the group leader can submit the plate number.")
}

func VehicleRegistered(userID, plate string) models.Notification {
	return build(userID, models.NoticeVehicleRegistered, fmt.Sprintf("Plate %s shared with your group.", plate))
}

func VehicleAnnouncement(userID, groupID, plate string) models.Notification {
	return build(userID, models.NoticeVehicleAnnouncement,
		fmt.Sprintf("Your group leader has a taxi for group %s. Plate number: %s", ShortID(groupID), plate))
}

func AskFeedback(userID string) models.Notification {
	return build(userID, models.NoticeAskFeedback, "Please type your feedback or question and we will get back to you.")
}

func FeedbackThanks(userID string) models.Notification {
	return build(userID, models.NoticeFeedbackThanks, "Thanks for your feedback!", menuActions()...)
}

// FinishCurrentStep re-prompts a user who started something else mid-flow.
func FinishCurrentStep(userID string, state models.SessionState) models.Notification {
	step := map[models.SessionState]string{
		models.StateAwaitingName:        "enter your name",
		models.StateAwaitingPhone:       "enter your mobile number",
		models.StateAwaitingDestination: "share your destination",
		models.StateAwaitingPassengers:  "enter the passenger count (1-4)",
		models.StateAwaitingFeedback:    "type your feedback",
	}[state]
	if step == "" {
		step = "finish the current step"
	}
	return build(userID, models.NoticeFinishCurrentStep, fmt.Sprintf("Please %s first.", step))
}

func UnknownCommand(userID string) models.Notification {
	return build(userID, models.NoticeUnknownCommand, "Sorry, I did not understand that.", postback("Help", ActionHelp))
}

func Busy(userID string) models.Notification {
	return build(userID, models.NoticeBusy, "Still working on your previous request, please try again in a moment.")
}

func ServiceError(userID string) models.Notification {
	return build(userID, models.NoticeServiceError, "Something went wrong on our side. Please try again later.")
}

func wholeMinutes(d time.Duration) int {
	m := int(d / time.Minute)
	if m < 1 {
		return 1
	}
	return m
}
