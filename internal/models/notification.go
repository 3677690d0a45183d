package models

import "time"

type NoticeKind string

const (
	NoticeRegisterPrompt      NoticeKind = "register_prompt"
	NoticeAskName             NoticeKind = "ask_name"
	NoticeAskPhone            NoticeKind = "ask_phone"
	NoticeInvalidPhone        NoticeKind = "invalid_phone"
	NoticeRegistered          NoticeKind = "registered"
	NoticeAlreadyRegistered   NoticeKind = "already_registered"
	NoticeMainMenu            NoticeKind = "main_menu"
	NoticeHelp                NoticeKind = "help"
	NoticeAskDestination      NoticeKind = "ask_destination"
	NoticeAskPassengers       NoticeKind = "ask_passengers"
	NoticeInvalidPassengers   NoticeKind = "invalid_passengers"
	NoticeSettingsComplete    NoticeKind = "settings_complete"
	NoticeSettingsIncomplete  NoticeKind = "settings_incomplete"
	NoticeUnexpectedLocation  NoticeKind = "unexpected_location"
	NoticeSearching           NoticeKind = "searching"
	NoticeAlreadyQueued       NoticeKind = "already_queued"
	NoticeAlreadyMatched      NoticeKind = "already_matched"
	NoticePendingCancelled    NoticeKind = "pending_cancelled"
	NoticeNothingToCancel     NoticeKind = "nothing_to_cancel"
	NoticeTimeout             NoticeKind = "timeout"
	NoticeMatchSuccess        NoticeKind = "match_success"
	NoticeLeftGroup           NoticeKind = "left_group"
	NoticeMemberLeft          NoticeKind = "member_left"
	NoticeGroupCancelled      NoticeKind = "group_cancelled"
	NoticeNotAMember          NoticeKind = "not_a_member"
	NoticeGroupNotFound       NoticeKind = "group_not_found"
	NoticeAskVehicleID        NoticeKind = "ask_vehicle_id"
	NoticeInvalidVehicleID    NoticeKind = "invalid_vehicle_id"
	NoticeNotLeader           NoticeKind = "not_leader"
	NoticeVehicleRegistered   NoticeKind = "vehicle_registered"
	NoticeVehicleAnnouncement NoticeKind = "vehicle_announcement"
	NoticeAskFeedback         NoticeKind = "ask_feedback"
	NoticeFeedbackThanks      NoticeKind = "feedback_thanks"
	NoticeFinishCurrentStep   NoticeKind = "finish_current_step"
	NoticeUnknownCommand      NoticeKind = "unknown_command"
	NoticeBusy                NoticeKind = "busy"
	NoticeServiceError        NoticeKind = "service_error"
)

// Action is a tappable choice attached to a notification. Data is a postback
// payload; a LocationPicker action asks the client to share a location instead.
type Action struct {
	Label          string `json:"label"`
	Data           string `json:"data,omitempty"`
	URI            string `json:"uri,omitempty"`
	LocationPicker bool   `json:"location_picker,omitempty"`
}

// Notification is one message addressed to one user.
type Notification struct {
	UserID  string     `json:"user_id"`
	Kind    NoticeKind `json:"kind"`
	Text    string     `json:"text"`
	Actions []Action   `json:"actions,omitempty"`
}

type GroupEventType string

const (
	EventGroupFormed       GroupEventType = "group_formed"
	EventMemberLeft        GroupEventType = "member_left"
	EventGroupCancelled    GroupEventType = "group_cancelled"
	EventVehicleRequested  GroupEventType = "vehicle_requested"
	EventVehicleRegistered GroupEventType = "vehicle_registered"
	EventRequestTimedOut   GroupEventType = "request_timed_out"
)

// GroupEvent records one lifecycle change for audit and live feeds.
type GroupEvent struct {
	Type            GroupEventType `json:"type"`
	GroupID         string         `json:"group_id,omitempty"`
	UserID          string         `json:"user_id,omitempty"`
	Members         []string       `json:"members,omitempty"`
	TotalPassengers int            `json:"total_passengers,omitempty"`
	DestinationKey  string         `json:"destination_key,omitempty"`
	At              time.Time      `json:"at"`
}
