package storage

import (
	"testing"

	"github.com/example/carpool-matching/internal/models"
)

func TestMemberArrayEncodesMissingMembersAsEmpty(t *testing.T) {
	cases := []struct {
		name string
		e    models.GroupEvent
		want string
	}{
		{"timed out request", models.GroupEvent{Type: models.EventRequestTimedOut, UserID: "u1"}, "{}"},
		{"vehicle requested", models.GroupEvent{Type: models.EventVehicleRequested, GroupID: "g1"}, "{}"},
		{"empty slice", models.GroupEvent{Type: models.EventGroupCancelled, Members: []string{}}, "{}"},
		{"formed group", models.GroupEvent{Type: models.EventGroupFormed, Members: []string{"a", "b"}}, `{"a","b"}`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			v, err := memberArray(tc.e.Members).Value()
			if err != nil {
				t.Fatalf("value: %v", err)
			}
			if v == nil {
				t.Fatal("members encoded as NULL")
			}
			if got, _ := v.(string); got != tc.want {
				t.Fatalf("members = %v, want %s", v, tc.want)
			}
		})
	}
}
