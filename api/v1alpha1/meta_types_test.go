package v1alpha1

import (
	"encoding/json"
	"testing"
	"time"
)

func TestTimeJSONRoundTrip(t *testing.T) {
	now := Time{Time: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)}
	data, err := now.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	var out Time
	if err := out.UnmarshalJSON(data); err != nil {
		t.Fatalf("UnmarshalJSON: %v", err)
	}
	if !out.Equal(now.Time) {
		t.Fatalf("got %v, want %v", out.Time, now.Time)
	}
}

func TestTimeZeroMarshalsNull(t *testing.T) {
	var zero Time
	data, err := zero.MarshalJSON()
	if err != nil {
		t.Fatalf("MarshalJSON: %v", err)
	}
	if string(data) != "null" {
		t.Fatalf("got %s, want null", data)
	}
}

func TestSetConditionUpdatesInPlace(t *testing.T) {
	inst := NewInstance("x")
	inst.Status.Conditions = []Condition{
		{Type: ConditionReady, Status: ConditionFalse, Reason: "Creating"},
	}
	// Simulate an update-in-place as status/conditions.go does.
	for i := range inst.Status.Conditions {
		if inst.Status.Conditions[i].Type == ConditionReady {
			inst.Status.Conditions[i].Status = ConditionTrue
			inst.Status.Conditions[i].Reason = "Running"
		}
	}
	if len(inst.Status.Conditions) != 1 {
		t.Fatalf("expected condition to update in place, got %d conditions", len(inst.Status.Conditions))
	}
	if inst.Status.Conditions[0].Status != ConditionTrue {
		t.Fatalf("condition not updated: %+v", inst.Status.Conditions[0])
	}
}

func TestConditionJSONTags(t *testing.T) {
	c := Condition{Type: ConditionReady, Status: ConditionTrue}
	data, err := json.Marshal(c)
	if err != nil {
		t.Fatalf("Marshal: %v", err)
	}
	var decoded map[string]interface{}
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("Unmarshal: %v", err)
	}
	if decoded["type"] != string(ConditionReady) {
		t.Fatalf("decoded[type] = %v", decoded["type"])
	}
}
