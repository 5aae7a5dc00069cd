// Package testutil provides common test utilities and helpers for RumiPet tests.
package testutil

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/BTreeMap/RumiPet/internal/models"
	"github.com/BTreeMap/RumiPet/internal/store"
)

// Envelope mirrors models.APIResponse with the result left undecoded.
type Envelope struct {
	Status  string          `json:"status"`
	Message string          `json:"message"`
	Result  json.RawMessage `json:"result"`
}

// AssertHTTPStatus checks the HTTP status code and fails the test if it doesn't match.
func AssertHTTPStatus(t testing.TB, expected, actual int, context string) {
	t.Helper()
	if actual != expected {
		t.Errorf("%s: expected status %d, got %d", context, expected, actual)
	}
}

// DecodeEnvelope decodes a JSON envelope from rr. A response without a JSON body yields
// the zero Envelope.
func DecodeEnvelope(t testing.TB, rr *httptest.ResponseRecorder) Envelope {
	t.Helper()
	var env Envelope
	if rr.Body.Len() == 0 || !strings.HasPrefix(rr.Header().Get("Content-Type"), "application/json") {
		return env
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &env); err != nil {
		t.Fatalf("failed to decode JSON response %q: %v", rr.Body.String(), err)
	}
	return env
}

// AssertJSONResponse decodes the envelope and validates its status field.
func AssertJSONResponse(t testing.TB, rr *httptest.ResponseRecorder, expectedStatus models.APIStatus) Envelope {
	t.Helper()
	env := DecodeEnvelope(t, rr)
	if env.Status != string(expectedStatus) {
		t.Errorf("expected status '%s', got '%s' (message %q)", expectedStatus, env.Status, env.Message)
	}
	return env
}

// SeedHabits inserts habits and returns them with their assigned ids.
func SeedHabits(t testing.TB, st store.HabitStore, habits ...models.Habit) []models.Habit {
	t.Helper()
	out := make([]models.Habit, 0, len(habits))
	for _, h := range habits {
		id, err := st.InsertHabit(context.Background(), h)
		if err != nil {
			t.Fatalf("failed to seed habit %q: %v", h.Name, err)
		}
		h.ID = id
		out = append(out, h)
	}
	return out
}

// MustUnmarshalJSON unmarshals JSON data and fails the test if unmarshaling fails.
func MustUnmarshalJSON(t testing.TB, data []byte, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(data, target); err != nil {
		t.Fatalf("failed to unmarshal JSON %q: %v", data, err)
	}
}
