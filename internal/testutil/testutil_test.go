package testutil

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BTreeMap/RumiPet/internal/models"
	"github.com/BTreeMap/RumiPet/internal/store"
)

func TestDecodeEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.Header().Set("Content-Type", "application/json")
	rr.WriteHeader(http.StatusOK)
	rr.WriteString(`{"status":"ok","message":"hi","result":{"mood":0.5}}`)

	env := AssertJSONResponse(t, rr, models.APIStatusOK)
	if env.Message != "hi" {
		t.Errorf("Message = %q", env.Message)
	}
	var st models.PetStatus
	MustUnmarshalJSON(t, env.Result, &st)
	if st.Mood != 0.5 {
		t.Errorf("Mood = %v, want 0.5", st.Mood)
	}
}

func TestDecodeEnvelopeWithoutJSONBody(t *testing.T) {
	rr := httptest.NewRecorder()
	rr.WriteHeader(http.StatusMethodNotAllowed)
	rr.WriteString("Method Not Allowed\n")

	if env := DecodeEnvelope(t, rr); env.Status != "" {
		t.Errorf("expected zero envelope, got %+v", env)
	}
}

func TestSeedHabits(t *testing.T) {
	st := store.NewInMemoryStore()
	defer st.Close()

	seeded := SeedHabits(t, st,
		models.NewHabit("Leer", "", models.DifficultyEasy, 10, nil),
		models.NewHabit("Correr", "", models.DifficultyHard, 30, nil),
	)
	if len(seeded) != 2 || seeded[0].ID == 0 || seeded[0].ID == seeded[1].ID {
		t.Errorf("seeded = %+v", seeded)
	}
}

func TestAssertHTTPStatus(t *testing.T) {
	AssertHTTPStatus(t, http.StatusOK, http.StatusOK, "same code")
}
