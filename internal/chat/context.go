package chat

import (
	"strings"

	"github.com/BTreeMap/RumiPet/internal/models"
)

// Placeholders used when the pet has nothing to report.
const (
	SilencePlaceholder    = "Silencio de tumba"
	NothingPendingMessage = "Nada, el humano está libre"
)

// BuildContext renders the system state block sent ahead of the user's message.
func BuildContext(userText string, habits []models.Habit, current *models.Song) string {
	music := SilencePlaceholder
	if current != nil {
		music = current.DisplayName()
	}

	var pending, done []string
	for _, h := range habits {
		if h.Completed {
			done = append(done, h.Name)
		} else {
			pending = append(pending, h.Name)
		}
	}
	pendingText := NothingPendingMessage
	if len(pending) > 0 {
		pendingText = strings.Join(pending, ", ")
	}

	var b strings.Builder
	b.WriteString("ESTADO_SISTEMA:\n")
	b.WriteString("Música_Actual: " + music + "\n")
	b.WriteString("Tareas_Pendientes: " + pendingText + "\n")
	b.WriteString("Tareas_Completadas: " + strings.Join(done, ", ") + "\n")
	b.WriteString("---\n")
	b.WriteString("MENSAJE_USUARIO: " + userText)
	return b.String()
}
