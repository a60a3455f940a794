package cycle

import (
	"fmt"
	"time"

	"github.com/oracle-engine/server/internal/agent/memory"
)

const maxTopicInName = 15

// ReadingFilename is the file name a finished reading is saved under.
func ReadingFilename(clientName, topic string, at time.Time) string {
	client := memory.SanitizeName(clientName)
	if client == "" {
		client = "Client"
	}
	t := memory.SanitizeName(topic)
	if len(t) > maxTopicInName {
		t = t[:maxTopicInName]
	}
	if t == "" {
		t = "Reading"
	}
	return fmt.Sprintf("Reading_%s_%s_%d.html", client, t, at.Unix())
}
