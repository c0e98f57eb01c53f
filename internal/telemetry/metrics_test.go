package telemetry

import (
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func TestPublished_HelpNamesResultLabels(t *testing.T) {
	Published.WithLabelValues("accepted")
	Published.WithLabelValues("rejected")
	mfs, err := prometheus.DefaultGatherer.Gather()
	if err != nil {
		t.Fatalf("Gather: %v", err)
	}
	for _, mf := range mfs {
		if mf.GetName() != "eventstream_publisher_messages_total" {
			continue
		}
		help := mf.GetHelp()
		if !strings.Contains(help, "accepted") || !strings.Contains(help, "rejected") {
			t.Fatalf("help %q does not name the result labels", help)
		}
		return
	}
	t.Fatal("publisher messages metric not registered")
}
