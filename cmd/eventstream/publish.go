package main

import (
	"fmt"
	"os"
	"strings"
	"time"

	"eventstream/internal/engine"
	"eventstream/internal/protocol"
	"eventstream/internal/publisher"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

// eventFixture is the YAML shape accepted by `publish --file`.
type eventFixture struct {
	GroupID        int64          `yaml:"group_id"`
	EventID        string         `yaml:"event_id"`
	OrganizationID int64          `yaml:"organization_id"`
	ProjectID      int64          `yaml:"project_id"`
	Message        string         `yaml:"message"`
	Platform       string         `yaml:"platform"`
	Datetime       time.Time      `yaml:"datetime"`
	Data           map[string]any `yaml:"data"`
}

func loadFixture(path string) (publisher.Event, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return publisher.Event{}, err
	}
	var f eventFixture
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return publisher.Event{}, fmt.Errorf("%s: %w", path, err)
	}
	if f.ProjectID == 0 {
		return publisher.Event{}, fmt.Errorf("%s: project_id is required", path)
	}
	return publisher.Event{
		GroupID:        f.GroupID,
		EventID:        f.EventID,
		OrganizationID: f.OrganizationID,
		ProjectID:      f.ProjectID,
		Message:        f.Message,
		Platform:       f.Platform,
		Datetime:       f.Datetime,
		Data:           f.Data,
	}, nil
}

// newEventID returns a uuid4 in hex without dashes.
func newEventID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish one event from a YAML fixture",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			f := cmd.Flags()
			file, _ := f.GetString("file")
			ev, err := loadFixture(file)
			if err != nil {
				return err
			}
			if id, _ := f.GetString("event-id"); id != "" {
				ev.EventID = id
			}
			if ev.EventID == "" {
				ev.EventID = newEventID()
			}
			if ev.Datetime.IsZero() {
				ev.Datetime = time.Now().UTC()
			}
			var state protocol.StateRecord
			state.IsNew, _ = f.GetBool("is-new")
			state.IsSample, _ = f.GetBool("is-sample")
			state.IsRegression, _ = f.GetBool("is-regression")
			state.IsNewGroupEnvironment, _ = f.GetBool("is-new-group-environment")
			primaryHash, _ := f.GetString("primary-hash")

			p, closePublisher, err := engine.NewPublisher(cmd.Context(), cfg)
			if err != nil {
				return err
			}
			defer closePublisher()
			if err := p.Publish(cmd.Context(), ev, state, primaryHash); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "queued %d:%s on %s\n", ev.ProjectID, ev.EventID, cfg.Publisher.Topic)
			return nil
		},
	}
	cmd.Flags().String("file", "event.yml", "YAML event fixture")
	cmd.Flags().String("event-id", "", "Event id (default: random uuid hex)")
	cmd.Flags().String("primary-hash", "", "Primary grouping hash")
	cmd.Flags().Bool("is-new", false, "Event created a new group")
	cmd.Flags().Bool("is-sample", false, "Event is sampled")
	cmd.Flags().Bool("is-regression", false, "Event regressed a resolved group")
	cmd.Flags().Bool("is-new-group-environment", false, "First event of the group in its environment")
	return cmd
}
