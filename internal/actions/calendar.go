package actions

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rendis/lessonflow/pkg/schema"
)

// Calendar defaults.
const (
	DefaultCalendarProvider = "ical"
	DefaultEventMinutes     = 60
)

const calendarConfigSchema = `{
  "type": "object",
  "properties": {
    "provider": {"enum": ["google", "outlook", "ical"]},
    "title": {"type": "string"},
    "start": {"type": "string", "format": "date-time"},
    "duration_minutes": {"type": "integer", "minimum": 1},
    "location": {"type": "string"},
    "attendees": {"type": "array", "items": {"type": "string"}},
    "reminders": {"type": "array", "items": {"type": "integer", "minimum": 0}}
  }
}`

// CalendarConfig is the config of calendar nodes.
type CalendarConfig struct {
	Provider        string   `mapstructure:"provider" validate:"omitempty,oneof=google outlook ical"`
	Title           string   `mapstructure:"title"`
	Start           string   `mapstructure:"start"`
	DurationMinutes int      `mapstructure:"duration_minutes" validate:"omitempty,gt=0"`
	Location        string   `mapstructure:"location"`
	Attendees       []string `mapstructure:"attendees" validate:"omitempty,dive,email"`
	Reminders       []int    `mapstructure:"reminders" validate:"omitempty,dive,gte=0"`
}

// CalendarHandler creates a calendar event from node config.
type CalendarHandler struct {
	service CalendarService
	now     func() time.Time
}

// NewCalendarHandler creates the calendar handler.
func NewCalendarHandler(s CalendarService) *CalendarHandler {
	return &CalendarHandler{service: s, now: time.Now}
}

func (h *CalendarHandler) Families() []schema.KindFamily {
	return []schema.KindFamily{schema.FamilyCalendar}
}

func (h *CalendarHandler) Schema() HandlerSchema {
	return HandlerSchema{
		Description:  "Create a study session event on Google, Outlook or an iCal file.",
		ConfigSchema: json.RawMessage(calendarConfigSchema),
	}
}

// Execute creates the event. Without a start time the event begins an hour
// from now; the aggregated input becomes the event description.
func (h *CalendarHandler) Execute(ctx context.Context, node *schema.Node, input string) (string, error) {
	var cfg CalendarConfig
	if err := decodeConfig(node, &cfg); err != nil {
		return "", err
	}

	ev := CalendarEvent{
		Provider:    cfg.Provider,
		Title:       cfg.Title,
		Description: input,
		Location:    cfg.Location,
		Attendees:   cfg.Attendees,
		Reminders:   cfg.Reminders,
	}
	if ev.Provider == "" {
		ev.Provider = DefaultCalendarProvider
	}
	if ev.Title == "" {
		ev.Title = node.Label
	}
	if ev.Title == "" {
		ev.Title = "Study session"
	}
	if ev.Description == "" {
		ev.Description = node.Description
	}

	if cfg.Start != "" {
		start, err := time.Parse(time.RFC3339, cfg.Start)
		if err != nil {
			return "", schema.NewErrorf(schema.ErrCodeValidation, "start: %s", err.Error()).WithNode(node.ID)
		}
		ev.Start = start
	} else {
		ev.Start = h.now().Add(time.Hour).Truncate(time.Minute)
	}
	minutes := cfg.DurationMinutes
	if minutes == 0 {
		minutes = DefaultEventMinutes
	}
	ev.End = ev.Start.Add(time.Duration(minutes) * time.Minute)

	id, err := h.service.CreateEvent(ctx, ev)
	if err != nil {
		return "", err
	}
	return "Calendar event created: " + id, nil
}
