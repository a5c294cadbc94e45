package providers

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/lessonflow/internal/actions"
	"github.com/rendis/lessonflow/pkg/schema"
)

// Calendar endpoints and config ids.
const (
	DefaultGoogleCalendarURL = "https://www.googleapis.com/calendar/v3"
	DefaultOutlookURL        = "https://graph.microsoft.com/v1.0"

	GoogleCalendarConfigID  = "google-calendar"
	OutlookCalendarConfigID = "outlook-calendar"
)

// Calendar creates events on Google or Outlook, or writes .ics files.
type Calendar struct {
	configs actions.ConfigStore
	dir     string
	client  *client
	now     func() time.Time
}

// NewCalendar creates a calendar service. dir receives iCal files.
func NewCalendar(configs actions.ConfigStore, dir string, doer HTTPDoer) *Calendar {
	return &Calendar{configs: configs, dir: dir, client: newClient(doer), now: time.Now}
}

var _ actions.CalendarService = (*Calendar)(nil)

// CreateEvent implements actions.CalendarService.
func (c *Calendar) CreateEvent(ctx context.Context, ev actions.CalendarEvent) (string, error) {
	switch ev.Provider {
	case "", "ical":
		return c.writeICal(ctx, ev)
	case "google":
		return c.createGoogle(ctx, ev)
	case "outlook":
		return c.createOutlook(ctx, ev)
	}
	return "", schema.NewErrorf(schema.ErrCodeValidation, "unsupported calendar provider %q", ev.Provider)
}

func (c *Calendar) token(ctx context.Context, id string) (*schema.ProviderConfig, error) {
	if c.configs == nil {
		return nil, schema.NewErrorf(schema.ErrCodeMissingCredentials, "%s is not configured", id)
	}
	cfg, err := c.configs.GetProviderConfig(ctx, id)
	if err != nil {
		if schema.CodeOf(err) == schema.ErrCodeNotFound {
			return nil, schema.NewErrorf(schema.ErrCodeMissingCredentials, "%s is not configured", id)
		}
		return nil, err
	}
	if !cfg.Usable() {
		return nil, schema.NewErrorf(schema.ErrCodeMissingCredentials, "%s needs an enabled access token", id)
	}
	return cfg, nil
}

func (c *Calendar) createGoogle(ctx context.Context, ev actions.CalendarEvent) (string, error) {
	cfg, err := c.token(ctx, GoogleCalendarConfigID)
	if err != nil {
		return "", err
	}
	calID := cfg.Setting("calendar_id")
	if calID == "" {
		calID = "primary"
	}
	attendees := make([]any, 0, len(ev.Attendees))
	for _, a := range ev.Attendees {
		attendees = append(attendees, map[string]any{"email": a})
	}
	overrides := make([]any, 0, len(ev.Reminders))
	for _, m := range ev.Reminders {
		overrides = append(overrides, map[string]any{"method": "email", "minutes": m})
	}
	body := map[string]any{
		"summary":     ev.Title,
		"description": ev.Description,
		"location":    ev.Location,
		"start":       map[string]any{"dateTime": ev.Start.Format(time.RFC3339), "timeZone": "UTC"},
		"end":         map[string]any{"dateTime": ev.End.Format(time.RFC3339), "timeZone": "UTC"},
		"attendees":   attendees,
		"reminders":   map[string]any{"useDefault": len(overrides) == 0, "overrides": overrides},
	}
	url := baseOr(cfg.BaseURL, DefaultGoogleCalendarURL) + "/calendars/" + calID + "/events"
	decoded, err := c.client.postJSON(ctx, "google calendar", url, bearer(cfg.APIKey), body)
	if err != nil {
		return "", err
	}
	return c.client.extract(ctx, "google calendar", `.id`, decoded)
}

func (c *Calendar) createOutlook(ctx context.Context, ev actions.CalendarEvent) (string, error) {
	cfg, err := c.token(ctx, OutlookCalendarConfigID)
	if err != nil {
		return "", err
	}
	attendees := make([]any, 0, len(ev.Attendees))
	for _, a := range ev.Attendees {
		attendees = append(attendees, map[string]any{
			"emailAddress": map[string]any{"address": a},
			"type":         "required",
		})
	}
	body := map[string]any{
		"subject":   ev.Title,
		"body":      map[string]any{"contentType": "Text", "content": ev.Description},
		"start":     map[string]any{"dateTime": ev.Start.UTC().Format("2006-01-02T15:04:05"), "timeZone": "UTC"},
		"end":       map[string]any{"dateTime": ev.End.UTC().Format("2006-01-02T15:04:05"), "timeZone": "UTC"},
		"location":  map[string]any{"displayName": ev.Location},
		"attendees": attendees,
	}
	if len(ev.Reminders) > 0 {
		body["isReminderOn"] = true
		body["reminderMinutesBeforeStart"] = ev.Reminders[0]
	}
	url := baseOr(cfg.BaseURL, DefaultOutlookURL) + "/me/events"
	decoded, err := c.client.postJSON(ctx, "outlook", url, bearer(cfg.APIKey), body)
	if err != nil {
		return "", err
	}
	return c.client.extract(ctx, "outlook", `.id`, decoded)
}

var unsafeFileChars = regexp.MustCompile(`[^A-Za-z0-9]+`)

// writeICal writes a single-event calendar file and returns the event UID.
func (c *Calendar) writeICal(ctx context.Context, ev actions.CalendarEvent) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	uid := uuid.NewString() + "@lessonflow"
	if err := os.MkdirAll(c.dir, 0o755); err != nil {
		return "", fmt.Errorf("create calendar dir: %w", err)
	}
	base := strings.Trim(unsafeFileChars.ReplaceAllString(ev.Title, "_"), "_")
	if base == "" {
		base = "event"
	}
	path := filepath.Join(c.dir, base+"-"+uid[:8]+".ics")
	if err := os.WriteFile(path, []byte(ICal(ev, uid, c.now())), 0o644); err != nil {
		return "", fmt.Errorf("write ics: %w", err)
	}
	return uid, nil
}

const icalStamp = "20060102T150405Z"

// ICal renders ev as an RFC 5545 calendar with one VEVENT.
func ICal(ev actions.CalendarEvent, uid string, stamp time.Time) string {
	lines := []string{
		"BEGIN:VCALENDAR",
		"VERSION:2.0",
		"PRODID:-//Lessonflow//EN",
		"BEGIN:VEVENT",
		"UID:" + uid,
		"DTSTAMP:" + stamp.UTC().Format(icalStamp),
		"DTSTART:" + ev.Start.UTC().Format(icalStamp),
		"DTEND:" + ev.End.UTC().Format(icalStamp),
		"SUMMARY:" + icalText(ev.Title),
	}
	if ev.Description != "" {
		lines = append(lines, "DESCRIPTION:"+icalText(ev.Description))
	}
	if ev.Location != "" {
		lines = append(lines, "LOCATION:"+icalText(ev.Location))
	}
	for _, a := range ev.Attendees {
		lines = append(lines, "ATTENDEE:mailto:"+a)
	}
	for _, m := range ev.Reminders {
		lines = append(lines,
			"BEGIN:VALARM",
			"ACTION:DISPLAY",
			"DESCRIPTION:"+icalText(ev.Title),
			fmt.Sprintf("TRIGGER:-PT%dM", m),
			"END:VALARM")
	}
	lines = append(lines, "END:VEVENT", "END:VCALENDAR")

	var b strings.Builder
	for _, l := range lines {
		b.WriteString(foldICal(l))
		b.WriteString("\r\n")
	}
	return b.String()
}

var icalEscaper = strings.NewReplacer(`\`, `\\`, ";", `\;`, ",", `\,`, "\r\n", `\n`, "\n", `\n`)

func icalText(s string) string { return icalEscaper.Replace(s) }

// foldICal splits content lines longer than 75 octets without breaking runes.
func foldICal(line string) string {
	if len(line) <= 75 {
		return line
	}
	var b strings.Builder
	width := 0
	for _, r := range line {
		n := len(string(r))
		if width+n > 75 {
			b.WriteString("\r\n ")
			width = 1
		}
		b.WriteRune(r)
		width += n
	}
	return b.String()
}
