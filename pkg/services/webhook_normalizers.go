package services

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-connect/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-connect/pkg/jsonutil"
	"github.com/ekaya-inc/ekaya-connect/pkg/models"
)

// webhookNormalizer maps one provider's payload into a WebhookEvent. eventType is the
// event name the provider sent outside the body, empty for providers that embed it.
// Unknown kinds return an event with Ignored set, never an error.
type webhookNormalizer func(eventType string, raw []byte) (*models.WebhookEvent, error)

var webhookNormalizers = map[string]webhookNormalizer{
	models.ProviderCalCom:         normalizeCalCom,
	models.ProviderZoom:           normalizeZoom,
	models.ProviderGoogleCalendar: normalizeGoogleCalendar,
	models.ProviderGitHub:         normalizeGitHub,
	models.ProviderGitLab:         normalizeGitLab,
	models.ProviderSlack:          normalizeSlack,
}

func invalidPayload(format string, args ...any) error {
	return fmt.Errorf("%w: %s", apperrors.ErrInvalidWebhookPayload, fmt.Sprintf(format, args...))
}

func decodePayload(raw []byte, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return invalidPayload("malformed JSON: %v", err)
	}
	return nil
}

// parseInstant accepts RFC 3339 timestamps and all-day dates.
func parseInstant(field, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return &t, nil
	}
	if t, err := time.Parse(time.DateOnly, value); err == nil {
		return &t, nil
	}
	return nil, invalidPayload("%s %q is not a timestamp", field, value)
}

type calComPayload struct {
	TriggerEvent string `json:"triggerEvent"`
	Payload      struct {
		Title     string              `json:"title"`
		StartTime string              `json:"startTime"`
		EndTime   string              `json:"endTime"`
		UID       jsonutil.FlexString `json:"uid"`
		Attendees []struct {
			Email string `json:"email"`
			Name  string `json:"name"`
		} `json:"attendees"`
		Metadata struct {
			VideoCallURL string `json:"videoCallUrl"`
		} `json:"metadata"`
	} `json:"payload"`
}

var calComKinds = map[string]bool{
	"BOOKING_CREATED":     true,
	"BOOKING_RESCHEDULED": true,
	"BOOKING_CANCELLED":   true,
	"BOOKING_REQUESTED":   true,
	"BOOKING_REJECTED":    true,
	"MEETING_STARTED":     true,
	"MEETING_ENDED":       true,
}

func normalizeCalCom(_ string, raw []byte) (*models.WebhookEvent, error) {
	var p calComPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.TriggerEvent == "" {
		return nil, invalidPayload("missing triggerEvent")
	}

	ev := &models.WebhookEvent{
		Kind:       p.TriggerEvent,
		Title:      p.Payload.Title,
		ExternalID: p.Payload.UID.String(),
		MeetingURL: p.Payload.Metadata.VideoCallURL,
		Ignored:    !calComKinds[p.TriggerEvent],
	}
	if ev.Ignored {
		return ev, nil
	}

	var err error
	if ev.StartAt, err = parseInstant("startTime", p.Payload.StartTime); err != nil {
		return nil, err
	}
	if ev.EndAt, err = parseInstant("endTime", p.Payload.EndTime); err != nil {
		return nil, err
	}
	for _, a := range p.Payload.Attendees {
		ev.Attendees = append(ev.Attendees, models.Attendee{Email: a.Email, Name: a.Name})
	}
	return ev, nil
}

type zoomPayload struct {
	Event   string `json:"event"`
	Payload struct {
		Object struct {
			UUID        jsonutil.FlexString `json:"uuid"`
			ID          jsonutil.FlexString `json:"id"`
			Topic       string              `json:"topic"`
			StartTime   string              `json:"start_time"`
			Duration    int                 `json:"duration"` // minutes
			JoinURL     string              `json:"join_url"`
			Participant *struct {
				UserName string `json:"user_name"`
				Email    string `json:"email"`
			} `json:"participant"`
		} `json:"object"`
	} `json:"payload"`
}

var zoomKinds = map[string]bool{
	"meeting.created":            true,
	"meeting.updated":            true,
	"meeting.deleted":            true,
	"meeting.started":            true,
	"meeting.ended":              true,
	"meeting.participant_joined": true,
	"recording.completed":        true,
}

func normalizeZoom(_ string, raw []byte) (*models.WebhookEvent, error) {
	var p zoomPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.Event == "" {
		return nil, invalidPayload("missing event")
	}

	obj := p.Payload.Object
	ev := &models.WebhookEvent{
		Kind:       p.Event,
		Title:      obj.Topic,
		ExternalID: obj.UUID.String(),
		MeetingURL: obj.JoinURL,
		Ignored:    !zoomKinds[p.Event],
	}
	if ev.ExternalID == "" {
		ev.ExternalID = obj.ID.String()
	}
	if ev.Ignored {
		return ev, nil
	}

	start, err := parseInstant("start_time", obj.StartTime)
	if err != nil {
		return nil, err
	}
	ev.StartAt = start
	if start != nil && obj.Duration > 0 {
		end := start.Add(time.Duration(obj.Duration) * time.Minute)
		ev.EndAt = &end
	}
	if obj.Participant != nil {
		ev.Attendees = []models.Attendee{{Email: obj.Participant.Email, Name: obj.Participant.UserName}}
	}
	return ev, nil
}

type googleEventTime struct {
	DateTime string `json:"dateTime"`
	Date     string `json:"date"`
}

func (t googleEventTime) value() string {
	if t.DateTime != "" {
		return t.DateTime
	}
	return t.Date
}

type googleCalendarPayload struct {
	Kind  string `json:"kind"`
	State string `json:"state"`
	Event *struct {
		ID          string          `json:"id"`
		Status      string          `json:"status"`
		Summary     string          `json:"summary"`
		HangoutLink string          `json:"hangoutLink"`
		Start       googleEventTime `json:"start"`
		End         googleEventTime `json:"end"`
		Attendees   []struct {
			Email       string `json:"email"`
			DisplayName string `json:"displayName"`
		} `json:"attendees"`
	} `json:"event"`
}

func normalizeGoogleCalendar(_ string, raw []byte) (*models.WebhookEvent, error) {
	var p googleCalendarPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.State == "" && p.Event == nil {
		return nil, invalidPayload("missing state")
	}

	kind := p.State
	if kind == "" {
		kind = "exists"
	}
	ev := &models.WebhookEvent{Kind: kind}

	// "sync" is the channel handshake; only "exists" carries an event.
	if p.Event == nil || (kind != "exists" && kind != "not_exists") {
		ev.Ignored = true
		return ev, nil
	}

	e := p.Event
	if e.Status == "cancelled" {
		ev.Kind = "cancelled"
	}
	ev.Title = e.Summary
	ev.ExternalID = e.ID
	ev.MeetingURL = e.HangoutLink

	var err error
	if ev.StartAt, err = parseInstant("start", e.Start.value()); err != nil {
		return nil, err
	}
	if ev.EndAt, err = parseInstant("end", e.End.value()); err != nil {
		return nil, err
	}
	for _, a := range e.Attendees {
		ev.Attendees = append(ev.Attendees, models.Attendee{Email: a.Email, Name: a.DisplayName})
	}
	return ev, nil
}

type gitHubID struct {
	ID jsonutil.FlexString `json:"id"`
}

type gitHubPayload struct {
	Action     string `json:"action"`
	After      string `json:"after"`
	Repository *struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	PullRequest *struct {
		ID    jsonutil.FlexString `json:"id"`
		Title string              `json:"title"`
	} `json:"pull_request"`
	Issue *struct {
		ID    jsonutil.FlexString `json:"id"`
		Title string              `json:"title"`
	} `json:"issue"`
	Comment      *gitHubID `json:"comment"`
	Review       *gitHubID `json:"review"`
	Installation *gitHubID `json:"installation"`
}

// gitHubEvents lists the X-GitHub-Event names that produce events. Everything else,
// including the ping sent when a hook is created, is acknowledged and ignored.
var gitHubEvents = map[string]bool{
	"push":                        true,
	"pull_request":                true,
	"pull_request_review":         true,
	"pull_request_review_comment": true,
	"issues":                      true,
	"issue_comment":               true,
	"installation":                true,
}

// normalizeGitHub takes the event name from the X-GitHub-Event header and the
// action from the body. The body alone cannot tell an issue comment from an issue.
func normalizeGitHub(eventType string, raw []byte) (*models.WebhookEvent, error) {
	var p gitHubPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	eventType = strings.TrimSpace(eventType)
	if eventType == "" {
		return nil, invalidPayload("missing X-GitHub-Event header")
	}

	ev := &models.WebhookEvent{
		Kind:    joinKind(eventType, p.Action),
		Ignored: !gitHubEvents[eventType],
	}
	if p.Repository != nil {
		ev.Title = p.Repository.FullName
	}
	if ev.Ignored {
		return ev, nil
	}

	switch {
	case p.PullRequest != nil:
		ev.Title = joinTitle(ev.Title, p.PullRequest.Title)
		ev.ExternalID = p.PullRequest.ID.String()
	case p.Issue != nil:
		ev.Title = joinTitle(ev.Title, p.Issue.Title)
		ev.ExternalID = p.Issue.ID.String()
	}

	switch eventType {
	case "push":
		ev.ExternalID = p.After
	case "issue_comment", "pull_request_review_comment":
		if p.Comment != nil {
			ev.ExternalID = p.Comment.ID.String()
		}
	case "pull_request_review":
		if p.Review != nil {
			ev.ExternalID = p.Review.ID.String()
		}
	case "installation":
		if p.Installation != nil {
			ev.ExternalID = p.Installation.ID.String()
		}
	}
	return ev, nil
}

type gitLabPayload struct {
	ObjectKind  string `json:"object_kind"`
	CheckoutSHA string `json:"checkout_sha"`
	Project     struct {
		PathWithNamespace string `json:"path_with_namespace"`
	} `json:"project"`
	ObjectAttributes *struct {
		ID     jsonutil.FlexString `json:"id"`
		Title  string              `json:"title"`
		Action string              `json:"action"`
	} `json:"object_attributes"`
}

var gitLabKinds = map[string]bool{
	"push":          true,
	"tag_push":      true,
	"merge_request": true,
	"issue":         true,
	"note":          true,
	"pipeline":      true,
}

func normalizeGitLab(_ string, raw []byte) (*models.WebhookEvent, error) {
	var p gitLabPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.ObjectKind == "" {
		return nil, invalidPayload("missing object_kind")
	}

	ev := &models.WebhookEvent{
		Kind:       p.ObjectKind,
		Title:      p.Project.PathWithNamespace,
		ExternalID: p.CheckoutSHA,
		Ignored:    !gitLabKinds[p.ObjectKind],
	}
	if attrs := p.ObjectAttributes; attrs != nil {
		ev.Kind = joinKind(p.ObjectKind, attrs.Action)
		ev.Title = joinTitle(ev.Title, attrs.Title)
		ev.ExternalID = attrs.ID.String()
	}
	return ev, nil
}

type slackPayload struct {
	Type    string `json:"type"`
	EventID string `json:"event_id"`
	Event   *struct {
		Type    string `json:"type"`
		Channel string `json:"channel"`
		Text    string `json:"text"`
		User    string `json:"user"`
	} `json:"event"`
}

func normalizeSlack(_ string, raw []byte) (*models.WebhookEvent, error) {
	var p slackPayload
	if err := decodePayload(raw, &p); err != nil {
		return nil, err
	}
	if p.Type == "" {
		return nil, invalidPayload("missing type")
	}

	if p.Type != "event_callback" || p.Event == nil {
		// url_verification and app rate-limit notices carry no event
		return &models.WebhookEvent{Kind: p.Type, Ignored: true}, nil
	}

	return &models.WebhookEvent{
		Kind:       p.Event.Type,
		Title:      truncateRunes(p.Event.Text, 120),
		ExternalID: p.EventID,
		Ignored:    p.Event.Type == "",
	}, nil
}

func joinKind(kind, action string) string {
	if action == "" {
		return kind
	}
	return kind + "." + action
}

func joinTitle(scope, title string) string {
	switch {
	case scope == "":
		return title
	case title == "":
		return scope
	}
	return scope + ": " + title
}

func truncateRunes(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
