package messenger

import (
	"bytes"
	"fmt"
	"sort"
	"strings"
	"text/template"

	"relay/pkg/models"
)

type webhookPayload struct {
	Text        string       `json:"text"`
	Username    string       `json:"username,omitempty"`
	Attachments []attachment `json:"attachments,omitempty"`
}

type attachment struct {
	Color    string  `json:"color,omitempty"`
	Title    string  `json:"title,omitempty"`
	Fallback string  `json:"fallback,omitempty"`
	Fields   []field `json:"fields,omitempty"`
}

type field struct {
	Title string `json:"title"`
	Value string `json:"value"`
	Short bool   `json:"short"`
}

// templateData is what custom templates see.
type templateData struct {
	Event     *models.InboundEvent
	EventType string
	Current   map[string]interface{}
	Previous  map[string]interface{}
	Title     string
}

var templateFuncs = template.FuncMap{
	"upper": strings.ToUpper,
	"lower": strings.ToLower,
	"field": func(m map[string]interface{}, key string) string { return display(m[key]) },
}

const maxChangedFields = 10

func render(msg Message, username string) webhookPayload {
	payload := webhookPayload{Username: username}

	switch msg.TemplateMode {
	case models.TemplateSimple:
		payload.Text = simpleText(msg.Event)
	case models.TemplateCompact:
		payload.Text = compactText(msg.Event)
	case models.TemplateCustom:
		text, err := customText(msg.CustomTemplate, msg.Event)
		if err != nil {
			payload.Text = simpleText(msg.Event)
			return payload
		}
		payload.Text = text
	default:
		payload.Text = headline(msg.Event)
		payload.Attachments = []attachment{detailedAttachment(msg.Event)}
	}

	return payload
}

func title(evt *models.InboundEvent) string {
	for _, key := range []string{"title", "name", "subject"} {
		if v, ok := evt.CurrentField(key); ok {
			if s := display(v); s != "" {
				return s
			}
		}
	}
	if id := evt.EntityID(); id != "" {
		return "#" + id
	}
	return ""
}

func headline(evt *models.InboundEvent) string {
	entity := evt.Entity()
	if entity != "" {
		entity = strings.ToUpper(entity[:1]) + entity[1:]
	}
	action := evt.Action()
	if action == "" {
		action = "changed"
	}
	if t := title(evt); t != "" {
		return fmt.Sprintf("*%s %s*: %s", entity, action, t)
	}
	return fmt.Sprintf("*%s %s*", entity, action)
}

func simpleText(evt *models.InboundEvent) string {
	if t := title(evt); t != "" {
		return fmt.Sprintf("%s: %s", evt.EventType, t)
	}
	return evt.EventType
}

func compactText(evt *models.InboundEvent) string {
	parts := []string{evt.EventType}
	if t := title(evt); t != "" {
		parts = append(parts, t)
	}
	if v := moneyValue(evt); v != "" {
		parts = append(parts, v)
	}
	if v, ok := evt.CurrentField("stage_name"); ok {
		parts = append(parts, display(v))
	}
	return strings.Join(parts, " | ")
}

func detailedAttachment(evt *models.InboundEvent) attachment {
	a := attachment{
		Color:    colorFor(evt),
		Title:    title(evt),
		Fallback: simpleText(evt),
	}

	if v := moneyValue(evt); v != "" {
		a.Fields = append(a.Fields, field{Title: "Value", Value: v, Short: true})
	}
	for _, key := range []string{"stage_name", "stage_id"} {
		if v, ok := evt.CurrentField(key); ok {
			a.Fields = append(a.Fields, field{Title: "Stage", Value: display(v), Short: true})
			break
		}
	}
	for _, key := range []string{"owner_name", "owner_id", "user_id"} {
		if v, ok := evt.CurrentField(key); ok {
			a.Fields = append(a.Fields, field{Title: "Owner", Value: display(v), Short: true})
			break
		}
	}

	changed := evt.ChangedFields()
	sort.Strings(changed)
	if len(changed) > maxChangedFields {
		changed = append(changed[:maxChangedFields], "...")
	}
	if len(changed) > 0 {
		a.Fields = append(a.Fields, field{Title: "Changed", Value: strings.Join(changed, ", ")})
	}

	return a
}

func customText(tmpl string, evt *models.InboundEvent) (string, error) {
	if strings.TrimSpace(tmpl) == "" {
		return "", fmt.Errorf("empty custom template")
	}
	t, err := template.New("custom").Funcs(templateFuncs).Option("missingkey=zero").Parse(tmpl)
	if err != nil {
		return "", fmt.Errorf("parse custom template: %w", err)
	}

	var buf bytes.Buffer
	data := templateData{
		Event:     evt,
		EventType: evt.EventType,
		Current:   evt.Current,
		Previous:  evt.Previous,
		Title:     title(evt),
	}
	if err := t.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("execute custom template: %w", err)
	}

	text := strings.TrimSpace(buf.String())
	if text == "" {
		return "", fmt.Errorf("custom template rendered empty text")
	}
	return text, nil
}

func moneyValue(evt *models.InboundEvent) string {
	v, ok := evt.CurrentField("value")
	if !ok {
		return ""
	}
	s := display(v)
	if cur, ok := evt.CurrentField("currency"); ok {
		s += " " + display(cur)
	}
	return s
}

func colorFor(evt *models.InboundEvent) string {
	switch evt.Action() {
	case "deleted":
		return "danger"
	case "added", "created":
		return "good"
	}
	if status, ok := evt.CurrentField("status"); ok {
		switch display(status) {
		case "won":
			return "good"
		case "lost":
			return "danger"
		}
	}
	return "#439FE0"
}

func display(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case float64:
		if val == float64(int64(val)) {
			return fmt.Sprintf("%d", int64(val))
		}
		return fmt.Sprintf("%.2f", val)
	case map[string]interface{}:
		for _, key := range []string{"name", "value", "id"} {
			if inner, ok := val[key]; ok {
				return display(inner)
			}
		}
		return ""
	default:
		return fmt.Sprintf("%v", val)
	}
}
