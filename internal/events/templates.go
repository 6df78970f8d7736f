package events

import (
	"fmt"
	"strings"
)

// MessageTemplateEngine provides dynamic message generation for events.
type MessageTemplateEngine struct {
	templates map[EventReason]string
}

// NewMessageTemplateEngine creates a new message template engine with default templates.
func NewMessageTemplateEngine() *MessageTemplateEngine {
	engine := &MessageTemplateEngine{
		templates: make(map[EventReason]string),
	}
	engine.loadDefaultTemplates()
	return engine
}

func (e *MessageTemplateEngine) loadDefaultTemplates() {
	e.templates[ReasonReconcileFailed] = "Reconcile of {{.Namespace}}/{{.Name}} failed{{if .Attempts}} (attempt {{.Attempts}}){{end}}{{if .Error}}: {{.Error}}{{end}}"
	e.templates[ReasonReconcileRecovered] = "Reconcile of {{.Namespace}}/{{.Name}} succeeded{{if .Attempts}} after {{.Attempts}} failed attempts{{end}}"

	e.templates[ReasonLeaderElected] = "{{.Identity}} became leader"
	e.templates[ReasonLeaderLost] = "{{.Identity}} stopped leading{{if .Duration}} after {{.Duration}}{{end}}"
}

// Render generates a message for the given event reason and data.
func (e *MessageTemplateEngine) Render(reason EventReason, data EventData) string {
	template, exists := e.templates[reason]
	if !exists {
		return fmt.Sprintf("Event: %s for %s/%s", string(reason), data.Namespace, data.Name)
	}
	return e.renderTemplate(template, data)
}

// SetTemplate allows customizing the message template for a specific event reason.
func (e *MessageTemplateEngine) SetTemplate(reason EventReason, template string) {
	e.templates[reason] = template
}

// GetTemplate returns the template for a specific event reason.
func (e *MessageTemplateEngine) GetTemplate(reason EventReason) (string, bool) {
	template, exists := e.templates[reason]
	return template, exists
}

// renderTemplate performs simple variable substitution with EventData.
func (e *MessageTemplateEngine) renderTemplate(template string, data EventData) string {
	result := e.renderConditionals(template, data)

	result = strings.ReplaceAll(result, "{{.Name}}", data.Name)
	result = strings.ReplaceAll(result, "{{.Namespace}}", data.Namespace)
	result = strings.ReplaceAll(result, "{{.Identity}}", data.Identity)
	result = strings.ReplaceAll(result, "{{.Error}}", data.Error)
	result = strings.ReplaceAll(result, "{{.Attempts}}", fmt.Sprintf("%d", data.Attempts))
	result = strings.ReplaceAll(result, "{{.Duration}}", data.Duration.String())

	return result
}

// renderConditionals handles {{if .FieldName}}content{{end}} blocks.
func (e *MessageTemplateEngine) renderConditionals(template string, data EventData) string {
	result := template
	result = e.renderConditional(result, "{{if .Error}}", data.Error != "")
	result = e.renderConditional(result, "{{if .Attempts}}", data.Attempts > 0)
	result = e.renderConditional(result, "{{if .Duration}}", data.Duration > 0)
	return result
}

// renderConditional resolves every block opened by startMarker.
func (e *MessageTemplateEngine) renderConditional(template, startMarker string, condition bool) string {
	const endMarker = "{{end}}"

	for {
		startIndex := strings.Index(template, startMarker)
		if startIndex == -1 {
			return template
		}
		endIndex := strings.Index(template[startIndex:], endMarker)
		if endIndex == -1 {
			return template
		}
		endIndex += startIndex

		before := template[:startIndex]
		after := template[endIndex+len(endMarker):]
		if condition {
			template = before + template[startIndex+len(startMarker):endIndex] + after
		} else {
			template = before + after
		}
	}
}
