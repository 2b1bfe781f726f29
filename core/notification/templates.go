package notification

import (
	"fmt"
	"strconv"
	"strings"
	"text/template"

	"github.com/pkg/errors"

	"github.com/abmarghoub/EduPathInsight/core"
)

// Template formats the title and message of one notification type on one channel.
// Placeholders name metadata keys, as in {{.module_code}}. Missing keys render empty.
type Template struct {
	Type    string
	Channel string
	Subject string
	Body    string
}

type compiledTemplate struct {
	subject *template.Template
	body    *template.Template
}

type templateKey struct {
	typ, channel string
}

// Templates are the built-in notification templates.
var Templates = []Template{
	{
		Type:    core.EventEnrollmentCreated,
		Channel: ChannelEmail,
		Subject: "Enrollment request received",
		Body:    "Your enrollment request for module {{.module_code}} has been received and is awaiting approval.",
	},
	{
		Type:    core.EventEnrollmentApproved,
		Channel: ChannelEmail,
		Subject: "Enrollment approved",
		Body:    "Your enrollment in module {{.module_code}} has been approved.",
	},
	{
		Type:    core.EventEnrollmentApproved,
		Channel: ChannelPush,
		Subject: "Enrollment approved",
		Body:    "You are now enrolled in {{.module_code}}.",
	},
	{
		Type:    core.EventEnrollmentRejected,
		Channel: ChannelEmail,
		Subject: "Enrollment rejected",
		Body:    "Your enrollment request for module {{.module_code}} has been rejected.",
	},
	{
		Type:    core.EventEnrollmentCancelled,
		Channel: ChannelEmail,
		Subject: "Enrollment cancelled",
		Body:    "Your enrollment in module {{.module_code}} has been cancelled.",
	},
	{
		Type:    core.EventHighRiskStudent,
		Channel: ChannelEmail,
		Subject: "Your progress in module {{.module_id}}",
		Body:    "Your recent results in module {{.module_id}} need attention. Please contact your teacher.",
	},
	{
		Type:    core.EventAnomalyDetected,
		Channel: ChannelDashboard,
		Subject: "Unusual activity detected",
		Body:    "{{.description}}",
	},
}

// Renderer looks up and executes templates by notification type and channel.
type Renderer struct {
	templates map[templateKey]compiledTemplate
}

// NewRenderer compiles templates. A later template replaces an earlier one of the same type and channel.
func NewRenderer(templates ...Template) (*Renderer, error) {
	r := &Renderer{templates: make(map[templateKey]compiledTemplate, len(templates))}
	for _, t := range templates {
		name := t.Type + "/" + t.Channel
		subject, err := template.New(name).Option("missingkey=zero").Parse(t.Subject)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s subject", name)
		}
		body, err := template.New(name).Option("missingkey=zero").Parse(t.Body)
		if err != nil {
			return nil, errors.Wrapf(err, "parsing %s body", name)
		}
		r.templates[templateKey{t.Type, t.Channel}] = compiledTemplate{subject: subject, body: body}
	}
	return r, nil
}

// DefaultRenderer serves the built-in Templates.
func DefaultRenderer() *Renderer {
	r, err := NewRenderer(Templates...)
	if err != nil {
		panic(err)
	}
	return r
}

// Render formats the title and message n shows on channel. Without a template for its
// type and channel, n's own title and message are returned.
func (r *Renderer) Render(n Notification, channel string) (title, message string, err error) {
	t, ok := r.templates[templateKey{n.Type, channel}]
	if !ok {
		return n.Title, n.Message, nil
	}
	data := templateData(n)
	if title, err = execute(t.subject, data); err != nil {
		return "", "", err
	}
	if message, err = execute(t.body, data); err != nil {
		return "", "", err
	}
	return title, message, nil
}

func execute(t *template.Template, data map[string]string) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", errors.Wrapf(err, "rendering %s", t.Name())
	}
	return b.String(), nil
}

// templateData flattens metadata to strings, so that numbers print without exponent.
func templateData(n Notification) map[string]string {
	data := make(map[string]string, len(n.Metadata)+2)
	for k, v := range n.Metadata {
		switch v := v.(type) {
		case nil:
			data[k] = ""
		case float64:
			data[k] = strconv.FormatFloat(v, 'f', -1, 64)
		default:
			data[k] = fmt.Sprint(v)
		}
	}
	data["title"] = n.Title
	data["message"] = n.Message
	return data
}
