package email

import (
	"fmt"
	"sort"
	"strings"
)

const (
	TemplateAppointmentReminder = "appointment-reminder"
	TemplatePaymentReceived     = "payment-received"
)

var builtinTemplates = map[string]string{
	TemplateAppointmentReminder: `<p>Hi {{name}},</p>
<p>This is a reminder that you have an appointment at {{time}} ({{type}} notice).</p>
<p>The 7erfa team</p>`,
	TemplatePaymentReceived: `<p>Hi {{name}},</p>
<p>Payment of {{amount}} EGP for appointment {{appointmentId}} has been credited to your wallet.</p>
<p>A platform fee of {{fee}} EGP was deducted.</p>
<p>The 7erfa team</p>`,
}

// Templates resolves template names to bodies with {{key}} placeholders.
type Templates struct {
	bodies map[string]string
}

// DefaultTemplates returns the built-in transactional templates.
func DefaultTemplates() *Templates {
	bodies := make(map[string]string, len(builtinTemplates))
	for name, body := range builtinTemplates {
		bodies[name] = body
	}
	return &Templates{bodies: bodies}
}

// Register adds or replaces a template.
func (t *Templates) Register(name, body string) {
	t.bodies[name] = body
}

func (t *Templates) Lookup(name string) (string, bool) {
	body, ok := t.bodies[name]
	return body, ok
}

// Render substitutes every {{key}} with the matching context value.
// Placeholders without a value are left untouched.
func Render(body string, context map[string]any) string {
	if len(context) == 0 {
		return body
	}
	keys := make([]string, 0, len(context))
	for key := range context {
		keys = append(keys, key)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, key := range keys {
		pairs = append(pairs, "{{"+key+"}}", fmt.Sprint(context[key]))
	}
	return strings.NewReplacer(pairs...).Replace(body)
}
