package alerts

import (
	"cmp"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/lysyi3m/samwatch/app/database"
)

// Destination is one of ConsoleDestination, WebhookDestination or
// EmailDestination.
type Destination interface {
	Method() string
	destination()
}

type ConsoleDestination struct{}

type WebhookDestination struct {
	URL     string
	Headers map[string]string
}

type EmailDestination struct {
	Server     string
	Port       int
	UseTLS     bool
	Username   string
	Password   string
	Sender     string
	Recipients []string
	Subject    string
}

func (ConsoleDestination) Method() string { return MethodConsole }
func (WebhookDestination) Method() string { return MethodWebhook }
func (EmailDestination) Method() string   { return MethodEmail }

func (ConsoleDestination) destination() {}
func (WebhookDestination) destination() {}
func (EmailDestination) destination()   {}

// SMTPDefaults fill in email settings a destination leaves out.
type SMTPDefaults struct {
	Server   string
	Port     int
	UseTLS   bool
	Username string
	Password string
	Sender   string
}

// emailTarget is the JSON form of an email destination target.
type emailTarget struct {
	Server     string          `json:"smtp_server"`
	Port       int             `json:"smtp_port"`
	UseTLS     *bool           `json:"use_tls"`
	Username   string          `json:"username"`
	Password   string          `json:"password"`
	Sender     string          `json:"sender"`
	Recipients json.RawMessage `json:"recipients"`
	Subject    string          `json:"subject"`
}

type webhookTarget struct {
	URL     string            `json:"url"`
	Headers map[string]string `json:"headers"`
}

// ParseDestination turns a stored alert into its typed destination. Unknown
// methods yield ErrUnknownMethod and unusable settings ErrIncomplete.
func ParseDestination(alert database.Alert, defaults SMTPDefaults) (Destination, error) {
	target := strings.TrimSpace(alert.Target)

	switch strings.ToLower(strings.TrimSpace(alert.DeliveryMethod)) {
	case MethodCLI, MethodConsole:
		return ConsoleDestination{}, nil

	case MethodWebhook:
		d := WebhookDestination{URL: target}
		if strings.HasPrefix(target, "{") {
			var t webhookTarget
			if err := json.Unmarshal([]byte(target), &t); err != nil {
				return nil, fmt.Errorf("%w: invalid webhook target: %v", ErrIncomplete, err)
			}
			d = WebhookDestination{URL: t.URL, Headers: t.Headers}
		}
		if d.URL == "" {
			return nil, fmt.Errorf("%w: webhook url is required", ErrIncomplete)
		}
		return d, nil

	case MethodEmail:
		d, err := parseEmail(target, defaults)
		if err != nil {
			return nil, err
		}
		return d, nil

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMethod, alert.DeliveryMethod)
	}
}

func parseEmail(target string, defaults SMTPDefaults) (EmailDestination, error) {
	d := EmailDestination{
		Server:   defaults.Server,
		Port:     defaults.Port,
		UseTLS:   defaults.UseTLS,
		Username: defaults.Username,
		Password: defaults.Password,
		Sender:   defaults.Sender,
	}

	if strings.HasPrefix(target, "{") {
		var t emailTarget
		if err := json.Unmarshal([]byte(target), &t); err != nil {
			return d, fmt.Errorf("%w: invalid email target: %v", ErrIncomplete, err)
		}
		d.Server = cmp.Or(t.Server, d.Server)
		d.Port = cmp.Or(t.Port, d.Port)
		if t.UseTLS != nil {
			d.UseTLS = *t.UseTLS
		}
		d.Username = cmp.Or(t.Username, d.Username)
		d.Password = cmp.Or(t.Password, d.Password)
		d.Sender = cmp.Or(t.Sender, d.Sender)
		d.Subject = t.Subject
		d.Recipients = parseRecipients(t.Recipients)
	} else {
		d.Recipients = splitRecipients(target)
	}

	if d.Port == 0 {
		d.Port = 25
	}

	var missing []string
	if d.Server == "" {
		missing = append(missing, "smtp server")
	}
	if d.Sender == "" {
		missing = append(missing, "sender")
	}
	if len(d.Recipients) == 0 {
		missing = append(missing, "recipients")
	}
	if len(missing) > 0 {
		return d, fmt.Errorf("%w: missing %s", ErrIncomplete, strings.Join(missing, ", "))
	}
	return d, nil
}

// parseRecipients accepts either a JSON list or a comma separated string.
func parseRecipients(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []string
	if err := json.Unmarshal(raw, &list); err == nil {
		return splitRecipients(strings.Join(list, ","))
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return splitRecipients(s)
	}
	return nil
}

func splitRecipients(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == ';' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
