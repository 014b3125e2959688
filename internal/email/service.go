// Package email composes contract share messages and sends them via SMTP.
package email

import (
	"bytes"
	"errors"
	"fmt"
	"html/template"
	"mime"
	"net/smtp"
	"net/url"
	"strings"
	ttemplate "text/template"
)

var ErrNotConfigured = errors.New("email not configured")

// Config holds SMTP configuration
type Config struct {
	Host     string
	Port     string
	Username string
	Password string
	From     string
	FromName string
}

type sendFunc func(addr string, a smtp.Auth, from string, to []string, msg []byte) error

// Service provides email sending
type Service struct {
	config Config
	server string
	auth   smtp.Auth
	send   sendFunc
}

// NewService creates a new email service
func NewService(config Config) *Service {
	var auth smtp.Auth
	if config.Username != "" {
		auth = smtp.PlainAuth("", config.Username, config.Password, config.Host)
	}
	return &Service{
		config: config,
		server: config.Host + ":" + config.Port,
		auth:   auth,
		send:   smtp.SendMail,
	}
}

// IsConfigured returns true if email is configured
func (s *Service) IsConfigured() bool {
	return s.config.Host != "" && s.config.Port != "" && s.config.From != ""
}

// Message is a composed email with plain text and HTML alternatives.
type Message struct {
	To      []string
	Subject string
	Text    string
	HTML    string
}

// Send delivers msg as multipart/alternative.
func (s *Service) Send(msg Message) error {
	if !s.IsConfigured() {
		return ErrNotConfigured
	}
	if len(msg.To) == 0 {
		return errors.New("email has no recipients")
	}

	from := s.config.From
	if s.config.FromName != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("utf-8", s.config.FromName), s.config.From)
	}

	boundary := "boundary-contractflow"

	var b bytes.Buffer
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.To, ", "))
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "Subject: %s\r\n", mime.QEncoding.Encode("utf-8", msg.Subject))
	fmt.Fprintf(&b, "MIME-Version: 1.0\r\n")
	fmt.Fprintf(&b, "Content-Type: multipart/alternative; boundary=\"%s\"\r\n", boundary)
	fmt.Fprintf(&b, "\r\n")

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: text/plain; charset=UTF-8\r\n")
	fmt.Fprintf(&b, "\r\n")
	fmt.Fprintf(&b, "%s\r\n", msg.Text)

	fmt.Fprintf(&b, "--%s\r\n", boundary)
	fmt.Fprintf(&b, "Content-Type: text/html; charset=UTF-8\r\n")
	fmt.Fprintf(&b, "\r\n")
	fmt.Fprintf(&b, "%s\r\n", msg.HTML)
	fmt.Fprintf(&b, "--%s--\r\n", boundary)

	if err := s.send(s.server, s.auth, s.config.From, msg.To, b.Bytes()); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

// ShareData holds data for the contract share message.
type ShareData struct {
	AppName       string
	RecipientName string
	SenderName    string
	ContractTitle string
	ShareURL      string
	Note          string
}

// ShareURL builds the public link for a share token.
func ShareURL(origin, token string) string {
	return strings.TrimRight(origin, "/") + "/share/contract/" + url.PathEscape(token)
}

// ComposeShare builds the message inviting to to review a contract.
func ComposeShare(to string, data ShareData) (Message, error) {
	if strings.TrimSpace(to) == "" {
		return Message{}, errors.New("recipient is required")
	}
	if data.AppName == "" {
		data.AppName = "ContractFlow"
	}
	if data.ContractTitle == "" {
		data.ContractTitle = "your contract"
	}

	var htmlBody bytes.Buffer
	if err := shareHTMLTemplate.Execute(&htmlBody, data); err != nil {
		return Message{}, fmt.Errorf("render share template: %w", err)
	}
	var textBody bytes.Buffer
	if err := shareTextTemplate.Execute(&textBody, data); err != nil {
		return Message{}, fmt.Errorf("render share text: %w", err)
	}

	return Message{
		To:      []string{to},
		Subject: fmt.Sprintf("%s: please review %s", data.AppName, data.ContractTitle),
		Text:    textBody.String(),
		HTML:    htmlBody.String(),
	}, nil
}

var shareTextTemplate = ttemplate.Must(ttemplate.New("share-text").Parse(`Hi{{with .RecipientName}} {{.}}{{end}},

{{if .SenderName}}{{.SenderName}} has{{else}}You have been{{end}} sent {{.ContractTitle}} for review.
{{with .Note}}
{{.}}
{{end}}
Open the contract: {{.ShareURL}}
`))

var shareHTMLTemplate = template.Must(template.New("share-html").Parse(`<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>{{.AppName}}: {{.ContractTitle}}</title>
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif; line-height: 1.6; color: #333; max-width: 600px; margin: 0 auto; padding: 20px; }
        .header { border-bottom: 2px solid #0066cc; padding-bottom: 10px; margin-bottom: 20px; }
        .button { display: inline-block; padding: 12px 24px; background: #0066cc; color: white; text-decoration: none; border-radius: 4px; margin: 20px 0; }
        .note { background: #f5f7fa; padding: 12px; border-radius: 4px; margin: 20px 0; }
        .footer { margin-top: 30px; padding-top: 20px; border-top: 1px solid #eee; font-size: 12px; color: #666; }
        .link { word-break: break-all; color: #0066cc; }
    </style>
</head>
<body>
    <div class="header">
        <h1>{{.AppName}}</h1>
    </div>

    <p>Hi{{with .RecipientName}} {{.}}{{end}},</p>

    <p>{{if .SenderName}}{{.SenderName}} has{{else}}You have been{{end}} sent {{.ContractTitle}} for review.</p>
    {{with .Note}}<div class="note">{{.}}</div>{{end}}

    <p>
        <a href="{{.ShareURL}}" class="button">Review Contract</a>
    </p>

    <p>Or copy and paste this link into your browser:</p>
    <p class="link">{{.ShareURL}}</p>

    <div class="footer">
        <p>Anyone with this link can view the contract. Do not forward it.</p>
    </div>
</body>
</html>`))
