package services

import (
	"bytes"
	"crypto/tls"
	"fmt"
	"html/template"
	"mime"
	"net"
	"net/smtp"
	"net/url"
	"strings"
	"time"
)

type IMailService interface {
	SendMailToNotifyUser(to, subject, body, ctaText, ctaURL string) error
	SendMailToResetPassword(to, token string) error
}

type SMTPConfig struct {
	Host       string
	Port       int
	Username   string
	Password   string
	From       string
	FromName   string
	UseSSL     bool // implicit TLS on 465, otherwise STARTTLS
	RequireTLS bool

	AppName    string
	AppBaseURL string
}

type smtpMailService struct {
	cfg     SMTPConfig
	htmlTpl *template.Template
	dial    func(network, addr string) (net.Conn, error)
}

func NewSMTPMailService(cfg SMTPConfig) (IMailService, error) {
	if cfg.Host == "" || cfg.From == "" {
		return nil, fmt.Errorf("smtp host and from address are required")
	}
	tpl, err := template.New("notify").Parse(notifyHTMLTemplate)
	if err != nil {
		return nil, err
	}
	dialer := &net.Dialer{Timeout: 10 * time.Second}
	return &smtpMailService{cfg: cfg, htmlTpl: tpl, dial: dialer.Dial}, nil
}

type EmailData struct {
	Title     string
	Intro     string
	ButtonURL string
	ButtonTxt string
	AppName   string
	Year      int
}

const notifyHTMLTemplate = `<!doctype html>
<html><head><meta charset="UTF-8"><title>{{.Title}}</title></head>
<body style="font-family:Arial,sans-serif;color:#1f2937">
  <h2>{{.AppName}}</h2>
  <h3>{{.Title}}</h3>
  <p>{{.Intro}}</p>
  {{if .ButtonURL}}<p><a href="{{.ButtonURL}}">{{.ButtonTxt}}</a></p>{{end}}
  <p style="color:#6b7280;font-size:12px">© {{.Year}} {{.AppName}}</p>
</body></html>`

func (s *smtpMailService) SendMailToNotifyUser(to, subject, body, ctaText, ctaURL string) error {
	if ctaURL != "" && !strings.HasPrefix(ctaURL, "http") {
		ctaURL = strings.TrimRight(s.cfg.AppBaseURL, "/") + "/" + strings.TrimLeft(ctaURL, "/")
	}
	data := EmailData{
		Title:     subject,
		Intro:     body,
		ButtonURL: ctaURL,
		ButtonTxt: ctaText,
		AppName:   s.cfg.AppName,
		Year:      time.Now().Year(),
	}
	var hb bytes.Buffer
	if err := s.htmlTpl.Execute(&hb, data); err != nil {
		return err
	}
	text := body
	if ctaURL != "" {
		text += "\n\n" + ctaURL
	}
	return s.send(to, subject, hb.String(), text)
}

func (s *smtpMailService) SendMailToResetPassword(to, token string) error {
	link := fmt.Sprintf("%s/reset-password?token=%s", strings.TrimRight(s.cfg.AppBaseURL, "/"), url.QueryEscape(token))
	subject := "Reset your password"
	data := EmailData{
		Title:     subject,
		Intro:     "We received a request to reset your password. If you did not ask for it, ignore this email.",
		ButtonURL: link,
		ButtonTxt: "Reset Password",
		AppName:   s.cfg.AppName,
		Year:      time.Now().Year(),
	}
	var hb bytes.Buffer
	if err := s.htmlTpl.Execute(&hb, data); err != nil {
		return err
	}
	text := "Reset your password: " + link + "\n\nReset code: " + token
	return s.send(to, subject, hb.String(), text)
}

func (s *smtpMailService) buildMessage(to, subject, htmlBody, textBody string) []byte {
	boundary := fmt.Sprintf("mixed_%d", time.Now().UnixNano())
	from := s.cfg.From
	if name := strings.TrimSpace(s.cfg.FromName); name != "" {
		from = fmt.Sprintf("%s <%s>", mime.QEncoding.Encode("UTF-8", name), s.cfg.From)
	}

	var msg bytes.Buffer
	write := func(format string, a ...any) { _, _ = fmt.Fprintf(&msg, format, a...) }
	write("From: %s\r\n", from)
	write("To: %s\r\n", to)
	write("Subject: %s\r\n", mime.QEncoding.Encode("UTF-8", subject))
	write("Date: %s\r\n", time.Now().Format(time.RFC1123Z))
	write("MIME-Version: 1.0\r\n")
	write("Content-Type: multipart/alternative; boundary=%q\r\n\r\n", boundary)
	write("--%s\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, textBody)
	write("--%s\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n%s\r\n\r\n", boundary, htmlBody)
	write("--%s--\r\n", boundary)
	return msg.Bytes()
}

func (s *smtpMailService) send(to, subject, htmlBody, textBody string) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Host, s.cfg.Port)
	tlsCfg := &tls.Config{ServerName: s.cfg.Host, MinVersion: tls.VersionTLS12}

	var conn net.Conn
	var err error
	if s.cfg.UseSSL {
		conn, err = tls.Dial("tcp", addr, tlsCfg)
	} else {
		conn, err = s.dial("tcp", addr)
	}
	if err != nil {
		return err
	}
	defer conn.Close()

	c, err := smtp.NewClient(conn, s.cfg.Host)
	if err != nil {
		return err
	}
	defer c.Quit()

	if !s.cfg.UseSSL {
		if ok, _ := c.Extension("STARTTLS"); ok {
			if err = c.StartTLS(tlsCfg); err != nil {
				return err
			}
		} else if s.cfg.RequireTLS {
			return fmt.Errorf("server does not support STARTTLS and RequireTLS=true")
		}
	}

	if s.cfg.Username != "" {
		if err = c.Auth(smtp.PlainAuth("", s.cfg.Username, s.cfg.Password, s.cfg.Host)); err != nil {
			return err
		}
	}
	if err = c.Mail(s.cfg.From); err != nil {
		return err
	}
	if err = c.Rcpt(to); err != nil {
		return err
	}
	w, err := c.Data()
	if err != nil {
		return err
	}
	if _, err = w.Write(s.buildMessage(to, subject, htmlBody, textBody)); err != nil {
		return err
	}
	return w.Close()
}
