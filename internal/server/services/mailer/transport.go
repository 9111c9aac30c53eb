package mailer

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"mime/multipart"
	"net"
	"net/http"
	"net/smtp"
	"net/textproto"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
)

const smtp2goEndpoint = "https://api.smtp2go.com/v3/email/send"

// defaultSMTPTimeout bounds a whole SMTP conversation when the caller sets no deadline
const defaultSMTPTimeout = 30 * time.Second

// SMTPTransport sends mail over SMTP with STARTTLS and PLAIN auth
type SMTPTransport struct {
	Host     string
	Port     int
	Username string
	Password string
	// Timeout applies when ctx carries no deadline of its own
	Timeout time.Duration

	dialer net.Dialer
}

// NewSMTPTransport creates an SMTP transport
func NewSMTPTransport(host string, port int, username, password string) *SMTPTransport {
	return &SMTPTransport{
		Host:     host,
		Port:     port,
		Username: username,
		Password: password,
		Timeout:  defaultSMTPTimeout,
	}
}

// Deliver writes msg as multipart/alternative and sends it. The connection
// deadline follows ctx, and cancelling ctx aborts a conversation in progress.
func (t *SMTPTransport) Deliver(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	raw, err := buildMIME(msg, t.Host, time.Now())
	if err != nil {
		return err
	}

	if _, ok := ctx.Deadline(); !ok {
		timeout := t.Timeout
		if timeout <= 0 {
			timeout = defaultSMTPTimeout
		}
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	addr := net.JoinHostPort(t.Host, strconv.Itoa(t.Port))
	conn, err := t.dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to connect to SMTP server: %w", err)
	}
	defer conn.Close()

	deadline, _ := ctx.Deadline()
	if err := conn.SetDeadline(deadline); err != nil {
		return fmt.Errorf("failed to set SMTP deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() { conn.SetDeadline(time.Now()) })
	defer stop()

	if err := t.converse(conn, msg.From, msg.To, raw); err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			// The connection deadline mirrors ctx, so ctx is done or about to be.
			<-ctx.Done()
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("smtp delivery aborted: %w", errors.Join(err, ctxErr))
		}
		return err
	}
	return nil
}

// converse runs one SMTP session over conn
func (t *SMTPTransport) converse(conn net.Conn, from string, to []string, raw []byte) error {
	c, err := smtp.NewClient(conn, t.Host)
	if err != nil {
		return fmt.Errorf("smtp greeting: %w", err)
	}
	defer c.Close()

	if ok, _ := c.Extension("STARTTLS"); ok {
		if err := c.StartTLS(&tls.Config{ServerName: t.Host}); err != nil {
			return fmt.Errorf("smtp starttls: %w", err)
		}
	}

	if t.Username != "" {
		if ok, _ := c.Extension("AUTH"); !ok {
			return errors.New("smtp server does not support AUTH")
		}
		if err := c.Auth(smtp.PlainAuth("", t.Username, t.Password, t.Host)); err != nil {
			return fmt.Errorf("smtp auth: %w", err)
		}
	}

	if err := c.Mail(from); err != nil {
		return fmt.Errorf("smtp MAIL FROM: %w", err)
	}
	for _, rcpt := range to {
		if err := c.Rcpt(rcpt); err != nil {
			return fmt.Errorf("smtp RCPT TO %s: %w", rcpt, err)
		}
	}

	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}
	if _, err := w.Write(raw); err != nil {
		return fmt.Errorf("smtp write: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("smtp DATA: %w", err)
	}

	return c.Quit()
}

// buildMIME renders headers and a text/html alternative body. BCC mail
// addresses the visible To header to the sender; the envelope carries the recipients.
func buildMIME(msg Message, host string, now time.Time) ([]byte, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	parts := []struct {
		contentType string
		content     string
	}{
		{"text/plain; charset=\"UTF-8\"", msg.TextBody},
		{"text/html; charset=\"UTF-8\"", msg.HTMLBody},
	}
	for _, p := range parts {
		w, err := mw.CreatePart(textproto.MIMEHeader{"Content-Type": {p.contentType}})
		if err != nil {
			return nil, err
		}
		if _, err := w.Write([]byte(p.content)); err != nil {
			return nil, err
		}
	}
	if err := mw.Close(); err != nil {
		return nil, err
	}

	to := strings.Join(msg.To, ", ")
	if msg.BCC {
		to = msg.From
	}

	var out bytes.Buffer
	headers := [][2]string{
		{"From", msg.From},
		{"To", to},
		{"Subject", msg.Subject},
		{"Date", now.Format(time.RFC1123Z)},
		{"Message-ID", fmt.Sprintf("<%s.%d@%s>", uuid.New().String(), now.UnixNano(), host)},
		{"MIME-Version", "1.0"},
		{"Content-Type", "multipart/alternative; boundary=" + mw.Boundary()},
	}
	for _, h := range headers {
		fmt.Fprintf(&out, "%s: %s\r\n", h[0], h[1])
	}
	out.WriteString("\r\n")
	out.Write(body.Bytes())

	return out.Bytes(), nil
}

// SMTP2GORequest is the SMTP2GO send API request body
type SMTP2GORequest struct {
	APIKey   string   `json:"api_key"`
	To       []string `json:"to"`
	BCC      []string `json:"bcc,omitempty"`
	Sender   string   `json:"sender"`
	Subject  string   `json:"subject"`
	TextBody string   `json:"text_body"`
	HtmlBody string   `json:"html_body"`
}

// SMTP2GOResponse is the SMTP2GO send API response body
type SMTP2GOResponse struct {
	RequestID string `json:"request_id"`
	Data      struct {
		EmailID   string `json:"email_id"`
		Succeeded int    `json:"succeeded"`
		Failed    int    `json:"failed"`
	} `json:"data"`
}

// SMTP2GOTransport sends mail through the SMTP2GO HTTP API
type SMTP2GOTransport struct {
	apiKey   string
	endpoint string
	client   *http.Client
}

// NewSMTP2GOTransport creates an API transport. An empty endpoint uses the public API.
func NewSMTP2GOTransport(apiKey, endpoint string, client *http.Client) *SMTP2GOTransport {
	if endpoint == "" {
		endpoint = smtp2goEndpoint
	}
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	return &SMTP2GOTransport{apiKey: apiKey, endpoint: endpoint, client: client}
}

// Deliver posts msg to the API
func (t *SMTP2GOTransport) Deliver(ctx context.Context, msg Message) error {
	request := SMTP2GORequest{
		APIKey:   t.apiKey,
		To:       msg.To,
		Sender:   msg.From,
		Subject:  msg.Subject,
		TextBody: msg.TextBody,
		HtmlBody: msg.HTMLBody,
	}
	if msg.BCC {
		request.To = []string{msg.From}
		request.BCC = msg.To
	}

	jsonData, err := json.Marshal(request)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, t.endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API request failed with status: %d", resp.StatusCode)
	}

	var response SMTP2GOResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	if response.Data.Failed > 0 {
		return fmt.Errorf("API rejected %d recipients", response.Data.Failed)
	}

	return nil
}
