package transport

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// Sender identifies the From address of outgoing mail.
type Sender struct {
	Address string
	Name    string
}

// NewMessageID returns an RFC 5322 message id in domain.
func NewMessageID(domain string) string {
	if domain == "" {
		domain = "sendguard.local"
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

func domainOf(addr string) string {
	if at := strings.LastIndexByte(addr, '@'); at >= 0 {
		return addr[at+1:]
	}
	return ""
}

// buildMessage renders msg as a gomail message carrying messageID.
func buildMessage(from Sender, msg Message, messageID string) *gomail.Message {
	m := gomail.NewMessage()
	if from.Name != "" {
		m.SetAddressHeader("From", from.Address, from.Name)
	} else {
		m.SetHeader("From", from.Address)
	}
	m.SetHeader("To", msg.Recipient)
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", messageID)
	for k, v := range msg.Headers {
		m.SetHeader(k, v)
	}

	switch {
	case msg.TextBody != "" && msg.HTMLBody != "":
		m.SetBody("text/plain", msg.TextBody)
		m.AddAlternative("text/html", msg.HTMLBody)
	case msg.HTMLBody != "":
		m.SetBody("text/html", msg.HTMLBody)
	default:
		m.SetBody("text/plain", msg.TextBody)
	}

	for _, a := range msg.Attachments {
		data := a.Data
		settings := []gomail.FileSetting{
			gomail.SetCopyFunc(func(w io.Writer) error {
				_, err := w.Write(data)
				return err
			}),
		}
		if a.ContentType != "" {
			settings = append(settings, gomail.SetHeader(map[string][]string{
				"Content-Type": {a.ContentType},
			}))
		}
		m.Attach(a.Filename, settings...)
	}
	return m
}

// renderMIME serializes msg to raw RFC 5322 bytes.
func renderMIME(from Sender, msg Message, messageID string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := buildMessage(from, msg, messageID).WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("render mime: %w", err)
	}
	return buf.Bytes(), nil
}
