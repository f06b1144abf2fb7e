package services

import (
	"context"
	"fmt"
	"net/smtp"
	"strings"
	"sync"
	"time"

	"github.com/coldflowhq/coldflow/utils"
	"github.com/google/uuid"
)

// EmailMessage is one outbound email, addressed from a sender identity
type EmailMessage struct {
	IdentityID  string   `json:"identity_id"`
	Recipients  []string `json:"recipients"`
	Subject     string   `json:"subject"`
	Body        string   `json:"body"`
	Attachments []string `json:"attachments,omitempty"`
	// ThreadingRef carries the message id of the original send so replies and
	// follow-ups land in the same conversation.
	ThreadingRef string `json:"threading_ref,omitempty"`
}

// SendOutcome is the transport's result for one message
type SendOutcome struct {
	MessageID string    `json:"message_id"`
	SentAt    time.Time `json:"sent_at"`
}

// EmailService delivers messages through a sender identity's transport
type EmailService interface {
	Send(ctx context.Context, msg *EmailMessage) (*SendOutcome, error)
}

// SMTPIdentity holds the transport credentials for one sender identity
type SMTPIdentity struct {
	ID       string
	Email    string
	FromName string
	Domain   string
	Host     string
	Port     int
	Username string
	Password string
}

// SMTPEmailService implements EmailService over plain SMTP
type SMTPEmailService struct {
	identities map[string]SMTPIdentity
}

// NewSMTPEmailService creates a new SMTP email service from the configured
// identity set
func NewSMTPEmailService(identities []SMTPIdentity) EmailService {
	byID := make(map[string]SMTPIdentity, len(identities))
	for _, id := range identities {
		byID[id.ID] = id
	}
	return &SMTPEmailService{identities: byID}
}

// Send delivers the message through the identity's SMTP server. A missing or
// misconfigured identity is a configuration error surfaced immediately.
func (s *SMTPEmailService) Send(ctx context.Context, msg *EmailMessage) (*SendOutcome, error) {
	identity, ok := s.identities[msg.IdentityID]
	if !ok {
		return nil, fmt.Errorf("sender identity %s is not configured", msg.IdentityID)
	}
	if identity.Host == "" || identity.Username == "" || identity.Password == "" {
		return nil, fmt.Errorf("sender identity %s has incomplete SMTP credentials", msg.IdentityID)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	messageID := fmt.Sprintf("<%s@%s>", uuid.NewString(), identity.Domain)
	payload := buildMessage(identity, msg, messageID)

	addr := fmt.Sprintf("%s:%d", identity.Host, identity.Port)
	auth := smtp.PlainAuth("", identity.Username, identity.Password, identity.Host)
	if err := smtp.SendMail(addr, auth, identity.Email, msg.Recipients, payload); err != nil {
		return nil, fmt.Errorf("smtp delivery failed: %w", err)
	}

	return &SendOutcome{
		MessageID: messageID,
		SentAt:    utils.UTCNow(),
	}, nil
}

func buildMessage(identity SMTPIdentity, msg *EmailMessage, messageID string) []byte {
	var b strings.Builder
	from := identity.Email
	if identity.FromName != "" {
		from = fmt.Sprintf("%s <%s>", identity.FromName, identity.Email)
	}
	fmt.Fprintf(&b, "From: %s\r\n", from)
	fmt.Fprintf(&b, "To: %s\r\n", strings.Join(msg.Recipients, ", "))
	fmt.Fprintf(&b, "Subject: %s\r\n", msg.Subject)
	fmt.Fprintf(&b, "Message-ID: %s\r\n", messageID)
	fmt.Fprintf(&b, "Date: %s\r\n", utils.UTCNow().Format(time.RFC1123Z))
	if msg.ThreadingRef != "" {
		fmt.Fprintf(&b, "In-Reply-To: %s\r\n", msg.ThreadingRef)
		fmt.Fprintf(&b, "References: %s\r\n", msg.ThreadingRef)
	}
	b.WriteString("MIME-Version: 1.0\r\n")
	b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
	b.WriteString("\r\n")
	b.WriteString(msg.Body)
	return []byte(b.String())
}

// MockEmailService is a mock implementation for testing
type MockEmailService struct {
	mu       sync.Mutex
	sent     []*EmailMessage
	failWith error
}

// NewMockEmailService creates a new mock email service
func NewMockEmailService() *MockEmailService {
	return &MockEmailService{}
}

func (s *MockEmailService) Send(ctx context.Context, msg *EmailMessage) (*SendOutcome, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failWith != nil {
		return nil, s.failWith
	}
	s.sent = append(s.sent, msg)
	return &SendOutcome{
		MessageID: fmt.Sprintf("<mock-%d@test.local>", len(s.sent)),
		SentAt:    utils.UTCNow(),
	}, nil
}

// GetSentMessages returns a copy of all messages the mock has accepted
func (s *MockEmailService) GetSentMessages() []*EmailMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*EmailMessage, len(s.sent))
	copy(out, s.sent)
	return out
}

// SetError makes every subsequent Send fail with err; pass nil to recover
func (s *MockEmailService) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failWith = err
}

// Clear discards recorded messages
func (s *MockEmailService) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sent = nil
}
