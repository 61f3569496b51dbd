// Package mailer renders and delivers workspace invitation emails.
package mailer

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ledgerly/backend/pkg/queue"
)

// InvitationEmail is everything needed to tell a recipient about an invitation.
type InvitationEmail struct {
	InvitationID  uuid.UUID
	WorkspaceID   uuid.UUID
	WorkspaceName string
	InviterName   string
	InviterEmail  string
	Email         string
	Role          string
	ExpiresAt     time.Time
}

// Mailer delivers invitation emails. A nil Mailer means email is not configured.
type Mailer interface {
	SendInvitation(ctx context.Context, inv InvitationEmail) error
}

var invitationTmpl = template.Must(template.New("invitation").Parse(
	`{{.Inviter}} invited you to join {{.Workspace}} on Ledgerly as {{.Role}}.

Accept the invitation: {{.Link}}

This invitation expires on {{.Expires}}. If you were not expecting it, you can ignore this email.
`))

// RenderInvitation returns the subject and plain-text body for inv.
// The accept link is baseURL followed by the invitation id.
func RenderInvitation(baseURL string, inv InvitationEmail) (string, string, error) {
	inviter := inv.InviterName
	if inviter == "" {
		inviter = inv.InviterEmail
	}
	var buf bytes.Buffer
	err := invitationTmpl.Execute(&buf, map[string]string{
		"Inviter":   inviter,
		"Workspace": inv.WorkspaceName,
		"Role":      inv.Role,
		"Link":      strings.TrimRight(baseURL, "/") + "/" + inv.InvitationID.String(),
		"Expires":   inv.ExpiresAt.UTC().Format("Jan 2, 2006 15:04 MST"),
	})
	if err != nil {
		return "", "", fmt.Errorf("render invitation: %w", err)
	}
	subject := fmt.Sprintf("You're invited to join %s", inv.WorkspaceName)
	return subject, buf.String(), nil
}

// Enqueuer is the queue operation QueueMailer needs.
type Enqueuer interface {
	EnqueueEmail(ctx context.Context, payload queue.EmailPayload) error
}

// QueueMailer renders invitation emails and hands them to the worker queue.
type QueueMailer struct {
	queue   Enqueuer
	baseURL string
	logger  *zap.Logger
}

// NewQueueMailer creates a mailer that enqueues email jobs.
func NewQueueMailer(q Enqueuer, inviteBaseURL string, logger *zap.Logger) *QueueMailer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &QueueMailer{queue: q, baseURL: inviteBaseURL, logger: logger}
}

// SendInvitation renders inv and enqueues it.
func (m *QueueMailer) SendInvitation(ctx context.Context, inv InvitationEmail) error {
	subject, body, err := RenderInvitation(m.baseURL, inv)
	if err != nil {
		return err
	}
	if err := m.queue.EnqueueEmail(ctx, queue.EmailPayload{
		InvitationID:   inv.InvitationID,
		WorkspaceID:    inv.WorkspaceID,
		RecipientEmail: inv.Email,
		Subject:        subject,
		BodyText:       body,
	}); err != nil {
		return fmt.Errorf("enqueue invitation email: %w", err)
	}
	m.logger.Debug("invitation email queued", zap.String("invitation_id", inv.InvitationID.String()))
	return nil
}
