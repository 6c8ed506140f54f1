package jobqueue

import (
	"context"
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"golang.org/x/time/rate"
	"gorm.io/gorm"

	"github.com/ManuelReschke/LeadLedger/app/models"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/ledger"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/mail"
	"github.com/ManuelReschke/LeadLedger/internal/pkg/metrics"
)

// Recipients resolves the mail address a subscriber's notifications go to.
type Recipients interface {
	Recipient(ctx context.Context, accountID uint) (email, name string, err error)
}

type gormRecipients struct {
	db *gorm.DB
}

// NewGormRecipients looks up account emails with GORM.
func NewGormRecipients(db *gorm.DB) Recipients {
	return &gormRecipients{db: db}
}

func (r *gormRecipients) Recipient(ctx context.Context, accountID uint) (string, string, error) {
	var account models.Account
	if err := r.db.WithContext(ctx).First(&account, accountID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return "", "", fmt.Errorf("%w: account %d not found", ErrPermanent, accountID)
		}
		return "", "", err
	}
	return account.Email, account.Name, nil
}

// NotificationProcessor renders ledger notifications and hands them to the mailer.
type NotificationProcessor struct {
	recipients Recipients
	sender     mail.Sender
	limiter    *rate.Limiter
}

// NewNotificationProcessor sends at most perMinute mails; zero or less disables throttling.
func NewNotificationProcessor(recipients Recipients, sender mail.Sender, perMinute int) *NotificationProcessor {
	limiter := rate.NewLimiter(rate.Inf, 1)
	if perMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(perMinute)), max(1, perMinute/10))
	}
	return &NotificationProcessor{recipients: recipients, sender: sender, limiter: limiter}
}

func (p *NotificationProcessor) ProcessNotification(ctx context.Context, n *NotificationJobPayload) error {
	kind := string(n.Kind)
	email, name, err := p.recipients.Recipient(ctx, n.AccountID)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(kind, "error").Inc()
		return err
	}
	if strings.TrimSpace(email) == "" {
		metrics.NotificationsTotal.WithLabelValues(kind, "skipped").Inc()
		log.Warnf("[Notify] Account %d has no email, dropping %s notification", n.AccountID, kind)
		return nil
	}

	subject, body, err := renderNotification(n, name)
	if err != nil {
		metrics.NotificationsTotal.WithLabelValues(kind, "error").Inc()
		return fmt.Errorf("%w: %v", ErrPermanent, err)
	}
	if err := p.limiter.Wait(ctx); err != nil {
		return err
	}
	if err := p.sender.Send(ctx, email, subject, body); err != nil {
		metrics.NotificationsTotal.WithLabelValues(kind, "error").Inc()
		return err
	}
	metrics.NotificationsTotal.WithLabelValues(kind, "sent").Inc()
	return nil
}

func renderNotification(n *NotificationJobPayload, name string) (string, string, error) {
	greeting := "Hello"
	if name = strings.TrimSpace(name); name != "" {
		greeting = "Hello " + html.EscapeString(name)
	}
	date := ""
	if n.Date != nil {
		date = n.Date.UTC().Format("January 2, 2006")
	}
	plan := html.EscapeString(n.PlanName)

	var subject, text string
	switch n.Kind {
	case ledger.NotifyTrialGranted:
		subject = "Your trial credits are ready"
		text = fmt.Sprintf("%d trial credits were added to your account. They expire on %s.", n.Credits, date)
	case ledger.NotifyRenewed:
		subject = "Your subscription renewed"
		text = fmt.Sprintf("Your %s plan renewed and %d credits were added. Your balance is now %d credits. Next renewal: %s.", plan, n.Credits, n.Balance, date)
	case ledger.NotifyFrozen:
		subject = "Your credits are on hold"
		text = fmt.Sprintf("Your subscription ended and %d unused credits were put on hold. Reactivate before %s to get them back.", n.Credits, date)
	case ledger.NotifyRestored:
		subject = "Your credits were restored"
		text = fmt.Sprintf("%d credits that were on hold are available again. Your balance is now %d credits.", n.Credits, n.Balance)
	case ledger.NotifyForfeited:
		subject = "Held credits have expired"
		text = fmt.Sprintf("%d credits that were on hold expired because the subscription was not reactivated in time.", n.Credits)
	default:
		return "", "", fmt.Errorf("unknown notification kind %q", n.Kind)
	}
	return subject, fmt.Sprintf("<p>%s,</p><p>%s</p>", greeting, text), nil
}
