package email

import (
	"fmt"
	"net/smtp"
	"time"

	"github.com/akulagin/invest-card-service/internal/config"
	"github.com/akulagin/invest-card-service/internal/models"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender handles sending notifications via SMTP. Only masked card
// details ever appear in a message body.
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	return &Sender{
		cfg:    cfg,
		logger: logger,
	}
}

// SendCardShared sends a masked card summary to a recipient the
// investor shared the card with.
func (s *Sender) SendCardShared(to, investorName, maskedNumber string, expiry time.Time, tier models.CardTier) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Investor Card Shared With You"

	body := fmt.Sprintf(
		"%s shared an investor card with you.\n\n"+
			"Card: %s\n"+
			"Tier: %s\n"+
			"Valid until: %s\n",
		investorName, maskedNumber, tier, expiry.Format("2006-01-02"),
	)
	body += "\nBest regards,\nInvest Card Service"
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send share notice to %s: %v", to, err)
		return fmt.Errorf("failed to send share notice: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}

// SendRenewalNotice tells the investor their card was renewed.
func (s *Sender) SendRenewalNotice(to, investorName, maskedNumber string, expiry time.Time) error {
	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{to}
	e.Subject = "Card Renewed"

	body := fmt.Sprintf(
		"Dear %s,\n\n"+
			"Your card %s has been renewed and is now valid until %s.\n",
		investorName, maskedNumber, expiry.Format("2006-01-02"),
	)
	body += "\nBest regards,\nInvest Card Service"
	e.Text = []byte(body)

	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	if err := e.Send(addr, auth); err != nil {
		s.logger.Errorf("Failed to send renewal notice to %s: %v", to, err)
		return fmt.Errorf("failed to send renewal notice: %w", err)
	}

	s.logger.Infof("Email sent to %s: %s", to, e.Subject)
	return nil
}
