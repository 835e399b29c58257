// internal/services/notification_service.go
package services

import (
	"bytes"
	"fmt"
	"html/template"
	"net/smtp"

	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/javajoker/datamarket-backend/internal/config"
	"github.com/javajoker/datamarket-backend/internal/models"
)

type NotificationService struct {
	db     *gorm.DB
	config *config.Config
	send   func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

type EmailTemplate struct {
	Subject string
	Body    string
}

func NewNotificationService(db *gorm.DB, config *config.Config) *NotificationService {
	return &NotificationService{
		db:     db,
		config: config,
		send:   smtp.SendMail,
	}
}

// SendSaleNotification tells the seller that a purchase of their dataset was
// confirmed on chain. Sellers without a contact address are skipped.
func (s *NotificationService) SendSaleNotification(tx *models.Transaction) error {
	if tx.SellerID == nil || tx.DatasetID == nil {
		return nil
	}

	var seller models.User
	if err := s.db.First(&seller, "id = ?", *tx.SellerID).Error; err != nil {
		return fmt.Errorf("seller not found: %w", err)
	}
	if seller.Contact == "" {
		return nil
	}

	var dataset models.Dataset
	if err := s.db.First(&dataset, "id = ?", *tx.DatasetID).Error; err != nil {
		return fmt.Errorf("dataset not found: %w", err)
	}

	data := map[string]interface{}{
		"SellerName":   sellerName(&seller),
		"DatasetTitle": dataset.Title,
		"Amount":       tx.Amount.String(),
		"ExplorerURL":  tx.ExplorerURL,
		"PlatformName": s.config.Email.FromName,
	}

	tmpl := s.getEmailTemplate("dataset_sold")
	body, err := s.renderTemplate(tmpl.Body, data)
	if err != nil {
		return fmt.Errorf("failed to render email template: %w", err)
	}

	return s.sendEmail(seller.Contact, tmpl.Subject+" - "+dataset.Title, body)
}

func sellerName(u *models.User) string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.WalletAddress
}

// Helper methods
func (s *NotificationService) sendEmail(to, subject, body string) error {
	if s.config.Email.SMTPHost == "" {
		// Email not configured, just log
		logrus.WithFields(logrus.Fields{"to": to, "subject": subject}).Info("SMTP not configured, email skipped")
		return nil
	}

	auth := smtp.PlainAuth("", s.config.Email.SMTPUsername, s.config.Email.SMTPPassword, s.config.Email.SMTPHost)

	msg := []byte(fmt.Sprintf("From: %s <%s>\r\nTo: %s\r\nSubject: %s\r\nContent-Type: text/html; charset=\"UTF-8\"\r\n\r\n%s",
		s.config.Email.FromName, s.config.Email.FromEmail, to, subject, body))

	addr := fmt.Sprintf("%s:%s", s.config.Email.SMTPHost, s.config.Email.SMTPPort)
	return s.send(addr, auth, s.config.Email.FromEmail, []string{to}, msg)
}

func (s *NotificationService) renderTemplate(templateStr string, data interface{}) (string, error) {
	tmpl, err := template.New("email").Parse(templateStr)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", err
	}

	return buf.String(), nil
}

func (s *NotificationService) getEmailTemplate(templateType string) EmailTemplate {
	templates := map[string]EmailTemplate{
		"dataset_sold": {
			Subject: "Dataset Sold",
			Body: `
<!DOCTYPE html>
<html>
<body>
	<h2>You made a sale!</h2>
	<p>Hello {{.SellerName}},</p>
	<p>Your dataset "{{.DatasetTitle}}" was purchased for {{.Amount}} tokens.</p>
	{{if .ExplorerURL}}<a href="{{.ExplorerURL}}">View the transaction</a>{{end}}
	<p>Best regards,<br>{{.PlatformName}} Team</p>
</body>
</html>`,
		},
	}

	if tmpl, exists := templates[templateType]; exists {
		return tmpl
	}

	// Default template
	return EmailTemplate{
		Subject: "Notification",
		Body:    "<p>{{.Message}}</p>",
	}
}
