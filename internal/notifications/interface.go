package notifications

import "github.com/sentiment-ranker/comment-ranker/internal/models"

// NotificationInterface defines the contract for notification services
type NotificationInterface interface {
	SendReport(report *models.RunReport) error
	SendAlert(alert *models.Alert) error
}
