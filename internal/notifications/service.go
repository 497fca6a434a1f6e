package notifications

import (
	"bytes"
	"fmt"
	"html/template"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/sentiment-ranker/comment-ranker/internal/config"
	"github.com/sentiment-ranker/comment-ranker/internal/models"
	"github.com/sirupsen/logrus"
	"gopkg.in/gomail.v2"
)

const summaryRows = 10

// Service delivers run summaries and alerts to Teams and email
type Service struct {
	config *config.Config
	client *resty.Client
}

// Ensure Service implements NotificationInterface
var _ NotificationInterface = (*Service)(nil)

// TeamsMessage represents a Microsoft Teams message card
type TeamsMessage struct {
	Type       string         `json:"@type"`
	Context    string         `json:"@context"`
	ThemeColor string         `json:"themeColor,omitempty"`
	Title      string         `json:"title"`
	Text       string         `json:"text"`
	Sections   []TeamsSection `json:"sections,omitempty"`
}

type TeamsSection struct {
	ActivityTitle string      `json:"activityTitle,omitempty"`
	ActivityText  string      `json:"activityText,omitempty"`
	Facts         []TeamsFact `json:"facts,omitempty"`
	Markdown      bool        `json:"markdown,omitempty"`
}

type TeamsFact struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewService creates a notification service.
func NewService(cfg *config.Config) *Service {
	return &Service{
		config: cfg,
		client: resty.New().SetTimeout(30 * time.Second),
	}
}

// Enabled reports whether any channel is configured.
func (s *Service) Enabled() bool {
	return s.config.TeamsWebhookURL != "" || s.config.NotificationEmail != ""
}

// SendReport sends a run summary via configured notification channels
func (s *Service) SendReport(report *models.RunReport) error {
	var errs []string

	if s.config.TeamsWebhookURL != "" {
		if err := s.postToTeams(s.buildTeamsMessage(report)); err != nil {
			logrus.Errorf("Failed to send Teams notification: %v", err)
			errs = append(errs, fmt.Sprintf("Teams: %v", err))
		} else {
			logrus.Info("Sent run summary to Teams")
		}
	}

	if s.config.NotificationEmail != "" {
		html, err := buildEmailHTML(report)
		if err != nil {
			errs = append(errs, fmt.Sprintf("Email: %v", err))
		} else if err := s.sendEmail(reportSubject(report), buildEmailText(report), html); err != nil {
			logrus.Errorf("Failed to send email notification: %v", err)
			errs = append(errs, fmt.Sprintf("Email: %v", err))
		} else {
			logrus.Info("Sent run summary via email")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("notification errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// SendAlert reports a failed run
func (s *Service) SendAlert(alert *models.Alert) error {
	var errs []string

	if s.config.TeamsWebhookURL != "" {
		msg := &TeamsMessage{
			Type:       "MessageCard",
			Context:    "https://schema.org/extensions",
			ThemeColor: "D13438",
			Title:      alert.Title,
			Text:       alert.Message,
			Sections: []TeamsSection{{
				Facts: []TeamsFact{
					{Name: "Type", Value: alert.Type},
					{Name: "Input", Value: alert.Input},
					{Name: "Time", Value: alert.CreatedAt.Format("2006-01-02 15:04:05 UTC")},
				},
			}},
		}
		if err := s.postToTeams(msg); err != nil {
			errs = append(errs, fmt.Sprintf("Teams: %v", err))
		}
	}

	if s.config.NotificationEmail != "" {
		body := fmt.Sprintf("%s\n\nInput: %s\nType: %s\nTime: %s\n\n%s\n",
			alert.Title, alert.Input, alert.Type, alert.CreatedAt.Format("2006-01-02 15:04:05 UTC"), alert.Message)
		if err := s.sendEmail("[ALERT] "+alert.Title, body, ""); err != nil {
			errs = append(errs, fmt.Sprintf("Email: %v", err))
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("alert errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

func (s *Service) postToTeams(message *TeamsMessage) error {
	resp, err := s.client.R().
		SetHeader("Content-Type", "application/json").
		SetBody(message).
		Post(s.config.TeamsWebhookURL)
	if err != nil {
		return fmt.Errorf("failed to send Teams message: %w", err)
	}
	if resp.StatusCode() < 200 || resp.StatusCode() >= 300 {
		return fmt.Errorf("Teams webhook returned status %d: %s", resp.StatusCode(), string(resp.Body()))
	}
	return nil
}

func (s *Service) buildTeamsMessage(report *models.RunReport) *TeamsMessage {
	message := &TeamsMessage{
		Type:       "MessageCard",
		Context:    "https://schema.org/extensions",
		ThemeColor: "0078D4",
		Title:      reportSubject(report),
		Text:       fmt.Sprintf("Analyzed %d conversations from %s", report.Threads, filepath.Base(report.Input)),
	}

	facts := []TeamsFact{
		{Name: "Run", Value: report.RunID},
		{Name: "Comments", Value: fmt.Sprintf("%d", report.Records)},
		{Name: "Conversations", Value: fmt.Sprintf("%d (%d skipped)", report.Threads, report.Skipped)},
		{Name: "Facts", Value: fmt.Sprintf("%d", len(report.Facts))},
		{Name: "Products", Value: fmt.Sprintf("%d", len(report.Ranking))},
		{Name: "Generated", Value: report.GeneratedAt.Format("2006-01-02 15:04:05 UTC")},
	}
	if report.OutputTarget != "" {
		facts = append(facts, TeamsFact{Name: "Output", Value: report.OutputTarget})
	}
	message.Sections = append(message.Sections, TeamsSection{
		ActivityTitle: "Summary",
		Facts:         facts,
		Markdown:      true,
	})

	if len(report.Ranking) > 0 {
		var lines []string
		for i, p := range topN(report.Ranking) {
			lines = append(lines, fmt.Sprintf("%d. **%s** score %.2f, %d mentions, %.1f%% positive",
				i+1, p.ProductName, p.Score, p.MentionCount, p.PositiveRate))
		}
		message.Sections = append(message.Sections, TeamsSection{
			ActivityTitle: "Top Products",
			ActivityText:  strings.Join(lines, "\n\n"),
			Markdown:      true,
		})
	}
	return message
}

func (s *Service) sendEmail(subject, textBody, htmlBody string) error {
	m := gomail.NewMessage()
	m.SetHeader("From", s.config.SMTPUsername)
	m.SetHeader("To", s.config.NotificationEmail)
	m.SetHeader("Subject", subject)
	m.SetBody("text/plain", textBody)
	if htmlBody != "" {
		m.AddAlternative("text/html", htmlBody)
	}

	d := gomail.NewDialer(s.config.SMTPHost, s.config.SMTPPort, s.config.SMTPUsername, s.config.SMTPPassword)
	if err := d.DialAndSend(m); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}
	return nil
}

func reportSubject(report *models.RunReport) string {
	return fmt.Sprintf("Product Ranking - %s (%d products)", filepath.Base(report.Input), len(report.Ranking))
}

func topN(ranking []models.ProductScore) []models.ProductScore {
	if len(ranking) > summaryRows {
		return ranking[:summaryRows]
	}
	return ranking
}

const emailTemplate = `
<!DOCTYPE html>
<html>
<head>
    <meta charset="UTF-8">
    <title>Product Ranking</title>
    <style>
        body { font-family: Arial, sans-serif; margin: 20px; }
        .header { background-color: #0078d4; color: white; padding: 20px; border-radius: 5px; }
        .summary { background-color: #f5f5f5; padding: 15px; margin: 20px 0; border-radius: 5px; }
        table { border-collapse: collapse; }
        th, td { border-bottom: 1px solid #ddd; padding: 6px 10px; text-align: left; }
        .negative { color: #d13438; }
    </style>
</head>
<body>
    <div class="header">
        <h1>Product Ranking</h1>
        <p>{{.Input}} analyzed on {{.GeneratedAt.Format "January 2, 2006 at 3:04 PM UTC"}}</p>
    </div>

    <div class="summary">
        <p><strong>Comments:</strong> {{.Records}}</p>
        <p><strong>Conversations:</strong> {{.Threads}} ({{.Skipped}} skipped)</p>
        <p><strong>Facts:</strong> {{len .Facts}}</p>
        {{if .OutputTarget}}<p><strong>Output:</strong> {{.OutputTarget}}</p>{{end}}
    </div>

    <table>
        <tr><th>#</th><th>Product</th><th>Score</th><th>Positive</th><th>Negative</th><th>Neutral</th><th>Positive rate</th><th>Features</th></tr>
        {{range $i, $p := top .Ranking}}
        <tr{{if lt $p.Score 0.0}} class="negative"{{end}}>
            <td>{{inc $i}}</td><td>{{$p.ProductName}}</td><td>{{printf "%.2f" $p.Score}}</td>
            <td>{{$p.PositiveCount}}</td><td>{{$p.NegativeCount}}</td><td>{{$p.NeutralCount}}</td>
            <td>{{printf "%.1f%%" $p.PositiveRate}}</td><td>{{$p.Features}}</td>
        </tr>
        {{end}}
    </table>

    <hr>
    <p><small>Run {{.RunID}}</small></p>
</body>
</html>
`

func buildEmailHTML(report *models.RunReport) (string, error) {
	t, err := template.New("email").Funcs(template.FuncMap{
		"top": topN,
		"inc": func(i int) int { return i + 1 },
	}).Parse(emailTemplate)
	if err != nil {
		return "", err
	}

	var buf bytes.Buffer
	if err := t.Execute(&buf, report); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func buildEmailText(report *models.RunReport) string {
	var text strings.Builder

	text.WriteString(reportSubject(report) + "\n")
	text.WriteString(fmt.Sprintf("Generated: %s\n\n", report.GeneratedAt.Format("2006-01-02 15:04:05 UTC")))

	text.WriteString("SUMMARY\n")
	text.WriteString("=======\n")
	text.WriteString(fmt.Sprintf("Comments: %d\n", report.Records))
	text.WriteString(fmt.Sprintf("Conversations: %d (%d skipped)\n", report.Threads, report.Skipped))
	text.WriteString(fmt.Sprintf("Facts: %d\n", len(report.Facts)))
	if report.OutputTarget != "" {
		text.WriteString(fmt.Sprintf("Output: %s\n", report.OutputTarget))
	}

	if len(report.Ranking) > 0 {
		text.WriteString("\nTOP PRODUCTS\n")
		text.WriteString("============\n")
		for i, p := range topN(report.Ranking) {
			text.WriteString(fmt.Sprintf("%d. %s  score %.2f  (+%d / -%d / =%d, %.1f%% positive)\n",
				i+1, p.ProductName, p.Score, p.PositiveCount, p.NegativeCount, p.NeutralCount, p.PositiveRate))
			if p.Features != "" {
				text.WriteString(fmt.Sprintf("   Features: %s\n", p.Features))
			}
		}
	}

	text.WriteString(fmt.Sprintf("\n---\nRun %s\n", report.RunID))
	return text.String()
}
