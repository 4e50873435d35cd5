package provider

import (
	"bytes"
	"fmt"
	"html/template"

	"github.com/platepulse/recommender/internal/domain"
)

// maxEmailRecommendations caps how many entries an email lists.
const maxEmailRecommendations = 5

var emailTemplate = template.Must(template.New("recommendations").Funcs(template.FuncMap{
	"inc":   func(i int) int { return i + 1 },
	"price": func(p float64) string { return fmt.Sprintf("₹%.0f", p) },
}).Parse(`<!DOCTYPE html>
<html>
<head><meta charset="UTF-8"><meta name="viewport" content="width=device-width, initial-scale=1.0"></head>
<body style="font-family: Arial, sans-serif; color: #333; background: #f5f5f5; margin: 0; padding: 0;">
  <div style="max-width: 600px; margin: 20px auto; background: #fff; border-radius: 12px; overflow: hidden;">
    <div style="background: #667eea; color: #fff; padding: 32px; text-align: center;">
      <h1 style="margin: 0 0 8px 0;">Your Daily Food Picks</h1>
      <p style="margin: 0;">Hi {{.Name}}! Here are today's personalized recommendations in {{.Location}}</p>
    </div>
    <div style="padding: 24px;">
      <h2 style="margin-top: 0;">Top Recommendations for You</h2>
      {{range $i, $rec := .Recommendations}}
      <div style="background: #f8f9fa; padding: 16px; margin: 12px 0; border-radius: 8px; border-left: 4px solid #667eea;">
        <div style="font-size: 18px; font-weight: bold;">{{inc $i}}. {{$rec.Name}}</div>
        <div style="color: #4a5568; font-size: 14px;">{{$rec.Reason}}</div>
        {{with $rec.Details}}
        <div style="margin-top: 8px; font-size: 13px; color: #718096;">
          {{price .Price}} &middot; {{printf "%.1f" .Rating}}/5{{if .Cuisine}} &middot; {{.Cuisine}}{{end}}{{if .Discount}} &middot; {{.Discount}}% OFF{{end}}{{if .Restaurant}} &middot; {{.Restaurant}}{{end}}
        </div>
        {{end}}
      </div>
      {{end}}
    </div>
    <div style="text-align: center; padding: 20px; background: #f8f9fa; color: #718096; font-size: 13px;">
      You receive this email because recommendation emails are enabled for your {{.AppName}} account.
    </div>
  </div>
</body>
</html>`))

// Renderer builds the subject and HTML body of a recommendation email.
type Renderer struct {
	appName string
}

func NewRenderer(appName string) *Renderer {
	if appName == "" {
		appName = "PlatePulse"
	}
	return &Renderer{appName: appName}
}

// Render returns the subject and body for job. Only the first five
// recommendations are listed.
func (r *Renderer) Render(job *domain.EmailJob) (subject, body string, err error) {
	recs := job.Recommendations
	if len(recs) > maxEmailRecommendations {
		recs = recs[:maxEmailRecommendations]
	}
	location := job.Location
	if location == "" {
		location = domain.DefaultLocation
	}

	var buf bytes.Buffer
	err = emailTemplate.Execute(&buf, struct {
		Name            string
		Location        string
		AppName         string
		Recommendations []domain.Recommendation
	}{job.UserName, location, r.appName, recs})
	if err != nil {
		return "", "", fmt.Errorf("render email: %w", err)
	}
	return "Personalized Food Recommendations for " + job.UserName, buf.String(), nil
}
