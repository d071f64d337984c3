package domain

import (
	"strings"
	"time"
)

// FormType identifies which website form produced a submission
type FormType string

const (
	FormContact      FormType = "contact"
	FormConsultation FormType = "consultation"
	FormNewsletter   FormType = "newsletter"
	FormQuote        FormType = "quote"
)

// FormTypes lists every supported form in a stable order
var FormTypes = []FormType{FormContact, FormConsultation, FormNewsletter, FormQuote}

// Valid reports whether t is a known form type
func (t FormType) Valid() bool {
	for _, ft := range FormTypes {
		if ft == t {
			return true
		}
	}
	return false
}

// Form is implemented by every bound website form
type Form interface {
	Type() FormType
	// Fields returns the normalized payload keyed by JSON field name.
	// Empty values are left out.
	Fields() map[string]any
	Meta() Tracking
}

// Tracking carries the bot-detection and attribution fields every form posts
type Tracking struct {
	Website     string `json:"website" form:"website"`       // honeypot, hidden from humans
	StartedAt   int64  `json:"started_at" form:"started_at"` // unix millis when the form was rendered
	PageURL     string `json:"page_url" form:"page_url" binding:"omitempty,max=2048"`
	UTMSource   string `json:"utm_source" form:"utm_source" binding:"omitempty,max=120"`
	UTMMedium   string `json:"utm_medium" form:"utm_medium" binding:"omitempty,max=120"`
	UTMCampaign string `json:"utm_campaign" form:"utm_campaign" binding:"omitempty,max=120"`
}

// Meta returns the tracking block
func (t Tracking) Meta() Tracking {
	return t
}

// StartedTime converts StartedAt to a time, zero when absent
func (t Tracking) StartedTime() time.Time {
	if t.StartedAt <= 0 {
		return time.Time{}
	}
	return time.UnixMilli(t.StartedAt)
}

func (t Tracking) put(fields map[string]any) {
	putString(fields, "page_url", t.PageURL)
	putString(fields, "utm_source", t.UTMSource)
	putString(fields, "utm_medium", t.UTMMedium)
	putString(fields, "utm_campaign", t.UTMCampaign)
}

// ContactForm is the general enquiry form
type ContactForm struct {
	Tracking
	Name    string `json:"name" binding:"required,notblank,max=120"`
	Email   string `json:"email" binding:"required,email,max=254"`
	Phone   string `json:"phone" binding:"omitempty,max=40"`
	Company string `json:"company" binding:"omitempty,max=200"`
	Subject string `json:"subject" binding:"omitempty,max=200"`
	Message string `json:"message" binding:"required,notblank,max=5000"`
	Service string `json:"service" binding:"omitempty,max=120"`
}

func (f *ContactForm) Type() FormType { return FormContact }

func (f *ContactForm) Fields() map[string]any {
	fields := map[string]any{}
	putString(fields, "name", f.Name)
	putEmail(fields, f.Email)
	putString(fields, "phone", f.Phone)
	putString(fields, "company", f.Company)
	putString(fields, "subject", f.Subject)
	putString(fields, "message", f.Message)
	putString(fields, "service", f.Service)
	f.Tracking.put(fields)
	return fields
}

// ConsultationForm books an initial consultation call or visit
type ConsultationForm struct {
	Tracking
	Name          string `json:"name" binding:"required,notblank,max=120"`
	Email         string `json:"email" binding:"required,email,max=254"`
	Phone         string `json:"phone" binding:"omitempty,max=40"`
	Company       string `json:"company" binding:"omitempty,max=200"`
	Service       string `json:"service" binding:"required,notblank,max=120"`
	PreferredDate string `json:"preferred_date" binding:"required,upcoming_date"`
	PreferredTime string `json:"preferred_time" binding:"omitempty,clock_time"`
	Timezone      string `json:"timezone" binding:"omitempty,timezone"`
	MeetingType   string `json:"meeting_type" binding:"omitempty,oneof=video phone onsite"`
	Message       string `json:"message" binding:"omitempty,max=5000"`
}

func (f *ConsultationForm) Type() FormType { return FormConsultation }

func (f *ConsultationForm) Fields() map[string]any {
	fields := map[string]any{}
	putString(fields, "name", f.Name)
	putEmail(fields, f.Email)
	putString(fields, "phone", f.Phone)
	putString(fields, "company", f.Company)
	putString(fields, "service", f.Service)
	putString(fields, "preferred_date", f.PreferredDate)
	putString(fields, "preferred_time", f.PreferredTime)
	putString(fields, "timezone", f.Timezone)
	meeting := strings.TrimSpace(f.MeetingType)
	if meeting == "" {
		meeting = "video"
	}
	fields["meeting_type"] = meeting
	putString(fields, "message", f.Message)
	f.Tracking.put(fields)
	return fields
}

// NewsletterForm subscribes an address to the mailing list
type NewsletterForm struct {
	Tracking
	Email     string   `json:"email" binding:"required,email,max=254"`
	Name      string   `json:"name" binding:"omitempty,max=120"`
	Interests []string `json:"interests" binding:"omitempty,max=10,dive,max=60"`
}

func (f *NewsletterForm) Type() FormType { return FormNewsletter }

func (f *NewsletterForm) Fields() map[string]any {
	fields := map[string]any{}
	putEmail(fields, f.Email)
	putString(fields, "name", f.Name)
	var interests []any
	for _, i := range f.Interests {
		if v := strings.TrimSpace(i); v != "" {
			interests = append(interests, v)
		}
	}
	if len(interests) > 0 {
		fields["interests"] = interests
	}
	f.Tracking.put(fields)
	return fields
}

// QuoteForm requests a priced proposal; it is posted as multipart so drawings can be attached
type QuoteForm struct {
	Tracking
	Name               string `json:"name" form:"name" binding:"required,notblank,max=120"`
	Email              string `json:"email" form:"email" binding:"required,email,max=254"`
	Phone              string `json:"phone" form:"phone" binding:"omitempty,max=40"`
	Company            string `json:"company" form:"company" binding:"required,notblank,max=200"`
	Service            string `json:"service" form:"service" binding:"required,notblank,max=120"`
	ProjectDescription string `json:"project_description" form:"project_description" binding:"required,notblank,max=10000"`
	Budget             string `json:"budget" form:"budget" binding:"omitempty,oneof=under_5k 5k_20k 20k_50k over_50k undisclosed"`
	Timeline           string `json:"timeline" form:"timeline" binding:"omitempty,max=120"`
}

func (f *QuoteForm) Type() FormType { return FormQuote }

func (f *QuoteForm) Fields() map[string]any {
	fields := map[string]any{}
	putString(fields, "name", f.Name)
	putEmail(fields, f.Email)
	putString(fields, "phone", f.Phone)
	putString(fields, "company", f.Company)
	putString(fields, "service", f.Service)
	putString(fields, "project_description", f.ProjectDescription)
	putString(fields, "budget", f.Budget)
	putString(fields, "timeline", f.Timeline)
	f.Tracking.put(fields)
	return fields
}

func putString(fields map[string]any, key, value string) {
	if v := strings.TrimSpace(value); v != "" {
		fields[key] = v
	}
}

func putEmail(fields map[string]any, email string) {
	putString(fields, "email", strings.ToLower(email))
}
