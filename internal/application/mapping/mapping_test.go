package mapping

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ideinstein/leadbridge/internal/domain"
	appErrors "github.com/ideinstein/leadbridge/pkg/errors"
)

func loadDefault(t *testing.T) *Mapper {
	t.Helper()
	m, err := Load("")
	require.NoError(t, err)
	return m
}

func submission(ft domain.FormType, payload map[string]any) *domain.Submission {
	return &domain.Submission{
		ID:          "sub-1",
		FormType:    ft,
		Payload:     payload,
		CreatedDate: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
	}
}

func TestDefaultMappingCoversEveryForm(t *testing.T) {
	m := loadDefault(t)
	for _, ft := range domain.FormTypes {
		assert.NotEmpty(t, m.Module(ft), "form %s", ft)
	}
}

func TestMapContact(t *testing.T) {
	m := loadDefault(t)

	result, err := m.Map(submission(domain.FormContact, map[string]any{
		"name":    "Ada King Lovelace",
		"email":   "ada@example.com",
		"message": "We need a fixture redesigned.",
		"subject": "Fixture",
	}))
	require.NoError(t, err)

	assert.Equal(t, "Leads", result.Module)
	assert.Empty(t, result.DuplicateCheckFields)
	assert.Equal(t, "Ada King", result.Record["First_Name"])
	assert.Equal(t, "Lovelace", result.Record["Last_Name"])
	assert.Equal(t, "ada@example.com", result.Record["Email"])
	assert.Equal(t, "Not provided", result.Record["Company"])
	assert.Equal(t, "Website - Contact", result.Record["Lead_Source"])
	assert.Equal(t, "Subject: Fixture\n\nWe need a fixture redesigned.", result.Record["Description"])

	// empty results are left out of the record
	assert.NotContains(t, result.Record, "Phone")
	assert.NotContains(t, result.Record, "UTM_Source")
	assert.Equal(t, defaultNoteTitle, result.NoteTitle)
	assert.Empty(t, result.Note)
}

func TestMapNewsletterUpsertsOnEmail(t *testing.T) {
	m := loadDefault(t)

	result, err := m.Map(submission(domain.FormNewsletter, map[string]any{
		"email":     "grace@example.com",
		"interests": []any{"cad", "simulation"},
	}))
	require.NoError(t, err)

	assert.Equal(t, "Contacts", result.Module)
	assert.Equal(t, []string{"Email"}, result.DuplicateCheckFields)
	assert.Equal(t, "Subscriber", result.Record["Last_Name"])
	assert.NotContains(t, result.Record, "First_Name")
	assert.Equal(t, true, result.Record["Newsletter_Opt_In"])
	assert.Equal(t, []any{"cad", "simulation"}, result.Record["Newsletter_Interests"])
}

func TestMapQuoteBuildsNote(t *testing.T) {
	m := loadDefault(t)

	result, err := m.Map(submission(domain.FormQuote, map[string]any{
		"name":                "Grace Hopper",
		"email":               "grace@example.com",
		"company":             "Cobol Works",
		"service":             "FEA",
		"project_description": "Stress analysis of a bracket.",
		"budget":              "5k_20k",
	}))
	require.NoError(t, err)

	assert.Equal(t, "Deals", result.Module)
	assert.Equal(t, "Cobol Works - FEA", result.Record["Deal_Name"])
	assert.Equal(t, "Quote request", result.NoteTitle)
	assert.Equal(t, "Service: FEA\nBudget: 5k_20k\nStress analysis of a bracket.", result.Note)
}

func TestParseRejectsUnknownForm(t *testing.T) {
	_, err := Parse([]byte("forms:\n  webinar:\n    module: Leads\n    fields:\n      Email: email\n"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "webinar")
}

func TestParseRejectsMissingForm(t *testing.T) {
	doc := `
forms:
  contact: {module: Leads, fields: {Email: email}}
  consultation: {module: Leads, fields: {Email: email}}
  newsletter: {module: Contacts, fields: {Email: email}}
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "quote")
}

func TestParseRejectsBadExpression(t *testing.T) {
	doc := `
forms:
  contact: {module: Leads, fields: {Email: "email +"}}
  consultation: {module: Leads, fields: {Email: email}}
  newsletter: {module: Contacts, fields: {Email: email}}
  quote: {module: Deals, fields: {Email: email}}
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "field Email")
}

func TestParseRejectsUnmappedDuplicateField(t *testing.T) {
	doc := `
forms:
  contact: {module: Leads, fields: {Email: email}}
  consultation: {module: Leads, fields: {Email: email}}
  newsletter: {module: Contacts, duplicate_check_fields: [Phone], fields: {Email: email}}
  quote: {module: Deals, fields: {Email: email}}
`
	_, err := Parse([]byte(doc))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Phone")
}

func TestLoadFromFile(t *testing.T) {
	doc := `
forms:
  contact: {module: Leads, fields: {Last_Name: upper(last_name(name)), Source: form_type}}
  consultation: {module: Leads, fields: {Email: email}}
  newsletter: {module: Contacts, fields: {Email: email}}
  quote:
    module: Deals
    fields: {Email: email}
    note: join_nonempty(map(attachments, .name), ", ")
`
	path := filepath.Join(t.TempDir(), "mapping.yaml")
	require.NoError(t, os.WriteFile(path, []byte(doc), 0o600))

	m, err := Load(path)
	require.NoError(t, err)

	result, err := m.Map(submission(domain.FormContact, map[string]any{"name": "ada lovelace"}))
	require.NoError(t, err)
	assert.Equal(t, "LOVELACE", result.Record["Last_Name"])
	assert.Equal(t, "contact", result.Record["Source"])

	sub := submission(domain.FormQuote, map[string]any{"email": "a@example.com"})
	sub.Attachments = []domain.Attachment{{Name: "a.step"}, {Name: "b.pdf"}}
	result, err = m.Map(sub)
	require.NoError(t, err)
	assert.Equal(t, "a.step, b.pdf", result.Note)
}

func TestMapRuntimeErrorIsPermanent(t *testing.T) {
	doc := `
forms:
  contact: {module: Leads, fields: {Count: len(name) + 1}}
  consultation: {module: Leads, fields: {Email: email}}
  newsletter: {module: Contacts, fields: {Email: email}}
  quote: {module: Deals, fields: {Email: email}}
`
	m, err := Parse([]byte(doc))
	require.NoError(t, err)

	_, err = m.Map(submission(domain.FormContact, map[string]any{"name": 42.0}))
	require.Error(t, err)
	assert.True(t, appErrors.IsPermanent(err))
}

func TestSplitName(t *testing.T) {
	first, last := splitName("  Ada   Lovelace ")
	assert.Equal(t, "Ada", first)
	assert.Equal(t, "Lovelace", last)

	first, last = splitName("Cher")
	assert.Empty(t, first)
	assert.Equal(t, "Cher", last)
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "Grü", truncate("Grüße", 3))
	assert.Equal(t, "ok", truncate("ok", 10))
}
