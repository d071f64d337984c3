package rest

import (
	"reflect"
	"strings"
	"time"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"
	"github.com/go-playground/validator/v10/non-standard/validators"
)

// maxBookingHorizon limits how far ahead a consultation can be requested
const maxBookingHorizon = 365 * 24 * time.Hour

// validationNow is replaced in tests
var validationNow = time.Now

func init() {
	v, ok := binding.Validator.Engine().(*validator.Validate)
	if !ok {
		return
	}
	v.RegisterTagNameFunc(jsonFieldName)
	_ = v.RegisterValidation("notblank", validators.NotBlank)
	_ = v.RegisterValidation("upcoming_date", upcomingDate)
	_ = v.RegisterValidation("clock_time", clockTime)
}

func jsonFieldName(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

// upcomingDate accepts YYYY-MM-DD from today up to a year ahead.
// The UTC day before counts as today for visitors behind UTC.
func upcomingDate(fl validator.FieldLevel) bool {
	day, err := time.Parse(time.DateOnly, fl.Field().String())
	if err != nil {
		return false
	}
	now := validationNow().UTC()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	return !day.Before(today.AddDate(0, 0, -1)) && !day.After(today.Add(maxBookingHorizon))
}

// clockTime accepts 24h HH:MM
func clockTime(fl validator.FieldLevel) bool {
	_, err := time.Parse("15:04", fl.Field().String())
	return err == nil
}
