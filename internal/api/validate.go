package api

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"rollcall/internal/clock"
)

const (
	tagHHMM    = "hhmm"
	tagISODate = "isodate"
)

var registerOnce sync.Once

// registerValidators adds the hhmm and isodate tags to gin's validator.
func registerValidators() {
	registerOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = v.RegisterValidation(tagHHMM, func(fl validator.FieldLevel) bool {
			_, err := clock.ParseTimeOfDay(fl.Field().String())
			return err == nil
		})
		_ = v.RegisterValidation(tagISODate, func(fl validator.FieldLevel) bool {
			_, err := clock.ParseDate(fl.Field().String())
			return err == nil
		})
	})
}
