package server

import (
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/validator/v10"

	"github.com/caucode/backend/internal/verification"
)

var registerValidationsOnce sync.Once

// registerValidations installs the custom binding rules on gin's shared
// validator engine. Safe to call from every handler constructor.
func registerValidations() {
	registerValidationsOnce.Do(func() {
		engine, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_ = engine.RegisterValidation("solvedachandle", func(fl validator.FieldLevel) bool {
			return verification.ValidHandle(fl.Field().String())
		})
	})
}
