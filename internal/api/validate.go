package api

import (
	"reflect"
	"strings"
	"sync"

	"github.com/gin-gonic/gin/binding"
	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"

	"rfidattendance/internal/attendance"
)

const rfidTagTag = "rfidtag"

var (
	validatorsOnce sync.Once
	translator     ut.Translator
)

// registerValidators hooks custom tags and English messages into gin's validator.
func registerValidators() {
	validatorsOnce.Do(func() {
		v, ok := binding.Validator.Engine().(*validator.Validate)
		if !ok {
			return
		}
		_en := en.New()
		translator, _ = ut.New(_en, _en).GetTranslator("en")
		_ = en_translations.RegisterDefaultTranslations(v, translator)

		// Use JSON tag names for errors instead of Go struct names.
		v.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})

		_ = v.RegisterValidation(rfidTagTag, rfidTagValidation)
		_ = v.RegisterTranslation(rfidTagTag, translator,
			func(ut.Translator) error { return nil },
			func(_ ut.Translator, fe validator.FieldError) string {
				return fe.Field() + " must be a hexadecimal card UID"
			})
	})
}

// rfidTagValidation accepts 4 to 32 hex digits once separators are stripped.
func rfidTagValidation(fl validator.FieldLevel) bool {
	tag := attendance.NormalizeTag(fl.Field().String())
	if len(tag) < 4 || len(tag) > 32 {
		return false
	}
	for _, r := range tag {
		if !strings.ContainsRune("0123456789ABCDEF", r) {
			return false
		}
	}
	return true
}

func translate(fe validator.FieldError) string {
	if translator == nil {
		return fe.Error()
	}
	return fe.Translate(translator)
}
