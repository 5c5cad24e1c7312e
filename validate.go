package fluxio

import (
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	en_translations "github.com/go-playground/validator/v10/translations/en"
)

var validate *validator.Validate
var translator ut.Translator

func init() {
	validate = validator.New()
	var ok bool
	translator, ok = ut.New(en.New(), en.New()).GetTranslator("en")
	if !ok {
		panic("fluxio: failed to get 'en' translator")
	}

	if err := en_translations.RegisterDefaultTranslations(validate, translator); err != nil {
		panic(err)
	}

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}

		return name
	})
}

// checkSettings validates the resolved connection settings against their
// declared tags, reporting violations as a synchronous usage error.
func checkSettings(s settings) *Error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	verrors, ok := err.(validator.ValidationErrors)
	if !ok {
		return errorf(CodeInvalidArg, "validating settings: %w", err)
	}

	var parts []string
	for _, verror := range verrors {
		parts = append(parts, verror.Translate(translator))
	}
	return errorf(CodeInvalidArg, "invalid settings: %s", strings.Join(parts, "; "))
}
