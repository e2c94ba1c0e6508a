package restapi

import "github.com/go-playground/validator/v10"

// requestValidator implements echo.Validator, adapted from the pack's
// go-playground/validator usage (evalgo-org-graphium/internal/validation)
// standing in for the spec's JSON-Schema input validation — no
// JSON-Schema library is present anywhere in the retrieved corpus, and
// struct-tag validation is the idiomatic Go equivalent the pack actually
// reaches for.
type requestValidator struct {
	validate *validator.Validate
}

func newRequestValidator() *requestValidator {
	return &requestValidator{validate: validator.New()}
}

func (v *requestValidator) Validate(i interface{}) error {
	if err := v.validate.Struct(i); err != nil {
		return badRequest("request failed validation", fieldErrors(err)...)
	}
	return nil
}

func fieldErrors(err error) []string {
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return []string{err.Error()}
	}
	out := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		out = append(out, fe.Field()+" failed "+fe.Tag())
	}
	return out
}
