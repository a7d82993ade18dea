package handler

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-playground/validator/v10"

	"github.com/Rrens/chatnil/internal/api/response"
)

var validate = validator.New()

// decode reads a JSON body into v and validates it. It writes the error
// response itself and reports whether the handler may continue.
func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		response.BadRequest(w, "invalid request body")
		return false
	}

	if err := validate.Struct(v); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			response.BadRequest(w, fieldErrors(validationErrors))
			return false
		}
		response.BadRequest(w, err.Error())
		return false
	}
	return true
}

func fieldErrors(validationErrors validator.ValidationErrors) map[string]string {
	errs := make(map[string]string)
	for _, e := range validationErrors {
		field := e.Namespace()
		switch e.Tag() {
		case "required":
			errs[field] = "field is required"
		case "email":
			errs[field] = "invalid email format"
		case "min":
			errs[field] = "must have at least " + e.Param() + " items"
		case "max":
			errs[field] = "must be at most " + e.Param() + " characters"
		case "oneof":
			errs[field] = "must be one of: " + e.Param()
		default:
			errs[field] = "validation failed on " + e.Tag()
		}
	}
	return errs
}
