package validation

import (
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/imrishuroy/go-route-retry/internal/retries"
)

// New returns a validator with the retry_status tag registered.
func New() *validatorv10.Validate {
	v := validatorv10.New()

	// retry_status accepts only the statuses a record can hold.
	_ = v.RegisterValidation("retry_status", func(fl validatorv10.FieldLevel) bool {
		return retries.Status(fl.Field().String()).Valid()
	})

	v.RegisterStructValidation(processStructValidation, ProcessRequest{})
	return v
}

// processStructValidation rejects a fingerprint combined with ids: ids already
// pin the records, so a fingerprint there is almost always a client mistake.
func processStructValidation(sl validatorv10.StructLevel) {
	req := sl.Current().Interface().(ProcessRequest)
	if len(req.IDs) > 0 && req.Fingerprint != "" {
		sl.ReportError(req.Fingerprint, "fingerprint", "Fingerprint", "excluded_with_ids", "")
	}
}
