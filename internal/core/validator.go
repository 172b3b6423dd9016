package core

import (
	"errors"
	"log/slog"

	"github.com/go-playground/validator/v10"

	"playbridge/internal/types"
)

// Validator wraps go-playground/validator so that handler code gets
// AppError-shaped validation failures instead of raw validator errors.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a new Validator.
func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Validator{
		validate: validator.New(),
		logger:   logger,
	}
}

// ValidateStruct validates the given struct against its `validate` tags.
// On failure it returns a *types.AppError with a per-field breakdown in the
// details map; on success it returns nil.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		// InvalidValidationError: the caller passed something that is not a
		// struct. That is a programming error, not client input.
		return types.NewAppError(
			types.ErrCodeInternalUnexpected,
			"validation target is not a struct",
			err,
		)
	}

	fields := make(map[string]any, len(verrs))
	for _, fe := range verrs {
		fields[fe.Field()] = fe.Tag()
	}

	return types.NewAppErrorWithDetails(
		types.ErrCodeValidationMissingField,
		"request validation failed",
		err,
		map[string]any{"fields": fields},
	)
}
