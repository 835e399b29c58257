// internal/utils/validator.go
package utils

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/go-playground/validator/v10"

	"github.com/javajoker/datamarket-backend/internal/content"
)

var validate *validator.Validate

var txHashPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{64}$`)

func init() {
	validate = validator.New()
	validate.RegisterValidation("wallet_address", validateWalletAddress)
	validate.RegisterValidation("ipfs_uri", validateIPFSURI)
	validate.RegisterValidation("tx_hash", validateTxHash)
}

func ValidateStruct(s interface{}) error {
	return validate.Struct(s)
}

// IsTxHash reports whether s is a 0x-prefixed 32-byte hex hash.
func IsTxHash(s string) bool {
	return txHashPattern.MatchString(s)
}

func validateWalletAddress(fl validator.FieldLevel) bool {
	return common.IsHexAddress(fl.Field().String())
}

func validateIPFSURI(fl validator.FieldLevel) bool {
	_, err := content.ParseURI(fl.Field().String())
	return err == nil
}

func validateTxHash(fl validator.FieldLevel) bool {
	return IsTxHash(fl.Field().String())
}

// Validation tags for common fields
type ValidationError struct {
	Field   string `json:"field"`
	Tag     string `json:"tag"`
	Message string `json:"message"`
}

func GetValidationErrors(err error) []ValidationError {
	var validationErrors []ValidationError

	var validationErrs validator.ValidationErrors
	if errors.As(err, &validationErrs) {
		for _, e := range validationErrs {
			validationErrors = append(validationErrors, ValidationError{
				Field:   strings.ToLower(e.Field()),
				Tag:     e.Tag(),
				Message: getValidationMessage(e),
			})
		}
	}

	return validationErrors
}

func getValidationMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return e.Field() + " is required"
	case "min":
		return e.Field() + " must be at least " + e.Param()
	case "max":
		return e.Field() + " must be at most " + e.Param()
	case "wallet_address":
		return e.Field() + " must be a 0x-prefixed 20-byte hex address"
	case "ipfs_uri":
		return e.Field() + " must be an ipfs:// uri with a valid CID"
	case "tx_hash":
		return e.Field() + " must be a 0x-prefixed 32-byte hex hash"
	default:
		return e.Field() + " is invalid"
	}
}
