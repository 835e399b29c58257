// internal/i18n/keys.go
package i18n

// Translation keys constants
const (
	// Common
	KeySuccess       = "success"
	KeyError         = "error"
	KeyInternalError = "internal_error"
	KeyRateLimited   = "rate_limited"

	// Authentication
	KeyAuthRequired         = "auth.required"
	KeyAuthInvalidToken     = "auth.invalid_token"
	KeyAuthInvalidSignature = "auth.invalid_signature"
	KeyAuthWrongNetwork     = "auth.wrong_network"
	KeyAuthLoginSuccess     = "auth.login_success"
	KeyAuthForbidden        = "auth.forbidden"

	// Users
	KeyUserProfileUpdated = "user.profile_updated"
	KeyUserNotFound       = "user.not_found"

	// Datasets
	KeyDatasetCreated     = "dataset.created"
	KeyDatasetUpdated     = "dataset.updated"
	KeyDatasetNotFound    = "dataset.not_found"
	KeyDatasetNotOwner    = "dataset.not_owner"
	KeyDatasetNoMetadata  = "dataset.no_metadata"
	KeyDatasetSummaryFail = "dataset.summary_failed"

	// Reviews
	KeyReviewCreated   = "review.created"
	KeyReviewDuplicate = "review.duplicate"
	KeyReviewOwnerSelf = "review.owner_self"

	// Transactions
	KeyTransactionNotFound  = "transaction.not_found"
	KeyTransactionConflict  = "transaction.conflict"
	KeyTransactionTerminal  = "transaction.terminal"
	KeyTransactionBadEvent  = "transaction.invalid_event"
	KeyTransactionNotActor  = "transaction.not_initiator"
	KeyTransactionDuplicate = "transaction.duplicate_hash"

	// Purchases
	KeyPurchaseEmpty      = "purchase.empty"
	KeyPurchaseInProgress = "purchase.in_progress"
	KeyPurchaseFinished   = "purchase.finished"
	KeyPurchaseDisabled   = "purchase.disabled"

	// Validation
	KeyValidationRequired = "validation.required"
	KeyValidationInvalid  = "validation.invalid"

	// Search
	KeySearchNoResults    = "search.no_results"
	KeySearchResultsFound = "search.results_found"
)
