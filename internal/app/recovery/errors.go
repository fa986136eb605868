package recovery

import (
	"errors"
	"fmt"
)

// Errors returned by Service. Handlers map them to responses with Kind.
var (
	ErrNotFound                  = errors.New("claim not found")
	ErrFamilyNotFound            = errors.New("family not found")
	ErrInvalidRequest            = errors.New("invalid request")
	ErrNotOrphaned               = errors.New("family already has an active admin")
	ErrDuplicateActiveClaim      = errors.New("an active claim of another type already exists")
	ErrSelfEndorsement           = errors.New("claimants cannot endorse their own claim")
	ErrNotAMember                = errors.New("user is not a member of this family")
	ErrDuplicateEndorsement      = errors.New("endorser has already voted on this claim")
	ErrEndorsementNotFound       = errors.New("no vote to update on this claim")
	ErrSupportFinal              = errors.New("a support vote cannot be withdrawn while the claim is pending")
	ErrClaimNotPending           = errors.New("claim is not pending")
	ErrChallengeInvalidOrExpired = errors.New("challenge token is invalid or expired")
	ErrTooManyResends            = errors.New("too many challenge resend requests")
	ErrDeliveryFailed            = errors.New("challenge email could not be sent")
	ErrNotApproved               = errors.New("claim is not approved")
	ErrCoolingOffActive          = errors.New("cooling-off period has not elapsed")
	ErrNotClaimant               = errors.New("only the claimant can do this")
	ErrTransientStore            = errors.New("temporary storage failure; try again")
)

var kinds = []struct {
	err  error
	kind string
}{
	{ErrNotFound, "not_found"},
	{ErrFamilyNotFound, "family_not_found"},
	{ErrInvalidRequest, "invalid_request"},
	{ErrNotOrphaned, "not_orphaned"},
	{ErrDuplicateActiveClaim, "duplicate_active_claim"},
	{ErrSelfEndorsement, "self_endorsement"},
	{ErrNotAMember, "not_a_member"},
	{ErrDuplicateEndorsement, "duplicate_endorsement"},
	{ErrEndorsementNotFound, "endorsement_not_found"},
	{ErrSupportFinal, "support_final"},
	{ErrClaimNotPending, "claim_not_pending"},
	{ErrChallengeInvalidOrExpired, "challenge_invalid_or_expired"},
	{ErrTooManyResends, "too_many_resends"},
	{ErrDeliveryFailed, "delivery_failed"},
	{ErrNotApproved, "not_approved"},
	{ErrCoolingOffActive, "cooling_off_active"},
	{ErrNotClaimant, "not_claimant"},
	{ErrTransientStore, "transient_store_error"},
}

// Kind returns the stable snake_case name of err's category. It is used as
// the audit reason code and the API error code. Unknown errors are "internal".
func Kind(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	return "internal"
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidRequest, fmt.Sprintf(format, args...))
}
