package payments

// =============================================================================
// EXTRACT FIELD NAMES
// =============================================================================
// Only the columns that take part in correlation, validation, classification
// and cap enforcement are named here; the extracts carry many more.

// Payment header (vpei).
const (
	FieldC               = "C"
	FieldI               = "I"
	FieldTaxIdentifier   = "PAYEESOCNUMBE"
	FieldAmount          = "AMOUNT_MONAMT"
	FieldPaymentMethod   = "PAYMENTMETHOD"
	FieldRoutingNumber   = "PAYEEBANKSORT"
	FieldAccountNumber   = "PAYEEACCOUNTN"
	FieldAccountType     = "PAYEEACCOUNTT"
	FieldAddressLine1    = "PAYMENTADD1"
	FieldAddressLine2    = "PAYMENTADD2"
	FieldCity            = "PAYMENTADD4"
	FieldState           = "PAYMENTADD6"
	FieldPostalCode      = "PAYMENTPOSTCO"
	FieldEventType       = "EVENTTYPE"
	FieldEventReason     = "EVENTREASON"
	FieldPayeeIdentifier = "PAYEEIDENTIFI"
	FieldPeriodStart     = "PAYMENTSTARTP"
	FieldPeriodEnd       = "PAYMENTENDPER"
	FieldPaymentDate     = "PAYMENTDATE"
	FieldAmalgamation    = "AMALGAMATIONC"
	FieldLeaveRequestID  = "LEAVEREQUESTI"
)

// Payment details and claim details. Both point at their header via
// PECLASSID / PEINDEXID.
const (
	FieldParentC         = "PECLASSID"
	FieldParentI         = "PEINDEXID"
	FieldBalancingAmount = "BALANCINGAMOU_MONAMT"
	FieldAbsenceCaseID   = "ABSENCECASENU"
)

// Requested absence (VBI_REQUESTEDABSENCE_SOM).
const (
	FieldRequestedLeaveID = "LEAVEREQUEST_ID"
	FieldAbsenceReason    = "ABSENCEREASON_COVERAGE"
)

// Stream names, used as field names when a whole stream is missing.
const (
	StreamPaymentDetails = "vpei_payment_details"
	StreamClaimDetails   = "vpei_claim_details"
)

// unknownSentinel is how the source system spells "no value".
const unknownSentinel = "Unknown"
