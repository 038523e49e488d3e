package payments_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/warp/payment-reconciler/payments"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		in   payments.ClassificationInput
		want payments.TransactionType
	}{
		{
			name: "missing amount",
			in:   payments.ClassificationInput{EventType: "PaymentOut"},
			want: payments.TransactionUnknown,
		},
		{
			name: "unparseable amount",
			in:   payments.ClassificationInput{Amount: "12,00", EventType: "PaymentOut"},
			want: payments.TransactionUnknown,
		},
		{
			name: "zero dollar",
			in:   payments.ClassificationInput{Amount: "0.00", EventType: "PaymentOut"},
			want: payments.TransactionZeroDollar,
		},
		{
			name: "zero wins over cancellation",
			in:   payments.ClassificationInput{Amount: "0", EventType: "PaymentOut Cancellation"},
			want: payments.TransactionZeroDollar,
		},
		{
			name: "employer reimbursement",
			in: payments.ClassificationInput{
				Amount:          "500.00",
				EventType:       "PaymentOut",
				EventReason:     "Automatic Alternate Payment",
				PayeeIdentifier: "Tax Identification Number",
			},
			want: payments.TransactionEmployerReimbursement,
		},
		{
			name: "alternate payment to an individual is standard",
			in: payments.ClassificationInput{
				Amount:          "500.00",
				EventType:       "PaymentOut",
				EventReason:     "Automatic Alternate Payment",
				PayeeIdentifier: "Social Security Number",
			},
			want: payments.TransactionStandard,
		},
		{
			name: "overpayment",
			in:   payments.ClassificationInput{Amount: "-100.00", EventType: "Overpayment", EventReason: "Unknown"},
			want: payments.TransactionOverpayment,
		},
		{
			name: "overpayment recovery with positive amount",
			in:   payments.ClassificationInput{Amount: "100.00", EventType: "Overpayment Actual Recovery"},
			want: payments.TransactionOverpayment,
		},
		{
			name: "cancellation",
			in:   payments.ClassificationInput{Amount: "-123.45", EventType: "PaymentOut Cancellation"},
			want: payments.TransactionCancellation,
		},
		{
			name: "positive cancellation",
			in:   payments.ClassificationInput{Amount: "123.45", EventType: "PaymentOut Cancellation"},
			want: payments.TransactionUnknown,
		},
		{
			name: "standard",
			in:   payments.ClassificationInput{Amount: "850.00", EventType: "PaymentOut"},
			want: payments.TransactionStandard,
		},
		{
			name: "negative PaymentOut is not a cancellation",
			in:   payments.ClassificationInput{Amount: "-850.00", EventType: "PaymentOut"},
			want: payments.TransactionUnknown,
		},
		{
			name: "unrecognized event type",
			in:   payments.ClassificationInput{Amount: "850.00", EventType: "PaymentIn"},
			want: payments.TransactionUnknown,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, payments.Classify(tt.in))
		})
	}
}

func TestTransactionType_RequiresDisbursement(t *testing.T) {
	assert.True(t, payments.TransactionStandard.RequiresDisbursement())
	for _, tt := range []payments.TransactionType{
		payments.TransactionZeroDollar,
		payments.TransactionOverpayment,
		payments.TransactionCancellation,
		payments.TransactionEmployerReimbursement,
		payments.TransactionUnknown,
	} {
		assert.False(t, tt.RequiresDisbursement(), tt)
	}
}
