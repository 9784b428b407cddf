// internal/workers/permit/record-payment/models.go
package recordpayment

import "permit-workers/internal/workers/permit/permitjob"

type Input struct {
	Actor         permitjob.ActorInput `json:"actor"`
	ApplicationID string               `json:"applicationId"`
	Amount        string               `json:"amount"`
	Reference     string               `json:"reference"`
}

type Output struct {
	permitjob.ApplicationOutput
	PaymentID string `json:"paymentId"`
	Amount    string `json:"amount"`
	TotalPaid string `json:"totalPaid"`
	AmountDue string `json:"amountDue"`
	Balance   string `json:"balance"`
	Paid      bool   `json:"paid"`
}
