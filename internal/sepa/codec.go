// Package sepa encodes remittance batches as ISO 20022 pain.008.001.02
// ("Customer Direct Debit Initiation") XML documents.
package sepa

import (
	"encoding/xml"
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var (
	ErrEmptyBatch      = errors.New("empty_batch")
	ErrMissingMandate  = errors.New("missing_mandate")
	ErrMissingAccount  = errors.New("missing_account")
	ErrControlSumDrift = errors.New("control_sum_mismatch")
)

const (
	currencyEUR = "EUR"
	// maxDebtorName is the ISO field length limit; longer names are
	// truncated, never rejected.
	maxDebtorName = 70
)

// Decrypter opens vault-sealed account identifiers. Decrypted values live
// only inside per-transaction block construction and are never logged.
type Decrypter interface {
	Decrypt(sealed string) (string, error)
}

// Creditor identifies the collecting party towards the bank.
type Creditor struct {
	Name     string
	IBAN     string
	BIC      string
	SchemeID string
}

// Order is the codec view of one collection order joined with its due.
type Order struct {
	OrderID string

	DueID   string
	DueYear int

	Amount           decimal.Decimal
	MandateReference string
	// AccountIdentifier is the vault-sealed debtor IBAN.
	AccountIdentifier    string
	DebtorName           string
	MandateSignatureDate time.Time
}

// Input is everything Encode needs. The codec is a pure function over it:
// identical input yields an identical document.
type Input struct {
	MessageID      string
	PaymentInfoID  string
	CreatedAt      time.Time
	CollectionDate time.Time

	TotalAmount decimal.Decimal
	Creditor    Creditor
	Orders      []Order
}

// Encode builds the full XML document string. It is all-or-nothing: any
// invalid order fails the whole batch so the emitted control sum always
// matches what was authorized.
func Encode(in Input, dec Decrypter) (string, error) {
	if len(in.Orders) == 0 {
		return "", fmt.Errorf("remittance %s has no orders: %w", in.PaymentInfoID, ErrEmptyBatch)
	}

	sum := decimal.Zero
	for _, order := range in.Orders {
		sum = sum.Add(order.Amount)
	}
	if !sum.Equal(in.TotalAmount) {
		return "", fmt.Errorf("remittance %s declares %s but orders sum to %s: %w",
			in.PaymentInfoID, in.TotalAmount.StringFixed(2), sum.StringFixed(2), ErrControlSumDrift)
	}

	transactions := make([]DrctDbtTxInf, 0, len(in.Orders))
	for _, order := range in.Orders {
		tx, err := buildTransaction(order, dec)
		if err != nil {
			return "", err
		}
		transactions = append(transactions, tx)
	}

	ctrlSum := in.TotalAmount.StringFixed(2)
	doc := Document{
		Xmlns: Namespace,
		CstmrDrctDbtInitn: CstmrDrctDbtInitn{
			GrpHdr: GrpHdr{
				MsgId:    in.MessageID,
				CreDtTm:  in.CreatedAt.Format(time.RFC3339),
				NbOfTxs:  len(in.Orders),
				CtrlSum:  ctrlSum,
				InitgPty: InitgPty{Nm: in.Creditor.Name},
			},
			PmtInf: PmtInf{
				PmtInfId: in.PaymentInfoID,
				PmtMtd:   "DD",
				NbOfTxs:  len(in.Orders),
				CtrlSum:  ctrlSum,
				PmtTpInf: PmtTpInf{
					SvcLvl:    Cd{Cd: "SEPA"},
					LclInstrm: Cd{Cd: "CORE"},
					SeqTp:     "RCUR",
				},
				ReqdColltnDt: in.CollectionDate.Format("2006-01-02"),
				Cdtr:         InitgPty{Nm: in.Creditor.Name},
				CdtrAcct:     CdtrAcct{Id: AcctId{IBAN: in.Creditor.IBAN}},
				CdtrAgt:      CdtrAgt{FinInstnId: FinInstnIdBIC{BIC: in.Creditor.BIC}},
				CdtrSchmeId: CdtrSchmeId{
					Id: SchmeIdWrapper{
						PrvtId: PrvtId{
							Othr: SchmeOthr{
								Id:      in.Creditor.SchemeID,
								SchmeNm: SchmeNm{Prtry: "SEPA"},
							},
						},
					},
				},
				DrctDbtTxInf: transactions,
			},
		},
	}

	body, err := xml.MarshalIndent(doc, "", "  ")
	if err != nil {
		return "", err
	}
	return xml.Header + string(body) + "\n", nil
}

func buildTransaction(order Order, dec Decrypter) (DrctDbtTxInf, error) {
	if order.MandateReference == "" {
		return DrctDbtTxInf{}, fmt.Errorf("order %s: %w", order.OrderID, ErrMissingMandate)
	}

	iban, err := dec.Decrypt(order.AccountIdentifier)
	if err != nil {
		return DrctDbtTxInf{}, fmt.Errorf("order %s: %w: %w", order.OrderID, ErrMissingAccount, err)
	}
	if iban == "" {
		return DrctDbtTxInf{}, fmt.Errorf("order %s has no account identifier: %w", order.OrderID, ErrMissingAccount)
	}

	return DrctDbtTxInf{
		PmtId:    PmtId{EndToEndId: fmt.Sprintf("CUOTA-%d-%s", order.DueYear, order.DueID)},
		InstdAmt: InstdAmt{Value: order.Amount.StringFixed(2), Ccy: currencyEUR},
		DrctDbtTx: DrctDbtTx{
			MndtRltdInf: MndtRltdInf{
				MndtId:    order.MandateReference,
				DtOfSgntr: order.MandateSignatureDate.Format("2006-01-02"),
			},
		},
		DbtrAgt:  DbtrAgt{FinInstnId: FinInstnIdOthr{Othr: "NOTPROVIDED"}},
		Dbtr:     InitgPty{Nm: truncate(order.DebtorName, maxDebtorName)},
		DbtrAcct: CdtrAcct{Id: AcctId{IBAN: iban}},
		RmtInf:   RmtInf{Ustrd: fmt.Sprintf("Cuota %d", order.DueYear)},
	}, nil
}

func truncate(s string, limit int) string {
	runes := []rune(s)
	if len(runes) <= limit {
		return s
	}
	return string(runes[:limit])
}
