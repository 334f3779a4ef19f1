package sepa

import "encoding/xml"

// Namespace is the ISO 20022 message definition this codec emits.
const Namespace = "urn:iso:std:iso:20022:tech:xsd:pain.008.001.02"

// Document is the pain.008.001.02 root. Field order follows the schema
// sequence; encoding/xml preserves it.
type Document struct {
	XMLName           xml.Name          `xml:"Document"`
	Xmlns             string            `xml:"xmlns,attr"`
	CstmrDrctDbtInitn CstmrDrctDbtInitn `xml:"CstmrDrctDbtInitn"`
}

// CstmrDrctDbtInitn is the Customer Direct Debit Initiation message.
type CstmrDrctDbtInitn struct {
	GrpHdr GrpHdr `xml:"GrpHdr"`
	PmtInf PmtInf `xml:"PmtInf"`
}

// GrpHdr is the Group Header.
type GrpHdr struct {
	MsgId    string   `xml:"MsgId"`
	CreDtTm  string   `xml:"CreDtTm"`
	NbOfTxs  int      `xml:"NbOfTxs"`
	CtrlSum  string   `xml:"CtrlSum"`
	InitgPty InitgPty `xml:"InitgPty"`
}

type InitgPty struct {
	Nm string `xml:"Nm"`
}

// PmtInf is the Payment Information block; one per remittance.
type PmtInf struct {
	PmtInfId     string         `xml:"PmtInfId"`
	PmtMtd       string         `xml:"PmtMtd"`
	NbOfTxs      int            `xml:"NbOfTxs"`
	CtrlSum      string         `xml:"CtrlSum"`
	PmtTpInf     PmtTpInf       `xml:"PmtTpInf"`
	ReqdColltnDt string         `xml:"ReqdColltnDt"`
	Cdtr         InitgPty       `xml:"Cdtr"`
	CdtrAcct     CdtrAcct       `xml:"CdtrAcct"`
	CdtrAgt      CdtrAgt        `xml:"CdtrAgt"`
	CdtrSchmeId  CdtrSchmeId    `xml:"CdtrSchmeId"`
	DrctDbtTxInf []DrctDbtTxInf `xml:"DrctDbtTxInf"`
}

type PmtTpInf struct {
	SvcLvl    Cd     `xml:"SvcLvl"`
	LclInstrm Cd     `xml:"LclInstrm"`
	SeqTp     string `xml:"SeqTp"`
}

type Cd struct {
	Cd string `xml:"Cd"`
}

type CdtrAcct struct {
	Id AcctId `xml:"Id"`
}

type AcctId struct {
	IBAN string `xml:"IBAN"`
}

type CdtrAgt struct {
	FinInstnId FinInstnIdBIC `xml:"FinInstnId"`
}

type FinInstnIdBIC struct {
	BIC string `xml:"BIC"`
}

// CdtrSchmeId carries the SEPA creditor scheme identification.
type CdtrSchmeId struct {
	Id SchmeIdWrapper `xml:"Id"`
}

type SchmeIdWrapper struct {
	PrvtId PrvtId `xml:"PrvtId"`
}

type PrvtId struct {
	Othr SchmeOthr `xml:"Othr"`
}

type SchmeOthr struct {
	Id      string  `xml:"Id"`
	SchmeNm SchmeNm `xml:"SchmeNm"`
}

type SchmeNm struct {
	Prtry string `xml:"Prtry"`
}

// DrctDbtTxInf is one direct debit transaction.
type DrctDbtTxInf struct {
	PmtId     PmtId     `xml:"PmtId"`
	InstdAmt  InstdAmt  `xml:"InstdAmt"`
	DrctDbtTx DrctDbtTx `xml:"DrctDbtTx"`
	DbtrAgt   DbtrAgt   `xml:"DbtrAgt"`
	Dbtr      InitgPty  `xml:"Dbtr"`
	DbtrAcct  CdtrAcct  `xml:"DbtrAcct"`
	RmtInf    RmtInf    `xml:"RmtInf"`
}

type PmtId struct {
	EndToEndId string `xml:"EndToEndId"`
}

// InstdAmt carries the amount as character data with the currency attribute.
type InstdAmt struct {
	Value string `xml:",chardata"`
	Ccy   string `xml:"Ccy,attr"`
}

type DrctDbtTx struct {
	MndtRltdInf MndtRltdInf `xml:"MndtRltdInf"`
}

type MndtRltdInf struct {
	MndtId    string `xml:"MndtId"`
	DtOfSgntr string `xml:"DtOfSgntr"`
}

// DbtrAgt: the debtor bank is derived from the IBAN by the receiving bank.
type DbtrAgt struct {
	FinInstnId FinInstnIdOthr `xml:"FinInstnId"`
}

type FinInstnIdOthr struct {
	Othr string `xml:"Othr"`
}

type RmtInf struct {
	Ustrd string `xml:"Ustrd"`
}
