// Package receipt renders printable markup: the offline fallback receipt,
// the battery bill, refund receipts, and warranty certificates. Rendering is
// local only; the print transport is outside this core.
package receipt

import (
	"html/template"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/shopspring/decimal"

	"altarath/pos/internal/domain"
)

// ShopIdentity is the letterhead printed on every document. VATRate is the
// flat rate already included in prices; it is printed as a note, never
// added on top.
type ShopIdentity struct {
	Name     string
	Address  string
	Phone    string
	CRNumber string
	VATRate  float64
}

type Renderer struct {
	shop        ShopIdentity
	receiptTmpl *template.Template
	batteryTmpl *template.Template
	refundTmpl  *template.Template
	claimTmpl   *template.Template
}

func NewRenderer(shop ShopIdentity) (*Renderer, error) {
	r := &Renderer{shop: shop}

	var err error
	if r.receiptTmpl, err = template.New("receipt").Parse(receiptTemplate); err != nil {
		return nil, errors.Wrap(err, "parse receipt template")
	}
	if r.batteryTmpl, err = template.New("battery-bill").Parse(batteryBillTemplate); err != nil {
		return nil, errors.Wrap(err, "parse battery bill template")
	}
	if r.refundTmpl, err = template.New("refund").Parse(refundTemplate); err != nil {
		return nil, errors.Wrap(err, "parse refund template")
	}
	if r.claimTmpl, err = template.New("warranty").Parse(warrantyTemplate); err != nil {
		return nil, errors.Wrap(err, "parse warranty template")
	}
	return r, nil
}

type documentLine struct {
	Description string
	Quantity    int
	UnitPrice   string
	Total       string
}

type receiptData struct {
	Shop            ShopIdentity
	ReferenceNumber string
	Date            string
	Time            string
	CashierID       string
	PaymentMethod   string
	Offline         bool
	Lines           []documentLine
	Subtotal        string
	DiscountAmount  string
	TradeInAmount   string
	Total           string
	HasDiscount     bool
	HasTradeIn      bool
}

func money(d decimal.Decimal) string {
	return d.StringFixed(3)
}

func (r *Renderer) receiptData(tx domain.Transaction, offline bool) receiptData {
	data := receiptData{
		Shop:            r.shop,
		ReferenceNumber: tx.ReferenceNumber,
		Date:            tx.CreatedAt.Format("02/01/2006"),
		Time:            tx.CreatedAt.Format("15:04"),
		CashierID:       tx.CashierID,
		PaymentMethod:   tx.PaymentMethod,
		Offline:         offline,
		Subtotal:        money(tx.Totals.Subtotal),
		DiscountAmount:  money(tx.Totals.DiscountAmount),
		TradeInAmount:   money(tx.Totals.TradeInAmount),
		Total:           money(tx.Totals.Total),
		HasDiscount:     tx.Totals.DiscountAmount.IsPositive(),
		HasTradeIn:      tx.Totals.TradeInAmount.IsPositive(),
	}
	for _, l := range tx.Lines {
		data.Lines = append(data.Lines, documentLine{
			Description: l.Description,
			Quantity:    l.Quantity,
			UnitPrice:   money(l.SellingPrice),
			Total:       money(l.SellingPrice.Mul(decimal.NewFromInt(int64(l.Quantity)))),
		})
	}
	return data
}

// Receipt renders the thermal receipt for a sale. Offline sales print the
// same document with an offline marker; the operator is not blocked on the
// backend.
func (r *Renderer) Receipt(tx domain.Transaction, offline bool) (string, error) {
	var sb strings.Builder
	if err := r.receiptTmpl.Execute(&sb, r.receiptData(tx, offline)); err != nil {
		return "", errors.Wrap(err, "render receipt")
	}
	return sb.String(), nil
}

// BatteryBill renders the A5 bill used for battery-only sales, locally when
// the backend's pre-rendered markup is unavailable.
func (r *Renderer) BatteryBill(tx domain.Transaction) (string, error) {
	var sb strings.Builder
	if err := r.batteryTmpl.Execute(&sb, r.receiptData(tx, false)); err != nil {
		return "", errors.Wrap(err, "render battery bill")
	}
	return sb.String(), nil
}

type refundData struct {
	Shop              ShopIdentity
	ReferenceNumber   string
	OriginalReference string
	Date              string
	Time              string
	AuthorizedBy      string
	Reason            string
	Items             []documentLine
	RefundAmount      string
}

// RefundReceipt renders the document handed to the customer after a
// completed refund.
func (r *Renderer) RefundReceipt(req domain.RefundRequest, confirmation domain.RefundConfirmation, authorizedBy domain.StaffMember, at time.Time) (string, error) {
	data := refundData{
		Shop:              r.shop,
		ReferenceNumber:   confirmation.ReferenceNumber,
		OriginalReference: req.OriginalReferenceNumber,
		Date:              at.Format("02/01/2006"),
		Time:              at.Format("15:04"),
		AuthorizedBy:      authorizedBy.Name,
		Reason:            req.Reason,
		RefundAmount:      money(req.RefundAmount),
	}
	for _, item := range req.RefundItems {
		data.Items = append(data.Items, documentLine{
			Description: item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   money(item.Price),
			Total:       money(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))),
		})
	}

	var sb strings.Builder
	if err := r.refundTmpl.Execute(&sb, data); err != nil {
		return "", errors.Wrap(err, "render refund receipt")
	}
	return sb.String(), nil
}

// WarrantyCertificate renders the certificate for a warranty claim. No
// money moves; the certificate is the claim's only artifact.
func (r *Renderer) WarrantyCertificate(certificateNumber, originalReference string, items []domain.ReceiptItem, authorizedBy domain.StaffMember, at time.Time) (string, error) {
	data := refundData{
		Shop:              r.shop,
		ReferenceNumber:   certificateNumber,
		OriginalReference: originalReference,
		Date:              at.Format("02/01/2006"),
		Time:              at.Format("15:04"),
		AuthorizedBy:      authorizedBy.Name,
	}
	for _, item := range items {
		data.Items = append(data.Items, documentLine{
			Description: item.Name,
			Quantity:    item.Quantity,
			UnitPrice:   money(item.Price),
			Total:       money(item.Price.Mul(decimal.NewFromInt(int64(item.Quantity)))),
		})
	}

	var sb strings.Builder
	if err := r.claimTmpl.Execute(&sb, data); err != nil {
		return "", errors.Wrap(err, "render warranty certificate")
	}
	return sb.String(), nil
}

const receiptTemplate = `<div class="receipt">
  <div class="head">
    <h1>{{.Shop.Name}}</h1>
    <p>{{.Shop.Address}}</p>
    <p>Tel: {{.Shop.Phone}} &middot; CR: {{.Shop.CRNumber}}</p>
  </div>
  <p class="meta">No: {{.ReferenceNumber}} &middot; {{.Date}} {{.Time}}</p>
  <p class="meta">Cashier: {{.CashierID}} &middot; Payment: {{.PaymentMethod}}</p>
  {{if .Offline}}<p class="offline">* OFFLINE - pending sync *</p>{{end}}
  <table>
    <tbody>
      {{range .Lines}}<tr><td>{{.Description}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Total}}</td></tr>
      {{end}}
    </tbody>
  </table>
  <p>Subtotal: OMR {{.Subtotal}}</p>
  {{if .HasDiscount}}<p>Discount: -OMR {{.DiscountAmount}}</p>{{end}}
  {{if .HasTradeIn}}<p>Old battery: -OMR {{.TradeInAmount}}</p>{{end}}
  <p class="total">TOTAL: OMR {{.Total}}</p>
  {{if .Shop.VATRate}}<p class="vat">Prices include {{.Shop.VATRate}}% VAT</p>{{end}}
</div>`

const batteryBillTemplate = `<div class="battery-bill">
  <div class="head">
    <h1>{{.Shop.Name}}</h1>
    <p>{{.Shop.Address}}</p>
    <p>Tel: {{.Shop.Phone}} &middot; CR: {{.Shop.CRNumber}}</p>
  </div>
  <h2>BATTERY SALE BILL</h2>
  <p class="meta">Bill No: {{.ReferenceNumber}} &middot; Date: {{.Date}}</p>
  <table>
    <thead>
      <tr><th>Description</th><th>Qty</th><th>Unit</th><th>Amount</th></tr>
    </thead>
    <tbody>
      {{range .Lines}}<tr><td>{{.Description}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Total}}</td></tr>
      {{end}}
    </tbody>
  </table>
  <p>Subtotal: OMR {{.Subtotal}}</p>
  {{if .HasDiscount}}<p>Discount: -OMR {{.DiscountAmount}}</p>{{end}}
  {{if .HasTradeIn}}<p>Discount on old battery: -OMR {{.TradeInAmount}}</p>{{end}}
  <p class="total">Net payable: OMR {{.Total}}</p>
  {{if .Shop.VATRate}}<p class="vat">Prices include {{.Shop.VATRate}}% VAT</p>{{end}}
  <p class="warranty-note">Battery warranty as per manufacturer terms. Keep this bill for claims.</p>
</div>`

const refundTemplate = `<div class="refund-receipt">
  <div class="head">
    <h1>{{.Shop.Name}}</h1>
    <p>{{.Shop.Address}}</p>
    <p>Tel: {{.Shop.Phone}} &middot; CR: {{.Shop.CRNumber}}</p>
  </div>
  <h2>REFUND RECEIPT</h2>
  <p class="meta">Refund No: {{.ReferenceNumber}} &middot; Original bill: {{.OriginalReference}}</p>
  <p class="meta">{{.Date}} {{.Time}} &middot; Authorized by: {{.AuthorizedBy}}</p>
  {{if .Reason}}<p class="meta">Reason: {{.Reason}}</p>{{end}}
  <table>
    <tbody>
      {{range .Items}}<tr><td>{{.Description}}</td><td>{{.Quantity}}</td><td>{{.UnitPrice}}</td><td>{{.Total}}</td></tr>
      {{end}}
    </tbody>
  </table>
  <p class="total">Refunded: OMR {{.RefundAmount}}</p>
</div>`

const warrantyTemplate = `<div class="warranty-certificate">
  <div class="head">
    <h1>{{.Shop.Name}}</h1>
    <p>{{.Shop.Address}}</p>
    <p>Tel: {{.Shop.Phone}} &middot; CR: {{.Shop.CRNumber}}</p>
  </div>
  <h2>WARRANTY CLAIM CERTIFICATE</h2>
  <p class="meta">Claim No: {{.ReferenceNumber}} &middot; Original bill: {{.OriginalReference}}</p>
  <p class="meta">{{.Date}} {{.Time}} &middot; Authorized by: {{.AuthorizedBy}}</p>
  <table>
    <tbody>
      {{range .Items}}<tr><td>{{.Description}}</td><td>{{.Quantity}}</td></tr>
      {{end}}
    </tbody>
  </table>
  <p class="note">Item(s) accepted under warranty. No cash value.</p>
</div>`
