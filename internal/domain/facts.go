package domain

import "encoding/json"

// The *Facts types are what the aggregations decode source records into.
// They carry only the fields a computation reads, so a record with an odd
// timestamp or COD amount still counts in full.

// DateText is a record date as written. A value that is not a JSON string
// decodes to "" and is then skipped like any other unparsable date.
type DateText string

func (d *DateText) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		*d = ""
		return nil
	}
	*d = DateText(s)
	return nil
}

type ReceiptFacts struct {
	ID          string   `json:"id"`
	ProductCode string   `json:"productCode"`
	Quantity    Quantity `json:"quantity"`
}

func (f ReceiptFacts) Receipt() StockReceipt {
	return StockReceipt{ID: f.ID, ProductCode: f.ProductCode, Quantity: f.Quantity}
}

type SaleFacts struct {
	ID       string     `json:"id"`
	Date     DateText   `json:"date"`
	Status   string     `json:"status"`
	Products []SaleLine `json:"products"`
}

func (f SaleFacts) Order() SaleOrder {
	return SaleOrder{ID: f.ID, Date: string(f.Date), Status: f.Status, Products: f.Products}
}

// EntryFacts covers expense, income and investment records.
type EntryFacts struct {
	ID     string   `json:"id"`
	Date   DateText `json:"date"`
	Amount Amount   `json:"amount"`
}

func (f EntryFacts) Entry() LedgerEntry {
	return LedgerEntry{ID: f.ID, Date: string(f.Date), Amount: f.Amount}
}
