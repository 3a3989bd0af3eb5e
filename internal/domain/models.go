package domain

import (
	"encoding/json"
	"strings"
	"time"
)

const (
	SaleStatusProcessing = "Parcel Processing"
	SaleStatusSent       = "Parcel Sent"
	SaleStatusDelivered  = "Delivered"
	SaleStatusReturned   = "Returned"
)

var SaleStatuses = []string{
	SaleStatusProcessing,
	SaleStatusSent,
	SaleStatusDelivered,
	SaleStatusReturned,
}

const (
	RoleAdmin = "admin"
	RoleStaff = "staff"
)

// PurchaseSummaryKey is the single key of the purchaseSummary collection.
const PurchaseSummaryKey = "totalPurchaseCost"

type StockReceipt struct {
	ID          string   `json:"id,omitempty"`
	ProductCode string   `json:"productCode"`
	Quantity    Quantity `json:"quantity"`
	Date        string   `json:"date"`
	Timestamp   int64    `json:"timestamp"`
}

type SaleLine struct {
	ProductCode string   `json:"productCode"`
	Quantity    Quantity `json:"quantity"`
}

type SaleOrder struct {
	ID              string     `json:"id,omitempty"`
	Date            string     `json:"date"`
	Status          string     `json:"status"`
	Products        []SaleLine `json:"products"`
	CODAmount       Amount     `json:"codAmount"`
	CustomerName    string     `json:"customerName,omitempty"`
	CustomerPhone   string     `json:"customerPhone,omitempty"`
	CustomerAddress string     `json:"customerAddress,omitempty"`
	Timestamp       int64      `json:"timestamp"`
}

// IsDelivered matches "Delivered" case-insensitively; only delivered
// orders are cost-recognized.
func (o SaleOrder) IsDelivered() bool {
	return strings.EqualFold(o.Status, SaleStatusDelivered)
}

// IsReturned matches "Returned" exactly.
func (o SaleOrder) IsReturned() bool {
	return o.Status == SaleStatusReturned
}

// UnitCostEntry is keyed by the stock receipt it prices.
type UnitCostEntry struct {
	ID       string `json:"id,omitempty"`
	UnitCost Amount `json:"unitCost"`
}

type AverageCost struct {
	ID          string  `json:"id,omitempty"`
	ProductCode string  `json:"productCode"`
	AvgCost     float64 `json:"avgCost"`
}

type PurchaseSummary struct {
	ID    string  `json:"id,omitempty"`
	Value float64 `json:"value"`
}

type CostSummary struct {
	AverageCosts      []AverageCost `json:"average_costs"`
	TotalPurchaseCost float64       `json:"total_purchase_cost"`
}

// LedgerEntry is the shape shared by expense, income and investment records.
type LedgerEntry struct {
	ID        string `json:"id,omitempty"`
	Date      string `json:"date"`
	Details   string `json:"details"`
	Amount    Amount `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

type ProductCost struct {
	ProductCode string  `json:"productCode"`
	Quantity    int     `json:"quantity"`
	AvgCost     float64 `json:"avgCost"`
	Total       float64 `json:"total"`
}

type MonthlyProfitSnapshot struct {
	ID               string        `json:"id,omitempty"`
	Month            string        `json:"month"`
	Expenses         float64       `json:"expenses"`
	Income           float64       `json:"income"`
	TotalProductCost float64       `json:"totalProductCost"`
	ProfitLoss       float64       `json:"profitLoss"`
	ProductData      []ProductCost `json:"productData"`
	Timestamp        int64         `json:"timestamp"`
}

// MonthlyResult is what a month computation hands back to the caller,
// whether or not it was persisted.
type MonthlyResult struct {
	Key              string        `json:"key"`
	Month            string        `json:"month"`
	Expenses         float64       `json:"expenses"`
	Income           float64       `json:"income"`
	TotalProductCost float64       `json:"total_product_cost"`
	ProfitLoss       float64       `json:"profit_loss"`
	ProductData      []ProductCost `json:"product_data"`
	Written          bool          `json:"written"`
}

func (r MonthlyResult) IsEmpty() bool {
	return r.Income == 0 && r.Expenses == 0 && r.TotalProductCost == 0
}

type InventoryRow struct {
	ProductCode    string `json:"product_code"`
	StockIn        int    `json:"stock_in"`
	StockOut       int    `json:"stock_out"`
	AvailableStock int    `json:"available_stock"`
}

type Overview struct {
	Income              float64       `json:"income"`
	Expenses            float64       `json:"expenses"`
	Investment          float64       `json:"investment"`
	PurchasedAmount     float64       `json:"purchased_amount"`
	ProductCosts        []ProductCost `json:"product_costs"`
	TotalProductCost    float64       `json:"total_product_cost"`
	ProfitLoss          float64       `json:"profit_loss"`
	CashInHand          float64       `json:"cash_in_hand"`
	RemainingStockValue float64       `json:"remaining_stock_value"`
}

type MonthlySalesTally struct {
	ID        string `json:"id,omitempty"`
	Month     string `json:"month"`
	Delivered int    `json:"delivered"`
	Returned  int    `json:"returned"`
	Timestamp int64  `json:"timestamp"`
}

type SalesTally struct {
	Month     string `json:"month"`
	Delivered int    `json:"delivered"`
	Returned  int    `json:"returned"`
	Recorded  bool   `json:"recorded"`
}

type StockReceiptRequest struct {
	Date        string `json:"date"`
	ProductCode string `json:"product_code"`
	Quantity    int    `json:"quantity"`
}

// UnitCostRequest leaves UnitCost nil when unit_cost is absent.
type UnitCostRequest struct {
	UnitCost *float64 `json:"unit_cost"`
}

type SaleRequest struct {
	Date            string     `json:"date"`
	Status          string     `json:"status"`
	Products        []SaleLine `json:"products"`
	CODAmount       float64    `json:"cod_amount"`
	CustomerName    string     `json:"customer_name"`
	CustomerPhone   string     `json:"customer_phone"`
	CustomerAddress string     `json:"customer_address"`
}

type SaleStatusRequest struct {
	Status string `json:"status"`
}

type LedgerEntryRequest struct {
	Date    string      `json:"date"`
	Details string      `json:"details"`
	Amount  json.Number `json:"amount"`
}

type RecalculateRequest struct {
	Month string `json:"month"`
}

type LoginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	Role        string `json:"role"`
	ExpiresAt   string `json:"expires_at"`
}

type Actor struct {
	Username string
	Role     string
}

type StaffCreateRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type StaffUser struct {
	Username  string    `json:"username"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// UserAccount is an internal persistence model for auth credentials.
type UserAccount struct {
	ID        string    `json:"id,omitempty"`
	Username  string    `json:"username"`
	Password  string    `json:"password"`
	Role      string    `json:"role"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"createdAt"`
}
