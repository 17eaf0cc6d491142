package model

import "cloud.google.com/go/civil"

// Order is a sales order assembled from the ERP.
type Order struct {
	Key             string     `json:"key"`
	Number          string     `json:"number"`
	CreatedDate     civil.Date `json:"createdDate"`
	ClientName      string     `json:"clientName"`
	Address         string     `json:"address"`
	ManagerFullName string     `json:"managerFullName"`
	Weight          float64    `json:"orderWeight"`
	LineItems       []LineItem `json:"lineItems"`
}

// LineItem is one product row of an order.
type LineItem struct {
	ParentKey   string  `json:"parentKey"`
	ProductName string  `json:"productName"`
	Amount      int     `json:"amount"`
	UnitWeight  float64 `json:"unitWeight"`
	TotalWeight float64 `json:"totalWeight"`
	StoreName   string  `json:"storeName"`
}

// UnitWeight is total/amount, or 0 when amount is 0.
func UnitWeight(total float64, amount int) float64 {
	if amount == 0 {
		return 0
	}
	return total / float64(amount)
}

// WithTotalWeight returns a copy with the total replaced and the unit weight recomputed.
func (l LineItem) WithTotalWeight(total float64) LineItem {
	l.TotalWeight = total
	l.UnitWeight = UnitWeight(total, l.Amount)
	return l
}

// Attach sets the order's items and recomputes its weight from them.
func (o *Order) Attach(items []LineItem) {
	if items == nil {
		items = []LineItem{}
	}
	o.LineItems = items
	var w float64
	for _, it := range items {
		w += it.TotalWeight
	}
	o.Weight = w
}
