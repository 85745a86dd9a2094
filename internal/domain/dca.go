package domain

import (
	"time"
)

// DCAInterval is the cadence of a DCA strategy.
type DCAInterval string

const (
	DCAHourly DCAInterval = "hourly"
	DCADaily  DCAInterval = "daily"
	DCAWeekly DCAInterval = "weekly"
)

// Duration returns the wall-clock length of the interval; unknown values fall back to hourly.
func (i DCAInterval) Duration() time.Duration {
	switch i {
	case DCADaily:
		return 24 * time.Hour
	case DCAWeekly:
		return 7 * 24 * time.Hour
	default:
		return time.Hour
	}
}

// DCAExecution is one executed purchase or sale.
type DCAExecution struct {
	Timestamp time.Time `json:"timestamp"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Amount    float64   `json:"amount"`
	OrderID   string    `json:"orderId,omitempty"`
}

// DCAStrategy buys or sells a fixed quote amount on an interval.
type DCAStrategy struct {
	ID            string         `json:"id"`
	Pair          string         `json:"pair"`
	Side          OrderSide      `json:"side"`
	Amount        float64        `json:"amount"`
	Interval      DCAInterval    `json:"interval"`
	TotalAmount   *float64       `json:"totalAmount,omitempty"`
	StartPrice    *float64       `json:"startPrice,omitempty"`
	EndPrice      *float64       `json:"endPrice,omitempty"`
	Status        StrategyStatus `json:"status"`
	NextExecution time.Time      `json:"nextExecution"`
	TotalInvested float64        `json:"totalInvested"`
	Executions    []DCAExecution `json:"executions"`
	StopReason    string         `json:"stopReason,omitempty"`
	CreatedAt     time.Time      `json:"createdAt"`
}

// NewDCAStrategy validates the inputs; the first execution is due one interval after now.
func NewDCAStrategy(id, pair string, side OrderSide, amount float64, interval DCAInterval, totalAmount, startPrice, endPrice *float64, now time.Time) (*DCAStrategy, error) {
	if pair == "" {
		return nil, NewValidationError("pair", "is required")
	}
	if !side.Valid() {
		return nil, NewValidationError("side", "must be BUY or SELL, got %q", side)
	}
	if amount <= 0 {
		return nil, NewValidationError("amount", "must be positive")
	}
	if interval == "" {
		interval = DCAHourly
	}
	if interval != DCAHourly && interval != DCADaily && interval != DCAWeekly {
		return nil, NewValidationError("interval", "must be hourly, daily or weekly, got %q", interval)
	}
	if totalAmount != nil && *totalAmount < amount {
		return nil, NewValidationError("total_amount", "must be at least amount")
	}
	for field, p := range map[string]*float64{"start_price": startPrice, "end_price": endPrice} {
		if p != nil && *p <= 0 {
			return nil, NewValidationError(field, "must be positive")
		}
	}
	return &DCAStrategy{
		ID:            id,
		Pair:          pair,
		Side:          side,
		Amount:        amount,
		Interval:      interval,
		TotalAmount:   totalAmount,
		StartPrice:    startPrice,
		EndPrice:      endPrice,
		Status:        StrategyActive,
		NextExecution: now.Add(interval.Duration()),
		CreatedAt:     now,
	}, nil
}

// BudgetExhausted reports whether the optional total budget is used up.
func (d *DCAStrategy) BudgetExhausted() bool {
	return d.TotalAmount != nil && d.TotalInvested >= *d.TotalAmount
}

// ShouldExecute is true when active, within budget and due. An exhausted budget
// completes the strategy.
func (d *DCAStrategy) ShouldExecute(now time.Time) bool {
	if d.Status != StrategyActive {
		return false
	}
	if d.BudgetExhausted() {
		d.Status = StrategyCompleted
		return false
	}
	return !now.Before(d.NextExecution)
}

// EndPriceCrossed reports whether price moved past EndPrice in the unfavorable direction.
func (d *DCAStrategy) EndPriceCrossed(price float64) bool {
	if d.EndPrice == nil {
		return false
	}
	if d.Side == Buy {
		return price > *d.EndPrice
	}
	return price < *d.EndPrice
}

// RecordExecution appends a fill, accumulates the invested amount and reschedules.
func (d *DCAStrategy) RecordExecution(price, size float64, orderID string, now time.Time) DCAExecution {
	exec := DCAExecution{Timestamp: now, Price: price, Size: size, Amount: price * size, OrderID: orderID}
	d.Executions = append(d.Executions, exec)
	d.TotalInvested += exec.Amount
	d.NextExecution = now.Add(d.Interval.Duration())
	if d.BudgetExhausted() {
		d.Status = StrategyCompleted
	}
	return exec
}

// AverageEntryPrice is the size-weighted execution price.
func (d *DCAStrategy) AverageEntryPrice() float64 {
	var size, amount float64
	for _, e := range d.Executions {
		size += e.Size
		amount += e.Amount
	}
	if size == 0 {
		return 0
	}
	return amount / size
}

// Clone returns a deep copy.
func (d *DCAStrategy) Clone() *DCAStrategy {
	c := *d
	c.Executions = append([]DCAExecution(nil), d.Executions...)
	return &c
}
