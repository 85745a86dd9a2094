package domain

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

// OrderType names an advanced order variant.
type OrderType string

const (
	OrderTrailingStop OrderType = "trailing_stop"
	OrderOCO          OrderType = "oco"
	OrderBracket      OrderType = "bracket"
	OrderStopLimit    OrderType = "stop_limit"
	OrderIceberg      OrderType = "iceberg"
)

// OrderStatus is the lifecycle state of an advanced order.
type OrderStatus string

const (
	OrderPending         OrderStatus = "PENDING"
	OrderActive          OrderStatus = "ACTIVE"
	OrderFilled          OrderStatus = "FILLED"
	OrderPartiallyFilled OrderStatus = "PARTIALLY_FILLED"
	OrderCancelled       OrderStatus = "CANCELLED"
	OrderRejected        OrderStatus = "REJECTED"
	OrderExpired         OrderStatus = "EXPIRED"
)

// Terminal reports whether no further transition is allowed.
func (s OrderStatus) Terminal() bool {
	switch s {
	case OrderFilled, OrderCancelled, OrderRejected, OrderExpired:
		return true
	}
	return false
}

// Working reports whether the order is monitored for triggers.
func (s OrderStatus) Working() bool {
	return s == OrderActive || s == OrderPartiallyFilled
}

const sizeEpsilon = 1e-8

// Trigger labels recorded on fills.
const (
	TriggerStopLoss     = "stop_loss"
	TriggerTakeProfit   = "take_profit"
	TriggerTrailingStop = "trailing_stop"
	TriggerStopLimit    = "stop_limit"
	TriggerEntry        = "entry"
	TriggerChunk        = "chunk"
)

// Trigger is the outcome of evaluating an order against a price.
// When Fire is set, exactly one market order of Side/Size must be submitted.
type Trigger struct {
	Fire  bool
	Side  OrderSide
	Size  float64
	Label string
}

// AdvancedOrder is implemented only by the five order variants in this package.
type AdvancedOrder interface {
	Base() *OrderBase
	// Evaluate updates price-tracking state and reports whether the order fires.
	Evaluate(price float64) Trigger
	// Apply advances the order after the market order for t was accepted.
	Apply(t Trigger, at time.Time, exchangeOrderID string)
	Record() OrderRecord
	advancedOrder()
}

// OrderBase holds the fields shared by every variant.
type OrderBase struct {
	ID               string      `json:"id"`
	Type             OrderType   `json:"type"`
	Pair             string      `json:"pair"`
	Side             OrderSide   `json:"side"`
	Size             float64     `json:"size"`
	Status           OrderStatus `json:"status"`
	FilledSize       float64     `json:"filledSize"`
	CreatedAt        time.Time   `json:"createdAt"`
	FilledAt         *time.Time  `json:"filledAt,omitempty"`
	ExpiresAt        *time.Time  `json:"expiresAt,omitempty"`
	ExchangeOrderIDs []string    `json:"exchangeOrderIds,omitempty"`
	RejectReason     string      `json:"rejectReason,omitempty"`
}

func (b *OrderBase) Base() *OrderBase { return b }

func (b *OrderBase) transition(to OrderStatus) error {
	if b.Status.Terminal() {
		return fmt.Errorf("order %s is %s: %w", b.ID, b.Status, ErrInvalidTransition)
	}
	b.Status = to
	return nil
}

// Activate moves a pending order into monitoring.
func (b *OrderBase) Activate() error {
	if b.Status != OrderPending {
		return fmt.Errorf("order %s is %s: %w", b.ID, b.Status, ErrInvalidTransition)
	}
	return b.transition(OrderActive)
}

// Cancel stops monitoring; terminal orders cannot be cancelled.
func (b *OrderBase) Cancel() error {
	return b.transition(OrderCancelled)
}

// Reject marks a failed submission.
func (b *OrderBase) Reject(reason string) error {
	if err := b.transition(OrderRejected); err != nil {
		return err
	}
	b.RejectReason = reason
	return nil
}

// Expire marks an order whose deadline passed.
func (b *OrderBase) Expire() error {
	return b.transition(OrderExpired)
}

// Expired reports whether the order deadline is at or before now.
func (b *OrderBase) Expired(now time.Time) bool {
	return b.ExpiresAt != nil && !now.Before(*b.ExpiresAt)
}

func (b *OrderBase) fill(at time.Time, exchangeOrderID string) {
	if b.transition(OrderFilled) != nil {
		return
	}
	b.FilledSize = b.Size
	b.FilledAt = &at
	b.addExchangeOrder(exchangeOrderID)
}

func (b *OrderBase) addExchangeOrder(id string) {
	if id != "" {
		b.ExchangeOrderIDs = append(b.ExchangeOrderIDs, id)
	}
}

func (b *OrderBase) validate() error {
	if b.Pair == "" {
		return NewValidationError("pair", "is required")
	}
	if !b.Side.Valid() {
		return NewValidationError("side", "must be BUY or SELL, got %q", b.Side)
	}
	if b.Size <= 0 || math.IsNaN(b.Size) || math.IsInf(b.Size, 0) {
		return NewValidationError("size", "must be positive")
	}
	return nil
}

func positive(field string, v float64) error {
	if v <= 0 || math.IsNaN(v) || math.IsInf(v, 0) {
		return NewValidationError(field, "must be positive")
	}
	return nil
}

// OrderRecord is the transport and storage representation of an order.
type OrderRecord struct {
	OrderBase
	Params json.RawMessage `json:"params"`
}

func newRecord(b OrderBase, params any) OrderRecord {
	raw, _ := json.Marshal(params)
	return OrderRecord{OrderBase: b, Params: raw}
}

// OrderFromRecord rebuilds a typed order from its record.
func OrderFromRecord(r OrderRecord) (AdvancedOrder, error) {
	var (
		order  AdvancedOrder
		params any
	)
	switch r.Type {
	case OrderTrailingStop:
		o := &TrailingStopOrder{OrderBase: r.OrderBase}
		order, params = o, &o.TrailingStopState
	case OrderOCO:
		o := &OCOOrder{OrderBase: r.OrderBase}
		order, params = o, &o.OCOState
	case OrderBracket:
		o := &BracketOrder{OrderBase: r.OrderBase}
		order, params = o, &o.BracketState
	case OrderStopLimit:
		o := &StopLimitOrder{OrderBase: r.OrderBase}
		order, params = o, &o.StopLimitState
	case OrderIceberg:
		o := &IcebergOrder{OrderBase: r.OrderBase}
		order, params = o, &o.IcebergState
	default:
		return nil, NewValidationError("type", "unknown order type %q", r.Type)
	}
	if len(r.Params) > 0 {
		if err := json.Unmarshal(r.Params, params); err != nil {
			return nil, fmt.Errorf("decode %s params: %w", r.Type, err)
		}
	}
	return order, nil
}

// TrailingStopState is the variant-specific part of a trailing stop.
type TrailingStopState struct {
	TrailingPercent  float64 `json:"trailingPercent"`
	InitialPrice     float64 `json:"initialPrice"`
	HighestPrice     float64 `json:"highestPrice"`
	LowestPrice      float64 `json:"lowestPrice"`
	CurrentStopPrice float64 `json:"currentStopPrice"`
}

// TrailingStopOrder follows the extreme price and fires when price retraces by TrailingPercent.
// SELL protects a long and tracks the high; BUY protects a short and tracks the low.
type TrailingStopOrder struct {
	OrderBase
	TrailingStopState
}

func NewTrailingStopOrder(base OrderBase, trailingPercent, initialPrice float64) (*TrailingStopOrder, error) {
	base.Type = OrderTrailingStop
	if err := base.validate(); err != nil {
		return nil, err
	}
	if trailingPercent <= 0 || trailingPercent >= 100 {
		return nil, NewValidationError("trailing_percent", "must be in (0,100)")
	}
	if err := positive("initial_price", initialPrice); err != nil {
		return nil, err
	}
	o := &TrailingStopOrder{OrderBase: base, TrailingStopState: TrailingStopState{
		TrailingPercent: trailingPercent,
		InitialPrice:    initialPrice,
		HighestPrice:    initialPrice,
		LowestPrice:     initialPrice,
	}}
	o.CurrentStopPrice = o.stopPrice()
	return o, nil
}

func (o *TrailingStopOrder) stopPrice() float64 {
	if o.Side == Sell {
		return o.HighestPrice * (1 - o.TrailingPercent/100)
	}
	return o.LowestPrice * (1 + o.TrailingPercent/100)
}

func (o *TrailingStopOrder) Evaluate(price float64) Trigger {
	if !o.Status.Working() || price <= 0 {
		return Trigger{}
	}
	var hit bool
	if o.Side == Sell {
		if price > o.HighestPrice {
			o.HighestPrice = price
			o.CurrentStopPrice = o.stopPrice()
		}
		hit = price <= o.CurrentStopPrice
	} else {
		if price < o.LowestPrice {
			o.LowestPrice = price
			o.CurrentStopPrice = o.stopPrice()
		}
		hit = price >= o.CurrentStopPrice
	}
	if !hit {
		return Trigger{}
	}
	return Trigger{Fire: true, Side: o.Side, Size: o.Size, Label: TriggerTrailingStop}
}

func (o *TrailingStopOrder) Apply(_ Trigger, at time.Time, exchangeOrderID string) {
	o.fill(at, exchangeOrderID)
}

func (o *TrailingStopOrder) Record() OrderRecord {
	return newRecord(o.OrderBase, o.TrailingStopState)
}

func (*TrailingStopOrder) advancedOrder() {}

// protectiveLeg decides which leg of a stop-loss/take-profit pair fires.
// exitSide SELL closes a long: loss below, profit above. BUY is the mirror.
func protectiveLeg(exitSide OrderSide, stopLoss, takeProfit, price float64) string {
	if exitSide == Sell {
		if price <= stopLoss {
			return TriggerStopLoss
		}
		if price >= takeProfit {
			return TriggerTakeProfit
		}
		return ""
	}
	if price >= stopLoss {
		return TriggerStopLoss
	}
	if price <= takeProfit {
		return TriggerTakeProfit
	}
	return ""
}

func validateLegs(exitSide OrderSide, stopLoss, takeProfit float64) error {
	if err := positive("stop_loss_price", stopLoss); err != nil {
		return err
	}
	if err := positive("take_profit_price", takeProfit); err != nil {
		return err
	}
	if exitSide == Sell && stopLoss >= takeProfit {
		return NewValidationError("stop_loss_price", "must be below take_profit_price for a SELL exit")
	}
	if exitSide == Buy && stopLoss <= takeProfit {
		return NewValidationError("stop_loss_price", "must be above take_profit_price for a BUY exit")
	}
	return nil
}

// OCOState is the variant-specific part of an OCO order.
type OCOState struct {
	StopLossPrice   float64 `json:"stopLossPrice"`
	TakeProfitPrice float64 `json:"takeProfitPrice"`
	TriggeredOrder  string  `json:"triggeredOrder,omitempty"`
}

// OCOOrder pairs a stop loss with a take profit; the first leg to fire cancels the other.
type OCOOrder struct {
	OrderBase
	OCOState
}

func NewOCOOrder(base OrderBase, stopLoss, takeProfit float64) (*OCOOrder, error) {
	base.Type = OrderOCO
	if err := base.validate(); err != nil {
		return nil, err
	}
	if err := validateLegs(base.Side, stopLoss, takeProfit); err != nil {
		return nil, err
	}
	return &OCOOrder{OrderBase: base, OCOState: OCOState{StopLossPrice: stopLoss, TakeProfitPrice: takeProfit}}, nil
}

func (o *OCOOrder) Evaluate(price float64) Trigger {
	if !o.Status.Working() || o.TriggeredOrder != "" || price <= 0 {
		return Trigger{}
	}
	leg := protectiveLeg(o.Side, o.StopLossPrice, o.TakeProfitPrice, price)
	if leg == "" {
		return Trigger{}
	}
	return Trigger{Fire: true, Side: o.Side, Size: o.Size, Label: leg}
}

func (o *OCOOrder) Apply(t Trigger, at time.Time, exchangeOrderID string) {
	if !o.Status.Working() || o.TriggeredOrder != "" {
		return
	}
	o.TriggeredOrder = t.Label
	o.fill(at, exchangeOrderID)
}

func (o *OCOOrder) Record() OrderRecord {
	return newRecord(o.OrderBase, o.OCOState)
}

func (*OCOOrder) advancedOrder() {}

// BracketState is the variant-specific part of a bracket order.
type BracketState struct {
	EntryPrice       float64    `json:"entryPrice"`
	StopLossPrice    float64    `json:"stopLossPrice"`
	TakeProfitPrice  float64    `json:"takeProfitPrice"`
	EntryFilled      bool       `json:"entryFilled"`
	EntryFilledAt    *time.Time `json:"entryFilledAt,omitempty"`
	StopLossActive   bool       `json:"stopLossActive"`
	TakeProfitActive bool       `json:"takeProfitActive"`
	TriggeredOrder   string     `json:"triggeredOrder,omitempty"`
}

// BracketOrder enters at EntryPrice, then exits through an OCO pair on the opposite side.
type BracketOrder struct {
	OrderBase
	BracketState
}

func NewBracketOrder(base OrderBase, entry, stopLoss, takeProfit float64) (*BracketOrder, error) {
	base.Type = OrderBracket
	if err := base.validate(); err != nil {
		return nil, err
	}
	if err := positive("entry_price", entry); err != nil {
		return nil, err
	}
	if err := validateLegs(base.Side.Opposite(), stopLoss, takeProfit); err != nil {
		return nil, err
	}
	if base.Side == Buy && !(stopLoss < entry && entry < takeProfit) {
		return nil, NewValidationError("entry_price", "must sit between stop loss and take profit")
	}
	if base.Side == Sell && !(takeProfit < entry && entry < stopLoss) {
		return nil, NewValidationError("entry_price", "must sit between take profit and stop loss")
	}
	return &BracketOrder{OrderBase: base, BracketState: BracketState{
		EntryPrice:      entry,
		StopLossPrice:   stopLoss,
		TakeProfitPrice: takeProfit,
	}}, nil
}

func (o *BracketOrder) Evaluate(price float64) Trigger {
	if !o.Status.Working() || price <= 0 {
		return Trigger{}
	}
	if !o.EntryFilled {
		reached := (o.Side == Buy && price <= o.EntryPrice) || (o.Side == Sell && price >= o.EntryPrice)
		if !reached {
			return Trigger{}
		}
		return Trigger{Fire: true, Side: o.Side, Size: o.Size, Label: TriggerEntry}
	}
	if !o.StopLossActive || !o.TakeProfitActive || o.TriggeredOrder != "" {
		return Trigger{}
	}
	exit := o.Side.Opposite()
	leg := protectiveLeg(exit, o.StopLossPrice, o.TakeProfitPrice, price)
	if leg == "" {
		return Trigger{}
	}
	return Trigger{Fire: true, Side: exit, Size: o.Size, Label: leg}
}

func (o *BracketOrder) Apply(t Trigger, at time.Time, exchangeOrderID string) {
	if !o.Status.Working() {
		return
	}
	if t.Label == TriggerEntry {
		if o.EntryFilled {
			return
		}
		o.EntryFilled = true
		o.EntryFilledAt = &at
		o.StopLossActive = true
		o.TakeProfitActive = true
		o.addExchangeOrder(exchangeOrderID)
		return
	}
	if o.TriggeredOrder != "" {
		return
	}
	o.TriggeredOrder = t.Label
	o.StopLossActive = false
	o.TakeProfitActive = false
	o.fill(at, exchangeOrderID)
}

func (o *BracketOrder) Record() OrderRecord {
	return newRecord(o.OrderBase, o.BracketState)
}

func (*BracketOrder) advancedOrder() {}

// StopLimitState is the variant-specific part of a stop-limit order.
type StopLimitState struct {
	StopPrice     float64 `json:"stopPrice"`
	LimitPrice    float64 `json:"limitPrice"`
	StopTriggered bool    `json:"stopTriggered"`
}

// StopLimitOrder arms at StopPrice and then fills only while price has not moved through LimitPrice.
type StopLimitOrder struct {
	OrderBase
	StopLimitState
}

func NewStopLimitOrder(base OrderBase, stop, limit float64) (*StopLimitOrder, error) {
	base.Type = OrderStopLimit
	if err := base.validate(); err != nil {
		return nil, err
	}
	if err := positive("stop_price", stop); err != nil {
		return nil, err
	}
	if err := positive("limit_price", limit); err != nil {
		return nil, err
	}
	if base.Side == Sell && limit > stop {
		return nil, NewValidationError("limit_price", "must not exceed stop_price for SELL")
	}
	if base.Side == Buy && limit < stop {
		return nil, NewValidationError("limit_price", "must not be below stop_price for BUY")
	}
	return &StopLimitOrder{OrderBase: base, StopLimitState: StopLimitState{StopPrice: stop, LimitPrice: limit}}, nil
}

func (o *StopLimitOrder) Evaluate(price float64) Trigger {
	if !o.Status.Working() || price <= 0 {
		return Trigger{}
	}
	if !o.StopTriggered {
		if (o.Side == Sell && price <= o.StopPrice) || (o.Side == Buy && price >= o.StopPrice) {
			o.StopTriggered = true
		} else {
			return Trigger{}
		}
	}
	// A triggered stop only fills on the right side of the limit.
	if (o.Side == Sell && price < o.LimitPrice) || (o.Side == Buy && price > o.LimitPrice) {
		return Trigger{}
	}
	return Trigger{Fire: true, Side: o.Side, Size: o.Size, Label: TriggerStopLimit}
}

func (o *StopLimitOrder) Apply(_ Trigger, at time.Time, exchangeOrderID string) {
	o.fill(at, exchangeOrderID)
}

func (o *StopLimitOrder) Record() OrderRecord {
	return newRecord(o.OrderBase, o.StopLimitState)
}

func (*StopLimitOrder) advancedOrder() {}

// IcebergState is the variant-specific part of an iceberg order.
type IcebergState struct {
	TotalSize        float64 `json:"totalSize"`
	VisibleSize      float64 `json:"visibleSize"`
	LimitPrice       float64 `json:"limitPrice"`
	RemainingSize    float64 `json:"remainingSize"`
	CurrentChunkSize float64 `json:"currentChunkSize"`
	ChunksFilled     int     `json:"chunksFilled"`
}

// IcebergOrder works TotalSize in VisibleSize chunks at LimitPrice or better.
type IcebergOrder struct {
	OrderBase
	IcebergState
}

func NewIcebergOrder(base OrderBase, visible, limit float64) (*IcebergOrder, error) {
	base.Type = OrderIceberg
	if err := base.validate(); err != nil {
		return nil, err
	}
	if err := positive("visible_size", visible); err != nil {
		return nil, err
	}
	if visible > base.Size {
		return nil, NewValidationError("visible_size", "must not exceed total_size")
	}
	if err := positive("limit_price", limit); err != nil {
		return nil, err
	}
	return &IcebergOrder{OrderBase: base, IcebergState: IcebergState{
		TotalSize:        base.Size,
		VisibleSize:      visible,
		LimitPrice:       limit,
		RemainingSize:    base.Size,
		CurrentChunkSize: math.Min(visible, base.Size),
	}}, nil
}

func (o *IcebergOrder) Evaluate(price float64) Trigger {
	if !o.Status.Working() || price <= 0 || o.CurrentChunkSize <= 0 {
		return Trigger{}
	}
	if (o.Side == Buy && price > o.LimitPrice) || (o.Side == Sell && price < o.LimitPrice) {
		return Trigger{}
	}
	return Trigger{Fire: true, Side: o.Side, Size: o.CurrentChunkSize, Label: TriggerChunk}
}

func (o *IcebergOrder) Apply(t Trigger, at time.Time, exchangeOrderID string) {
	if !o.Status.Working() {
		return
	}
	o.FilledSize = math.Min(o.Size, o.FilledSize+t.Size)
	o.RemainingSize = math.Max(0, o.RemainingSize-t.Size)
	o.ChunksFilled++
	if o.RemainingSize <= sizeEpsilon {
		o.RemainingSize = 0
		o.CurrentChunkSize = 0
		o.fill(at, exchangeOrderID)
		return
	}
	o.addExchangeOrder(exchangeOrderID)
	o.Status = OrderPartiallyFilled
	o.CurrentChunkSize = math.Min(o.VisibleSize, o.RemainingSize)
}

func (o *IcebergOrder) Record() OrderRecord {
	return newRecord(o.OrderBase, o.IcebergState)
}

func (*IcebergOrder) advancedOrder() {}
