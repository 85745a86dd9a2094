package domain

import (
	"fmt"
	"time"
)

// GridMode selects which sides a grid ladder trades.
type GridMode string

const (
	GridBoth  GridMode = "BOTH"
	GridLong  GridMode = "LONG"
	GridShort GridMode = "SHORT"
)

// StrategyStatus is shared by grid and DCA schedulers.
type StrategyStatus string

const (
	StrategyActive    StrategyStatus = "active"
	StrategyPaused    StrategyStatus = "paused"
	StrategyStopped   StrategyStatus = "stopped"
	StrategyCompleted StrategyStatus = "completed"
)

// GridLevel is one rung of the ladder. A filled level is never reopened.
type GridLevel struct {
	Index       int        `json:"index"`
	Price       float64    `json:"price"`
	Side        OrderSide  `json:"side"`
	Armed       bool       `json:"armed"`
	Filled      bool       `json:"filled"`
	FilledAt    *time.Time `json:"filledAt,omitempty"`
	FilledPrice float64    `json:"filledPrice,omitempty"`
	OrderID     string     `json:"orderId,omitempty"`
}

// GridStrategy is a ladder of buy/sell levels between LowerPrice and UpperPrice.
type GridStrategy struct {
	ID         string         `json:"id"`
	Pair       string         `json:"pair"`
	LowerPrice float64        `json:"lowerPrice"`
	UpperPrice float64        `json:"upperPrice"`
	GridCount  int            `json:"gridCount"`
	OrderSize  float64        `json:"orderSize"`
	Side       GridMode       `json:"side"`
	Spacing    float64        `json:"spacing"`
	Levels     []GridLevel    `json:"levels"`
	Status     StrategyStatus `json:"status"`
	TotalFills int            `json:"totalFills"`
	CreatedAt  time.Time      `json:"createdAt"`
	UpdatedAt  time.Time      `json:"updatedAt"`
}

// NewGridStrategy builds the ladder: gridCount+1 prices splitting the range into
// gridCount equal segments. In BOTH mode every price except the top carries a BUY
// level and every price except the bottom carries a SELL level.
func NewGridStrategy(id, pair string, lower, upper float64, gridCount int, orderSize float64, mode GridMode, now time.Time) (*GridStrategy, error) {
	if pair == "" {
		return nil, NewValidationError("pair", "is required")
	}
	if lower <= 0 || upper <= lower {
		return nil, NewValidationError("upper_price", "must be above lower_price (%.8f)", lower)
	}
	if gridCount < 1 {
		return nil, NewValidationError("grid_count", "must be at least 1")
	}
	if orderSize <= 0 {
		return nil, NewValidationError("order_size", "must be positive")
	}
	if mode == "" {
		mode = GridBoth
	}
	if mode != GridBoth && mode != GridLong && mode != GridShort {
		return nil, NewValidationError("side", "must be BOTH, LONG or SHORT, got %q", mode)
	}

	g := &GridStrategy{
		ID:         id,
		Pair:       pair,
		LowerPrice: lower,
		UpperPrice: upper,
		GridCount:  gridCount,
		OrderSize:  orderSize,
		Side:       mode,
		Spacing:    (upper - lower) / float64(gridCount),
		Status:     StrategyActive,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	for i := 0; i <= gridCount; i++ {
		price := g.PriceAt(i)
		switch mode {
		case GridBoth:
			if i < gridCount {
				g.Levels = append(g.Levels, GridLevel{Index: i, Price: price, Side: Buy})
			}
			if i > 0 {
				g.Levels = append(g.Levels, GridLevel{Index: i, Price: price, Side: Sell})
			}
		case GridLong:
			g.Levels = append(g.Levels, GridLevel{Index: i, Price: price, Side: Buy})
		case GridShort:
			g.Levels = append(g.Levels, GridLevel{Index: i, Price: price, Side: Sell})
		}
	}
	return g, nil
}

// PriceAt returns the price of ladder index i.
func (g *GridStrategy) PriceAt(i int) float64 {
	if i == g.GridCount {
		return g.UpperPrice
	}
	return g.LowerPrice + float64(i)*g.Spacing
}

// ArmAround arms BUY levels below price and SELL levels above it.
func (g *GridStrategy) ArmAround(price float64) {
	for i := range g.Levels {
		l := &g.Levels[i]
		if l.Filled {
			continue
		}
		if (l.Side == Buy && l.Price < price) || (l.Side == Sell && l.Price > price) {
			l.Armed = true
		}
	}
}

// Crossed returns the indexes into Levels of armed, unfilled levels crossed by price.
func (g *GridStrategy) Crossed(price float64) []int {
	var out []int
	for i, l := range g.Levels {
		if !l.Armed || l.Filled {
			continue
		}
		if (l.Side == Buy && price <= l.Price) || (l.Side == Sell && price >= l.Price) {
			out = append(out, i)
		}
	}
	return out
}

// MarkFilled records a fill on Levels[pos] and arms the counter level one spacing
// further out on the opposite side. It returns the counter level, if any.
func (g *GridStrategy) MarkFilled(pos int, price float64, at time.Time, orderID string) (*GridLevel, error) {
	if pos < 0 || pos >= len(g.Levels) {
		return nil, fmt.Errorf("grid %s level %d: %w", g.ID, pos, ErrNotFound)
	}
	l := &g.Levels[pos]
	if l.Filled {
		return nil, fmt.Errorf("grid %s level %d already filled: %w", g.ID, pos, ErrInvalidTransition)
	}
	l.Filled = true
	l.Armed = false
	l.FilledAt = &at
	l.FilledPrice = price
	l.OrderID = orderID
	g.TotalFills++
	g.UpdatedAt = at

	counterIndex, counterSide := l.Index+1, Sell
	if l.Side == Sell {
		counterIndex, counterSide = l.Index-1, Buy
	}
	for i := range g.Levels {
		c := &g.Levels[i]
		if c.Index == counterIndex && c.Side == counterSide && !c.Filled {
			c.Armed = true
			return c, nil
		}
	}
	return nil, nil
}

// NextBuyLevel returns the closest unfilled BUY level strictly below price.
func (g *GridStrategy) NextBuyLevel(price float64) *GridLevel {
	var best *GridLevel
	for i := range g.Levels {
		l := &g.Levels[i]
		if l.Side != Buy || l.Filled || l.Price >= price {
			continue
		}
		if best == nil || l.Price > best.Price {
			best = l
		}
	}
	return best
}

// NextSellLevel returns the closest unfilled SELL level strictly above price.
func (g *GridStrategy) NextSellLevel(price float64) *GridLevel {
	var best *GridLevel
	for i := range g.Levels {
		l := &g.Levels[i]
		if l.Side != Sell || l.Filled || l.Price <= price {
			continue
		}
		if best == nil || l.Price < best.Price {
			best = l
		}
	}
	return best
}

// Clone returns a deep copy safe to hand out of the owning manager.
func (g *GridStrategy) Clone() *GridStrategy {
	c := *g
	c.Levels = append([]GridLevel(nil), g.Levels...)
	return &c
}
