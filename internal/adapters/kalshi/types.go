package kalshi

// apiMarket is a market as returned by GET /markets and GET /markets/{ticker}.
// Prices are integer cents.
type apiMarket struct {
	Ticker      string `json:"ticker"`
	EventTicker string `json:"event_ticker"`
	Title       string `json:"title"`
	YesSubTitle string `json:"yes_sub_title"`
	Status      string `json:"status"`
	Result      string `json:"result"`
	YesBid      *int   `json:"yes_bid"`
	YesAsk      *int   `json:"yes_ask"`
	Volume      int64  `json:"volume"`
}

type marketsResponse struct {
	Markets []apiMarket `json:"markets"`
	Cursor  string      `json:"cursor"`
}

type marketResponse struct {
	Market apiMarket `json:"market"`
}

// apiPosition is one entry of market_positions. Position is signed:
// positive holds YES, negative holds NO.
type apiPosition struct {
	Ticker                string `json:"ticker"`
	EventTicker           string `json:"event_ticker"`
	Position              int    `json:"position"`
	MarketExposure        int64  `json:"market_exposure"`
	MarketExposureDollars string `json:"market_exposure_dollars"`
	TotalTraded           int64  `json:"total_traded"`
	TotalTradedDollars    string `json:"total_traded_dollars"`
}

type positionsResponse struct {
	MarketPositions []apiPosition `json:"market_positions"`
	Cursor          string        `json:"cursor"`
}

type balanceResponse struct {
	Balance int64 `json:"balance"`
}

type orderRequest struct {
	Ticker        string `json:"ticker"`
	Action        string `json:"action"`
	Side          string `json:"side"`
	Count         int    `json:"count"`
	Type          string `json:"type"`
	YesPrice      int    `json:"yes_price,omitempty"`
	NoPrice       int    `json:"no_price,omitempty"`
	ClientOrderID string `json:"client_order_id"`
}

type apiOrder struct {
	OrderID        string `json:"order_id"`
	Status         string `json:"status"`
	YesPrice       int    `json:"yes_price"`
	NoPrice        int    `json:"no_price"`
	FillCount      int    `json:"fill_count"`
	RemainingCount int    `json:"remaining_count"`
}

type orderResponse struct {
	Order apiOrder `json:"order"`
}
