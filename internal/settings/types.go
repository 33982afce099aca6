// Package settings holds the nested trading configuration tree, the store
// that mutates it through dotted paths, and the preset system layered on
// top. The tree is a pure value object: every field is a primitive or a
// nested struct of primitives, so a plain struct assignment is a deep copy
// and no clone helper is needed.
package settings

import "encoding/json"

// TradingSettings is the full user-configurable configuration tree. Every
// leaf must resolve to a defined default after construction; defaults come
// from DefaultSettings and never change at runtime.
type TradingSettings struct {
	Core          CoreSettings         `json:"core"`
	Indicators    IndicatorSettings    `json:"indicators"`
	Levels        LevelSettings        `json:"levels"`
	Greeks        GreekSettings        `json:"greeks"`
	Signals       SignalSettings       `json:"signals"`
	Backtest      BacktestSettings     `json:"backtest"`
	Dashboard     DashboardSettings    `json:"dashboard"`
	Notifications NotificationSettings `json:"notifications"`
	Broker        BrokerSettings       `json:"broker"`
}

// CoreSettings covers symbol, direction and risk basics
type CoreSettings struct {
	DefaultSymbol     string  `json:"defaultSymbol"`
	DefaultTimeframe  string  `json:"defaultTimeframe"`
	TradeDirection    string  `json:"tradeDirection"`  // "long", "short" or "both"
	StrikeSelection   string  `json:"strikeSelection"` // "ATM", "ITM" or "OTM"
	RiskRewardRatio   float64 `json:"riskRewardRatio"`
	RiskPerTrade      float64 `json:"riskPerTrade"`
	MaxOpenPositions  int     `json:"maxOpenPositions"`
	CapitalAllocation float64 `json:"capitalAllocation"` // Percent of capital per trade
	PaperTrading      bool    `json:"paperTrading"`
}

// LineStyle is the shared style triple for chart overlays
type LineStyle struct {
	Color     string `json:"color"`
	Thickness int    `json:"thickness"`
	Style     string `json:"style"` // "solid", "dashed" or "dotted"
}

// OverlaySettings is an on/off overlay with a style triple
type OverlaySettings struct {
	Enabled bool      `json:"enabled"`
	Style   LineStyle `json:"style"`
}

// EMASettings groups the three EMA overlays
type EMASettings struct {
	EMA9  OverlaySettings `json:"ema9"`
	EMA21 OverlaySettings `json:"ema21"`
	EMA50 OverlaySettings `json:"ema50"`
}

// RSISettings configures the RSI pane
type RSISettings struct {
	Enabled bool      `json:"enabled"`
	Period  int       `json:"period"`
	Style   LineStyle `json:"style"`
}

// StochasticSettings configures the stochastic oscillator pane
type StochasticSettings struct {
	Enabled bool      `json:"enabled"`
	KPeriod int       `json:"kPeriod"`
	DPeriod int       `json:"dPeriod"`
	Style   LineStyle `json:"style"`
}

// ATRSettings configures the average true range readout
type ATRSettings struct {
	Enabled bool `json:"enabled"`
	Period  int  `json:"period"`
}

// VolumeSettings configures the volume histogram and its moving average
type VolumeSettings struct {
	Enabled  bool `json:"enabled"`
	MAPeriod int  `json:"maPeriod"`
}

// IndicatorSettings groups all chart indicator preferences
type IndicatorSettings struct {
	EMA        EMASettings        `json:"ema"`
	VWAP       OverlaySettings    `json:"vwap"`
	RSI        RSISettings        `json:"rsi"`
	Stochastic StochasticSettings `json:"stochastic"`
	ATR        ATRSettings        `json:"atr"`
	Volume     VolumeSettings     `json:"volume"`
}

// LevelSettings controls CPR and pivot level overlays
type LevelSettings struct {
	ShowDaily          bool      `json:"showDaily"`
	ShowWeekly         bool      `json:"showWeekly"`
	ShowMonthly        bool      `json:"showMonthly"`
	ShowPivots         bool      `json:"showPivots"`
	HighlightNarrowCPR bool      `json:"highlightNarrowCPR"`
	DailyStyle         LineStyle `json:"dailyStyle"`
	WeeklyStyle        LineStyle `json:"weeklyStyle"`
	MonthlyStyle       LineStyle `json:"monthlyStyle"`
}

// GreekSettings controls the option Greeks panel
type GreekSettings struct {
	ShowDelta       bool    `json:"showDelta"`
	ShowGamma       bool    `json:"showGamma"`
	ShowTheta       bool    `json:"showTheta"`
	ShowVega        bool    `json:"showVega"`
	ShowRho         bool    `json:"showRho"`
	ShowIV          bool    `json:"showIV"`
	RiskFreeRate    float64 `json:"riskFreeRate"`
	RefreshInterval int     `json:"refreshInterval"` // Seconds
}

// SignalSettings controls signal generation thresholds
type SignalSettings struct {
	Enabled         bool    `json:"enabled"`
	RSIOverbought   float64 `json:"rsiOverbought"`
	RSIOversold     float64 `json:"rsiOversold"`
	MinConfidence   float64 `json:"minConfidence"`
	StopLossPercent float64 `json:"stopLossPercent"`
	TargetPercent   float64 `json:"targetPercent"`
	CooldownSeconds int     `json:"cooldownSeconds"`
}

// BacktestSettings holds backtest form defaults
type BacktestSettings struct {
	DefaultPeriodDays int     `json:"defaultPeriodDays"`
	InitialCapital    float64 `json:"initialCapital"`
	PositionSize      float64 `json:"positionSize"` // Percent of equity per trade
	CommissionPercent float64 `json:"commissionPercent"`
	SlippagePercent   float64 `json:"slippagePercent"`
}

// DashboardSettings holds chart and layout preferences
type DashboardSettings struct {
	Theme           string `json:"theme"`
	ChartType       string `json:"chartType"` // "candlestick" or "line"
	ShowVolume      bool   `json:"showVolume"`
	ShowGrid        bool   `json:"showGrid"`
	AutoRefresh     bool   `json:"autoRefresh"`
	RefreshInterval int    `json:"refreshInterval"` // Seconds
	CandleLimit     int    `json:"candleLimit"`
}

// NotificationSettings controls alert delivery
type NotificationSettings struct {
	SignalAlerts       bool    `json:"signalAlerts"`
	PriceAlerts        bool    `json:"priceAlerts"`
	SoundEnabled       bool    `json:"soundEnabled"`
	MinAlertConfidence float64 `json:"minAlertConfidence"`
}

// BrokerSettings holds broker order preferences. Credentials are not part
// of the tree; they live in Vault.
type BrokerSettings struct {
	Provider    string `json:"provider"` // "paper", "zerodha" or "dhan"
	AutoConnect bool   `json:"autoConnect"`
	OrderType   string `json:"orderType"`   // "MARKET" or "LIMIT"
	ProductType string `json:"productType"` // "MIS" or "NRML"
	LotSize     int    `json:"lotSize"`
}

// DefaultSettings returns the static default configuration tree
func DefaultSettings() TradingSettings {
	return TradingSettings{
		Core: CoreSettings{
			DefaultSymbol:     "NIFTY",
			DefaultTimeframe:  "5m",
			TradeDirection:    "both",
			StrikeSelection:   "ATM",
			RiskRewardRatio:   2.0,
			RiskPerTrade:      1000,
			MaxOpenPositions:  3,
			CapitalAllocation: 25,
			PaperTrading:      true,
		},
		Indicators: IndicatorSettings{
			EMA: EMASettings{
				EMA9: OverlaySettings{
					Enabled: true,
					Style:   LineStyle{Color: "#f59e0b", Thickness: 1, Style: "solid"},
				},
				EMA21: OverlaySettings{
					Enabled: true,
					Style:   LineStyle{Color: "#3b82f6", Thickness: 1, Style: "solid"},
				},
				EMA50: OverlaySettings{
					Enabled: false,
					Style:   LineStyle{Color: "#8b5cf6", Thickness: 1, Style: "solid"},
				},
			},
			VWAP: OverlaySettings{
				Enabled: true,
				Style:   LineStyle{Color: "#ec4899", Thickness: 2, Style: "dashed"},
			},
			RSI: RSISettings{
				Enabled: true,
				Period:  14,
				Style:   LineStyle{Color: "#a855f7", Thickness: 1, Style: "solid"},
			},
			Stochastic: StochasticSettings{
				Enabled: false,
				KPeriod: 14,
				DPeriod: 3,
				Style:   LineStyle{Color: "#14b8a6", Thickness: 1, Style: "solid"},
			},
			ATR: ATRSettings{
				Enabled: true,
				Period:  14,
			},
			Volume: VolumeSettings{
				Enabled:  true,
				MAPeriod: 20,
			},
		},
		Levels: LevelSettings{
			ShowDaily:          true,
			ShowWeekly:         true,
			ShowMonthly:        false,
			ShowPivots:         true,
			HighlightNarrowCPR: true,
			DailyStyle:         LineStyle{Color: "#22c55e", Thickness: 1, Style: "solid"},
			WeeklyStyle:        LineStyle{Color: "#eab308", Thickness: 1, Style: "dashed"},
			MonthlyStyle:       LineStyle{Color: "#ef4444", Thickness: 1, Style: "dotted"},
		},
		Greeks: GreekSettings{
			ShowDelta:       true,
			ShowGamma:       true,
			ShowTheta:       true,
			ShowVega:        true,
			ShowRho:         false,
			ShowIV:          true,
			RiskFreeRate:    0.065,
			RefreshInterval: 30,
		},
		Signals: SignalSettings{
			Enabled:         true,
			RSIOverbought:   70,
			RSIOversold:     30,
			MinConfidence:   0.3,
			StopLossPercent: 1.0,
			TargetPercent:   1.0,
			CooldownSeconds: 300,
		},
		Backtest: BacktestSettings{
			DefaultPeriodDays: 30,
			InitialCapital:    100000,
			PositionSize:      10,
			CommissionPercent: 0.03,
			SlippagePercent:   0.05,
		},
		Dashboard: DashboardSettings{
			Theme:           "dark",
			ChartType:       "candlestick",
			ShowVolume:      true,
			ShowGrid:        true,
			AutoRefresh:     true,
			RefreshInterval: 5,
			CandleLimit:     100,
		},
		Notifications: NotificationSettings{
			SignalAlerts:       true,
			PriceAlerts:        false,
			SoundEnabled:       false,
			MinAlertConfidence: 0.5,
		},
		Broker: BrokerSettings{
			Provider:    "paper",
			AutoConnect: false,
			OrderType:   "MARKET",
			ProductType: "MIS",
			LotSize:     50,
		},
	}
}

// Preset is a named, partial overlay of the configuration tree keyed by
// top-level section. SavePreset captures complete sections; partial
// sections can arrive through externally written envelopes.
type Preset struct {
	ID          string                     `json:"id"`
	Name        string                     `json:"name"`
	Description string                     `json:"description"`
	Settings    map[string]json.RawMessage `json:"settings"`
}

func (p Preset) clone() Preset {
	out := p
	if p.Settings != nil {
		out.Settings = make(map[string]json.RawMessage, len(p.Settings))
		for section, raw := range p.Settings {
			copied := make(json.RawMessage, len(raw))
			copy(copied, raw)
			out.Settings[section] = copied
		}
	}
	return out
}

func clonePresets(presets []Preset) []Preset {
	out := make([]Preset, len(presets))
	for i, p := range presets {
		out[i] = p.clone()
	}
	return out
}

// State is the store snapshot returned to API callers. ActivePresetID is
// a pointer so "no active preset" serializes as null.
type State struct {
	Settings       TradingSettings `json:"settings"`
	Presets        []Preset        `json:"presets"`
	ActivePresetID *string         `json:"activePresetId"`
	UnsavedChanges bool            `json:"unsavedChanges"`
}

// persistedState is the durable envelope. UI fields (settingsOpen,
// activeCategory, unsavedChanges) are deliberately absent and
// re-initialize fresh on every load.
type persistedState struct {
	Settings       TradingSettings `json:"settings"`
	Presets        []Preset        `json:"presets"`
	ActivePresetID *string         `json:"activePresetId"`
}

func nullableID(id string) *string {
	if id == "" {
		return nil
	}
	out := id
	return &out
}
