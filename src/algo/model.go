package algo

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"ohmycoins/src/model"
)

const (
	ActionBuy  = "buy"
	ActionSell = "sell"
	ActionHold = "hold"
)

// Signal is one trading decision produced by a model evaluation.
type Signal struct {
	Action     string          `json:"action"`
	Coin       string          `json:"coin"`
	Quantity   decimal.Decimal `json:"quantity"`
	Confidence float64         `json:"confidence"`
	Reason     string          `json:"reason"`
}

// TradeModel turns recent price history into signals. History arrives
// oldest first.
type TradeModel interface {
	Coin() string
	LookbackBars() int
	Evaluate(history []model.PricePoint) (Signal, error)
}

// modelParams is the JSON shape stored in Algorithm.Parameters. Fields not
// used by a model type are ignored.
type modelParams struct {
	Coin        string          `json:"coin"`
	Quantity    decimal.Decimal `json:"quantity"`
	ShortWindow int             `json:"short_window"`
	LongWindow  int             `json:"long_window"`
	Lookback    int             `json:"lookback"`
	Threshold   float64         `json:"threshold"`
}

// BuildModel constructs the model for an algorithm definition. Callers
// cache the result per algorithm version, so an artifact file is read once
// per definition edit.
func BuildModel(a *model.Algorithm) (TradeModel, error) {
	if a.ModelType == model.ModelTypeArtifact {
		return loadArtifact(a)
	}

	var params modelParams
	if a.Parameters != "" {
		if err := json.Unmarshal([]byte(a.Parameters), &params); err != nil {
			return nil, fmt.Errorf("parse parameters for algorithm %d: %w", a.ID, err)
		}
	}
	if params.Coin == "" {
		return nil, fmt.Errorf("algorithm %d has no coin configured", a.ID)
	}
	if !params.Quantity.IsPositive() {
		return nil, fmt.Errorf("algorithm %d needs a positive quantity", a.ID)
	}

	switch a.ModelType {
	case model.ModelTypeMACrossover:
		return newMACrossover(params)
	case model.ModelTypeMomentum:
		return newMomentum(params)
	default:
		return nil, fmt.Errorf("unsupported model type %q", a.ModelType)
	}
}

// artifactFile is the JSON document an offline training run exports: one of
// the built-in model types plus its fitted parameters.
type artifactFile struct {
	ModelType  string          `json:"model_type"`
	Parameters json.RawMessage `json:"parameters"`
}

func loadArtifact(a *model.Algorithm) (TradeModel, error) {
	if a.ArtifactPath == "" {
		return nil, fmt.Errorf("algorithm %d has no artifact path", a.ID)
	}

	raw, err := os.ReadFile(a.ArtifactPath)
	if err != nil {
		return nil, fmt.Errorf("read artifact for algorithm %d: %w", a.ID, err)
	}

	var artifact artifactFile
	if err := json.Unmarshal(raw, &artifact); err != nil {
		return nil, fmt.Errorf("parse artifact for algorithm %d: %w", a.ID, err)
	}
	if artifact.ModelType == "" || artifact.ModelType == model.ModelTypeArtifact {
		return nil, fmt.Errorf("artifact for algorithm %d names no runnable model type", a.ID)
	}

	inner := &model.Algorithm{
		ID:         a.ID,
		ModelType:  artifact.ModelType,
		Parameters: string(artifact.Parameters),
	}
	return BuildModel(inner)
}

// maCrossover goes long when the short moving average crosses above the
// long one and flat when it crosses below.
type maCrossover struct {
	coin     string
	quantity decimal.Decimal
	short    int
	long     int
}

func newMACrossover(p modelParams) (*maCrossover, error) {
	short, long := p.ShortWindow, p.LongWindow
	if short <= 0 {
		short = 12
	}
	if long <= 0 {
		long = 48
	}
	if short >= long {
		return nil, fmt.Errorf("short window %d must be below long window %d", short, long)
	}
	return &maCrossover{coin: p.Coin, quantity: p.Quantity, short: short, long: long}, nil
}

func (m *maCrossover) Coin() string { return m.coin }
func (m *maCrossover) LookbackBars() int { return m.long + 1 }

func (m *maCrossover) Evaluate(history []model.PricePoint) (Signal, error) {
	if len(history) < m.long+1 {
		return Signal{Action: ActionHold, Coin: m.coin, Reason: "not enough history"}, nil
	}

	shortNow := movingAverage(history, len(history), m.short)
	longNow := movingAverage(history, len(history), m.long)
	shortPrev := movingAverage(history, len(history)-1, m.short)
	longPrev := movingAverage(history, len(history)-1, m.long)

	switch {
	case shortPrev.LessThanOrEqual(longPrev) && shortNow.GreaterThan(longNow):
		return Signal{
			Action:     ActionBuy,
			Coin:       m.coin,
			Quantity:   m.quantity,
			Confidence: crossoverConfidence(shortNow, longNow),
			Reason:     fmt.Sprintf("MA%d crossed above MA%d", m.short, m.long),
		}, nil
	case shortPrev.GreaterThanOrEqual(longPrev) && shortNow.LessThan(longNow):
		return Signal{
			Action:     ActionSell,
			Coin:       m.coin,
			Quantity:   m.quantity,
			Confidence: crossoverConfidence(longNow, shortNow),
			Reason:     fmt.Sprintf("MA%d crossed below MA%d", m.short, m.long),
		}, nil
	}
	return Signal{Action: ActionHold, Coin: m.coin, Reason: "no crossover"}, nil
}

// momentum buys when the return over the lookback exceeds the threshold
// and sells on the mirrored drop.
type momentum struct {
	coin      string
	quantity  decimal.Decimal
	lookback  int
	threshold decimal.Decimal
}

func newMomentum(p modelParams) (*momentum, error) {
	lookback := p.Lookback
	if lookback <= 0 {
		lookback = 12
	}
	threshold := p.Threshold
	if threshold <= 0 {
		threshold = 0.02
	}
	return &momentum{
		coin:      p.Coin,
		quantity:  p.Quantity,
		lookback:  lookback,
		threshold: decimal.NewFromFloat(threshold),
	}, nil
}

func (m *momentum) Coin() string { return m.coin }
func (m *momentum) LookbackBars() int { return m.lookback + 1 }

func (m *momentum) Evaluate(history []model.PricePoint) (Signal, error) {
	if len(history) < m.lookback+1 {
		return Signal{Action: ActionHold, Coin: m.coin, Reason: "not enough history"}, nil
	}

	last := history[len(history)-1].Last
	base := history[len(history)-1-m.lookback].Last
	if !base.IsPositive() {
		return Signal{Action: ActionHold, Coin: m.coin, Reason: "invalid base price"}, nil
	}

	ret := last.Sub(base).Div(base)
	conf, _ := ret.Abs().Div(m.threshold).Float64()
	if conf > 1 {
		conf = 1
	}

	switch {
	case ret.GreaterThanOrEqual(m.threshold):
		return Signal{
			Action:     ActionBuy,
			Coin:       m.coin,
			Quantity:   m.quantity,
			Confidence: conf,
			Reason:     fmt.Sprintf("return %s over %d bars above threshold", ret.StringFixed(4), m.lookback),
		}, nil
	case ret.LessThanOrEqual(m.threshold.Neg()):
		return Signal{
			Action:     ActionSell,
			Coin:       m.coin,
			Quantity:   m.quantity,
			Confidence: conf,
			Reason:     fmt.Sprintf("return %s over %d bars below threshold", ret.StringFixed(4), m.lookback),
		}, nil
	}
	return Signal{Action: ActionHold, Coin: m.coin, Reason: "momentum within threshold"}, nil
}

// movingAverage averages the window of Last prices ending at end (exclusive).
func movingAverage(history []model.PricePoint, end, window int) decimal.Decimal {
	sum := decimal.Zero
	for i := end - window; i < end; i++ {
		sum = sum.Add(history[i].Last)
	}
	return sum.Div(decimal.NewFromInt(int64(window)))
}

func crossoverConfidence(above, below decimal.Decimal) float64 {
	if !below.IsPositive() {
		return 0
	}
	spread, _ := above.Sub(below).Div(below).Float64()
	conf := spread * 100
	if conf > 1 {
		conf = 1
	}
	if conf < 0 {
		conf = 0
	}
	return conf
}
