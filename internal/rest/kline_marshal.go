package rest

import "encoding/json"

// MarshalJSON renders a kline as Binance's standard 12-field array, decimals
// as strings (spec.md §6.1). Taker-buy-volume fields are not tracked by the
// in-memory trade tape and are reported as zero; the trailing 12th field is
// Binance's own documented "unused, ignore" slot.
func (k klineRow) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{
		k.OpenTime,
		k.Open.String(),
		k.High.String(),
		k.Low.String(),
		k.Close.String(),
		k.Volume.String(),
		k.CloseTime,
		k.QuoteVolume.String(),
		k.TradeCount,
		"0",
		"0",
		"0",
	})
}
