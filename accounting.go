package llmdispatch

// Price is the cost per 1000 units for one bucket.
type Price struct {
	Prompt     float64
	Completion float64
}

// defaultPrices is the static per-bucket price table. BucketAll and
// BucketDefault are zero-cost.
var defaultPrices = [numBuckets]Price{
	BucketGPT35_4K:  {Prompt: 0.0015, Completion: 0.002},
	BucketGPT35_16K: {Prompt: 0.003, Completion: 0.004},
	BucketGPT4_8K:   {Prompt: 0.03, Completion: 0.06},
	BucketGPT4_32K:  {Prompt: 0.06, Completion: 0.12},
	BucketGPT4_128K: {Prompt: 0.01, Completion: 0.03},
}

// PriceFor returns the compiled-in price of a bucket.
func PriceFor(b Bucket) Price {
	if b >= numBuckets {
		return Price{}
	}
	return defaultPrices[b]
}

// Tokens tracks prompt and completion units of one request and the cost
// derived from them.
type Tokens struct {
	Bucket          Bucket  `json:"bucket"`
	PromptUnits     int64   `json:"prompt_units"`
	CompletionUnits int64   `json:"completion_units"`
	Cost            float64 `json:"cost"`
}

// RecordPromptUnits adds n prompt units. Negative values are ignored.
func (t *Tokens) RecordPromptUnits(n int64) {
	if n > 0 {
		t.PromptUnits += n
	}
}

// RecordCompletionUnit counts one streamed chunk as one completion unit.
func (t *Tokens) RecordCompletionUnit() {
	t.CompletionUnits++
}

// CurrentCost computes the cost of the units recorded so far without
// storing it.
func (t Tokens) CurrentCost() float64 {
	p := PriceFor(t.Bucket)
	return (p.Prompt*float64(t.PromptUnits) + p.Completion*float64(t.CompletionUnits)) / 1000
}

// FinalizeCost computes and stores the cost. Calling it again without
// recording more units yields the same value.
func (t *Tokens) FinalizeCost() float64 {
	t.Cost = t.CurrentCost()
	return t.Cost
}

// Add merges two records by field-wise summation. The receiver's bucket
// is kept.
func (t Tokens) Add(o Tokens) Tokens {
	return Tokens{
		Bucket:          t.Bucket,
		PromptUnits:     t.PromptUnits + o.PromptUnits,
		CompletionUnits: t.CompletionUnits + o.CompletionUnits,
		Cost:            t.Cost + o.Cost,
	}
}
