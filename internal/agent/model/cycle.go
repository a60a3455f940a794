package model

// ReadingRequest is the input of one cycle.
type ReadingRequest struct {
	OrderText    string `json:"order_text"`
	Topic        string `json:"topic"`
	ClientEmail  string `json:"client_email,omitempty"`
	TargetLength int    `json:"target_length"`
}

// CycleResult is what a completed cycle hands back to its caller.
type CycleResult struct {
	Draft           string      `json:"draft"`
	DeliveryMessage string      `json:"delivery_message"`
	Usage           UsageRecord `json:"usage"`
	ClientName      string      `json:"client_name"`
	MemoryKey       string      `json:"memory_key"`
	Filename        string      `json:"filename"`
}

// ProgressFunc receives human readable status lines. It must not block.
type ProgressFunc func(message string)

// ChunkFunc receives raw text chunks of a streamed draft.
type ChunkFunc func(chunk string)

// Notify calls fn when it is set.
func (fn ProgressFunc) Notify(message string) {
	if fn != nil {
		fn(message)
	}
}
