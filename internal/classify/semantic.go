package classify

import (
	"context"
)

// Content is the email material given to the semantic classifier
type Content struct {
	Subject     string
	Body        string
	SenderEmail string
	SenderName  string
}

// Result is the semantic classifier's raw answer. Confidence is the model's
// self-reported certainty; callers must treat values outside [0,1] as
// malformed and clamp them.
type Result struct {
	IsPriceChange bool
	Confidence    float64
	Reasoning     string
}

// Semantic is the authoritative content classifier. Implementations may call
// an external model; any failure must surface as an error so the gate can
// degrade safely rather than guess.
type Semantic interface {
	Classify(ctx context.Context, content Content) (Result, error)
}
