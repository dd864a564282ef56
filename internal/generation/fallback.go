package generation

import (
	"context"
	"fmt"
	"log"
)

// Strategy is one rung of a fallback chain: a provider plus the retry
// policy it runs under.
type Strategy struct {
	Name     string
	Provider Provider
	Policy   Policy
}

// Chain is an ordered list of strategies tried until one succeeds. Each
// strategy gets exactly one retry run; total attempts across the chain are
// bounded by the sum of the per-strategy MaxAttempts, never the product.
type Chain struct {
	Op         string
	Strategies []Strategy
}

// Result reports a successful chain run.
type Result struct {
	Artifact Artifact
	Strategy string
	Attempts int // total attempts across all strategies tried
	FellBack bool
}

// Run executes the chain. On success the Result says which strategy
// produced the artifact and how many attempts the whole chain consumed.
// On failure the error is the final strategy's *ExhaustedError.
func (c *Chain) Run(ctx context.Context, req Request) (Result, error) {
	if len(c.Strategies) == 0 {
		return Result{}, &ExhaustedError{Attempts: 0, Err: fmt.Errorf("no strategies configured for %s", c.Op)}
	}

	total := 0
	var lastErr error
	for i, strat := range c.Strategies {
		if i > 0 {
			log.Printf("[Fallback] %s: strategy %q exhausted, falling back to %q", c.Op, c.Strategies[i-1].Name, strat.Name)
		}

		artifact, attempts, err := Execute(ctx, strat.Policy, func(ctx context.Context) (Artifact, error) {
			return strat.Provider.Generate(ctx, req)
		})
		total += attempts

		if err == nil {
			return Result{
				Artifact: artifact,
				Strategy: strat.Name,
				Attempts: total,
				FellBack: i > 0,
			}, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	return Result{}, &ExhaustedError{Attempts: total, Err: lastErr}
}

// SelectChain builds the fallback chain for an operation from the
// configured capability set. Selection is explicit here so tests can
// simulate "no provider configured" deterministically instead of
// branching on environment variables at call sites.
func SelectChain(op string, caps Capabilities, providers ChainProviders, policy Policy) *Chain {
	singleShot := Policy{MaxAttempts: 1, BaseDelay: policy.BaseDelay, BackoffMultiplier: policy.BackoffMultiplier}

	var strategies []Strategy
	switch op {
	case "text":
		if caps.TextModel && providers.Text != nil {
			strategies = append(strategies, Strategy{Name: providers.Text.ModelID(), Provider: providers.Text, Policy: policy})
		}
	case "image":
		if caps.ImageModel && providers.Image != nil {
			strategies = append(strategies, Strategy{Name: providers.Image.ModelID(), Provider: providers.Image, Policy: policy})
		}
		if providers.Placeholder != nil {
			strategies = append(strategies, Strategy{Name: "placeholder", Provider: providers.Placeholder, Policy: singleShot})
		}
	case "video":
		if caps.VideoModel && providers.Video != nil {
			strategies = append(strategies, Strategy{Name: providers.Video.ModelID(), Provider: providers.Video, Policy: policy})
		}
		if providers.Placeholder != nil {
			strategies = append(strategies, Strategy{Name: "placeholder", Provider: providers.Placeholder, Policy: singleShot})
		}
	}

	return &Chain{Op: op, Strategies: strategies}
}

// ChainProviders holds the candidate providers SelectChain picks from.
type ChainProviders struct {
	Text        Provider
	Image       Provider
	Video       Provider
	Placeholder Provider
}
