package generation

import (
	"context"
	"errors"
	"testing"
	"time"
)

// fakeProvider fails failUntil times, then succeeds. alwaysTerminal makes
// every failure non-retryable.
type fakeProvider struct {
	id             string
	calls          int
	failUntil      int
	alwaysTerminal bool
	alwaysFail     bool
}

func (f *fakeProvider) ModelID() string { return f.id }

func (f *fakeProvider) Generate(ctx context.Context, req Request) (Artifact, error) {
	f.calls++
	if f.alwaysFail || f.calls <= f.failUntil {
		err := errors.New(f.id + " unavailable")
		if f.alwaysTerminal {
			return Artifact{}, Terminal(err)
		}
		return Artifact{}, err
	}
	return Artifact{Kind: ArtifactText, Text: "from " + f.id, ModelID: f.id}, nil
}

func TestChain_PrimarySucceedsWithoutFallback(t *testing.T) {
	primary := &fakeProvider{id: "primary"}
	fallback := &fakeProvider{id: "fallback"}
	chain := &Chain{Op: "text", Strategies: []Strategy{
		{Name: "primary", Provider: primary, Policy: fastPolicy(3)},
		{Name: "fallback", Provider: fallback, Policy: fastPolicy(1)},
	}}

	result, err := chain.Run(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if result.Strategy != "primary" || result.FellBack {
		t.Errorf("result strategy = %s (fellBack=%v), want primary without fallback", result.Strategy, result.FellBack)
	}
	if fallback.calls != 0 {
		t.Errorf("fallback called %d times, want 0", fallback.calls)
	}
	if result.Attempts != 1 {
		t.Errorf("attempts = %d, want 1", result.Attempts)
	}
}

func TestChain_FallsBackAfterPrimaryExhausts(t *testing.T) {
	primary := &fakeProvider{id: "primary", alwaysFail: true}
	fallback := &fakeProvider{id: "fallback"}
	chain := &Chain{Op: "video", Strategies: []Strategy{
		{Name: "primary", Provider: primary, Policy: fastPolicy(3)},
		{Name: "fallback", Provider: fallback, Policy: fastPolicy(1)},
	}}

	result, err := chain.Run(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if !result.FellBack || result.Strategy != "fallback" {
		t.Errorf("result = %s (fellBack=%v), want fallback", result.Strategy, result.FellBack)
	}
	if primary.calls != 3 {
		t.Errorf("primary called %d times, want its full 3 attempts", primary.calls)
	}
	// The fallback gets exactly one run under its own policy, not the
	// primary's attempt count.
	if fallback.calls != 1 {
		t.Errorf("fallback called %d times, want 1", fallback.calls)
	}
	if result.Attempts != 4 {
		t.Errorf("total attempts = %d, want 4 (3 primary + 1 fallback)", result.Attempts)
	}
}

func TestChain_AttemptsBoundedBySumNotProduct(t *testing.T) {
	a := &fakeProvider{id: "a", alwaysFail: true}
	b := &fakeProvider{id: "b", alwaysFail: true}
	c := &fakeProvider{id: "c", alwaysFail: true}
	chain := &Chain{Op: "image", Strategies: []Strategy{
		{Name: "a", Provider: a, Policy: fastPolicy(3)},
		{Name: "b", Provider: b, Policy: fastPolicy(2)},
		{Name: "c", Provider: c, Policy: fastPolicy(1)},
	}}

	_, err := chain.Run(context.Background(), Request{Prompt: "p"})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %T, want *ExhaustedError", err)
	}
	if total := a.calls + b.calls + c.calls; total != 6 {
		t.Errorf("total attempts = %d, want sum 6 (3+2+1), never the product", total)
	}
	if exhausted.Attempts != 6 {
		t.Errorf("ExhaustedError.Attempts = %d, want 6", exhausted.Attempts)
	}
}

func TestChain_TerminalPrimaryStillFallsBack(t *testing.T) {
	// A permanently rejected prompt on the premium model should still
	// reach the deterministic fallback rather than retrying the primary.
	primary := &fakeProvider{id: "primary", alwaysFail: true, alwaysTerminal: true}
	fallback := &fakeProvider{id: "fallback"}
	chain := &Chain{Op: "video", Strategies: []Strategy{
		{Name: "primary", Provider: primary, Policy: fastPolicy(3)},
		{Name: "fallback", Provider: fallback, Policy: fastPolicy(1)},
	}}

	result, err := chain.Run(context.Background(), Request{Prompt: "p"})
	if err != nil {
		t.Fatalf("Run() error: %v", err)
	}
	if primary.calls != 1 {
		t.Errorf("primary called %d times, want 1 for a terminal error", primary.calls)
	}
	if result.Strategy != "fallback" {
		t.Errorf("strategy = %s, want fallback", result.Strategy)
	}
}

func TestChain_EmptyChainErrors(t *testing.T) {
	chain := &Chain{Op: "text"}
	_, err := chain.Run(context.Background(), Request{Prompt: "p"})
	var exhausted *ExhaustedError
	if !errors.As(err, &exhausted) {
		t.Fatalf("error = %T, want *ExhaustedError", err)
	}
}

func TestSelectChain(t *testing.T) {
	text := &fakeProvider{id: "text-model"}
	img := &fakeProvider{id: "image-model"}
	video := &fakeProvider{id: "video-model"}
	placeholder := NewPlaceholderProvider()
	providers := ChainProviders{Text: text, Image: img, Video: video, Placeholder: placeholder}
	policy := fastPolicy(3)

	tests := []struct {
		name string
		op   string
		caps Capabilities
		want []string
	}{
		{
			name: "video with model configured",
			op:   "video",
			caps: Capabilities{VideoModel: true},
			want: []string{"video-model", "placeholder"},
		},
		{
			name: "video with no provider configured",
			op:   "video",
			caps: Capabilities{},
			want: []string{"placeholder"},
		},
		{
			name: "image with model configured",
			op:   "image",
			caps: Capabilities{ImageModel: true},
			want: []string{"image-model", "placeholder"},
		},
		{
			name: "text has no placeholder rung",
			op:   "text",
			caps: Capabilities{TextModel: true},
			want: []string{"text-model"},
		},
		{
			name: "text with no provider yields empty chain",
			op:   "text",
			caps: Capabilities{},
			want: nil,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chain := SelectChain(tt.op, tt.caps, providers, policy)
			var names []string
			for _, s := range chain.Strategies {
				names = append(names, s.Name)
			}
			if len(names) != len(tt.want) {
				t.Fatalf("strategies = %v, want %v", names, tt.want)
			}
			for i := range names {
				if names[i] != tt.want[i] {
					t.Errorf("strategy[%d] = %s, want %s", i, names[i], tt.want[i])
				}
			}
		})
	}
}

func TestSelectChain_FallbackIsSingleShot(t *testing.T) {
	providers := ChainProviders{Placeholder: NewPlaceholderProvider()}
	chain := SelectChain("video", Capabilities{}, providers, Policy{MaxAttempts: 3, BaseDelay: time.Second, BackoffMultiplier: 2})
	if len(chain.Strategies) != 1 {
		t.Fatalf("strategies = %d, want 1", len(chain.Strategies))
	}
	if chain.Strategies[0].Policy.MaxAttempts != 1 {
		t.Errorf("placeholder MaxAttempts = %d, want 1", chain.Strategies[0].Policy.MaxAttempts)
	}
}
