package config

import (
	"context"
	"fmt"

	"goa.design/pulse/rmap"

	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/deterministic"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/llm"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/middleware"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/provider/anthropic"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/provider/bedrock"
	openaiprovider "github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/features/provider/openai"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/backend"
	"github.com/PMQ9/Intent-Segregation-AI-Cybersecurity-Architecture/runtime/ensemble"
)

// providerRetries is the SDK retry budget. Retries stay low so that the
// ensemble timeout, not the SDK, bounds a slow provider.
const providerRetries = 1

type (
	// Builder constructs backends from a Config.
	Builder struct {
		cfg    Config
		shared *rmap.Map

		openAI    func(BackendConfig) openaiprovider.ChatClient
		anthropic func(BackendConfig) anthropic.MessagesClient
		bedrock   func(BackendConfig, AWSCredentials) (bedrock.RuntimeClient, error)
	}

	// BuildOption configures a Builder.
	BuildOption func(*Builder)
)

// WithSharedBudgets coordinates provider rate limits across processes
// through m.
func WithSharedBudgets(m *rmap.Map) BuildOption {
	return func(b *Builder) { b.shared = m }
}

// NewBuilder returns a builder for cfg.
func NewBuilder(cfg Config, opts ...BuildOption) *Builder {
	b := &Builder{
		cfg: cfg,
		openAI: func(bc BackendConfig) openaiprovider.ChatClient {
			return openaiprovider.NewChatClient(openaiprovider.HTTPOptions{
				APIKey:     bc.APIKey,
				BaseURL:    bc.BaseURL,
				Timeout:    bc.Timeout,
				MaxRetries: providerRetries,
			})
		},
		anthropic: func(bc BackendConfig) anthropic.MessagesClient {
			return anthropic.NewMessagesClient(anthropic.HTTPOptions{
				APIKey:     bc.APIKey,
				BaseURL:    bc.BaseURL,
				Timeout:    bc.Timeout,
				MaxRetries: providerRetries,
			})
		},
		bedrock: func(bc BackendConfig, creds AWSCredentials) (bedrock.RuntimeClient, error) {
			rt, err := bedrock.NewRuntimeClient(bc.Region, bedrock.Credentials(creds))
			if err != nil {
				return nil, err
			}
			return rt, nil
		},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(b)
		}
	}
	return b
}

// Parsers builds the enabled intent parsers and the ensemble options
// carrying their timeouts.
func (b *Builder) Parsers(ctx context.Context) ([]backend.Backend, []ensemble.Option, error) {
	return b.build(ctx, b.cfg.Ensemble.Backends, false)
}

// Sentries builds the enabled vault sentries and the ensemble options
// carrying their timeouts.
func (b *Builder) Sentries(ctx context.Context) ([]backend.Backend, []ensemble.Option, error) {
	return b.build(ctx, b.cfg.Vault.Sentries, true)
}

func (b *Builder) build(ctx context.Context, cfgs []BackendConfig, sentry bool) ([]backend.Backend, []ensemble.Option, error) {
	var (
		backends []backend.Backend
		opts     []ensemble.Option
	)
	if b.cfg.Ensemble.DefaultTimeout > 0 {
		opts = append(opts, ensemble.WithDefaultTimeout(b.cfg.Ensemble.DefaultTimeout))
	}
	for _, bc := range cfgs {
		if !bc.Enabled {
			continue
		}
		be, err := b.backend(ctx, bc, sentry)
		if err != nil {
			return nil, nil, fmt.Errorf("build %s: %w", bc.Name, err)
		}
		backends = append(backends, be)
		if bc.Timeout > 0 {
			opts = append(opts, ensemble.WithTimeout(bc.Name, bc.Timeout))
		}
	}
	return backends, opts, nil
}

func (b *Builder) backend(ctx context.Context, bc BackendConfig, sentry bool) (backend.Backend, error) {
	if bc.Kind == KindDeterministic {
		if sentry {
			return deterministic.NewSentry(bc.Name, nil), nil
		}
		return deterministic.NewParser(bc.Name), nil
	}
	completer, err := b.completer(bc)
	if err != nil {
		return nil, err
	}
	mws := []middleware.Middleware{middleware.Timeout(bc.Timeout)}
	if bc.TokensPerMinute > 0 {
		limiter := middleware.NewAdaptiveRateLimiter(ctx, middleware.RateLimitOptions{
			TokensPerMinute: bc.TokensPerMinute,
			Shared:          b.shared,
			Key:             "tpm:" + bc.Name,
		})
		mws = append(mws, limiter.Middleware())
	}
	completer = middleware.Chain(completer, mws...)

	var task llm.Task
	if sentry {
		task, err = llm.NewSentryTask(bc.Temperature, bc.MaxTokens)
	} else {
		task, err = llm.NewIntentTask(bc.Temperature, bc.MaxTokens)
	}
	if err != nil {
		return nil, err
	}
	return llm.New(bc.Name, completer, task)
}

func (b *Builder) completer(bc BackendConfig) (llm.Completer, error) {
	switch bc.Kind {
	case KindOpenAI:
		return openaiprovider.New(openaiprovider.Options{
			Client:          b.openAI(bc),
			Model:           bc.Model,
			DisableJSONMode: bc.DisableJSONMode,
		})
	case KindAnthropic:
		return anthropic.New(anthropic.Options{
			Client:    b.anthropic(bc),
			Model:     bc.Model,
			MaxTokens: bc.MaxTokens,
		})
	case KindBedrock:
		rt, err := b.bedrock(bc, b.cfg.AWS)
		if err != nil {
			return nil, err
		}
		return bedrock.New(bedrock.Options{Runtime: rt, ModelID: bc.Model, MaxTokens: bc.MaxTokens})
	default:
		return nil, backend.Configuration("unknown backend kind %q", bc.Kind)
	}
}
