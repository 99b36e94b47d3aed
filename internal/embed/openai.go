// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Strata Contributors

// Package embed provides embedding providers: an OpenAI-backed
// implementation and a deterministic in-process one for tests and
// offline use. All providers return unit-length vectors so the index
// can treat the dot product as cosine similarity.
package embed

import (
	"context"
	"math"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/packages/param"

	"github.com/strata-dev/strata/internal/store"
	strataerr "github.com/strata-dev/strata/pkg/errors"
)

// OpenAIConfig holds OpenAI embedding provider configuration.
type OpenAIConfig struct {
	APIKey  string
	BaseURL string // optional, useful for testing against a mock server

	// Model defaults to text-embedding-3-small.
	Model string

	// Dimensions defaults to 768; the API truncates and renormalizes
	// to the requested width.
	Dimensions int
}

const (
	defaultOpenAIModel = "text-embedding-3-small"
	defaultDimensions  = 768
)

// Compile-time interface check.
var _ store.Embedder = (*OpenAI)(nil)

// OpenAI computes embeddings through the OpenAI Embeddings API.
type OpenAI struct {
	client     openaisdk.Client
	model      string
	dimensions int
}

// NewOpenAI creates an OpenAI embedder. Returns an error if the API key
// is missing.
func NewOpenAI(cfg OpenAIConfig) (*OpenAI, error) {
	if cfg.APIKey == "" {
		return nil, strataerr.New(strataerr.CodeEmbedProviderFailure, "openai: missing api_key in config")
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.Dimensions <= 0 {
		cfg.Dimensions = defaultDimensions
	}

	opts := []option.RequestOption{
		option.WithAPIKey(cfg.APIKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}

	return &OpenAI{
		client:     openaisdk.NewClient(opts...),
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
	}, nil
}

func (o *OpenAI) Model() string   { return o.model }
func (o *OpenAI) Dimensions() int { return o.dimensions }

// Embed returns one vector per input text, in input order.
func (o *OpenAI) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := o.client.Embeddings.New(ctx, openaisdk.EmbeddingNewParams{
		Input: openaisdk.EmbeddingNewParamsInputUnion{
			OfArrayOfStrings: texts,
		},
		Model:          openaisdk.EmbeddingModel(o.model),
		Dimensions:     param.NewOpt(int64(o.dimensions)),
		EncodingFormat: openaisdk.EmbeddingNewParamsEncodingFormatFloat,
	})
	if err != nil {
		return nil, strataerr.Wrap(err, strataerr.CodeEmbedProviderFailure, "openai: embeddings request")
	}
	if len(resp.Data) != len(texts) {
		return nil, strataerr.Errorf(strataerr.CodeEmbedProviderFailure,
			"openai: got %d embeddings for %d inputs", len(resp.Data), len(texts))
	}

	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || int(d.Index) >= len(out) {
			return nil, strataerr.Errorf(strataerr.CodeEmbedProviderFailure,
				"openai: embedding index %d out of range", d.Index)
		}
		if len(d.Embedding) != o.dimensions {
			return nil, strataerr.New(strataerr.CodeEmbedDimensionMismatch, "openai: unexpected embedding width",
				strataerr.FieldDimensions(o.dimensions, len(d.Embedding)))
		}
		v := make([]float32, len(d.Embedding))
		for i, f := range d.Embedding {
			v[i] = float32(f)
		}
		normalize(v)
		out[d.Index] = v
	}
	return out, nil
}

// normalize scales v to unit length in place. Zero vectors are left
// untouched.
func normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := 1 / math.Sqrt(sum)
	for i := range v {
		v[i] = float32(float64(v[i]) * inv)
	}
}
