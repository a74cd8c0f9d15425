package openai

import (
	"math"
	"strings"

	"aigateway/internal/core"
	"aigateway/internal/providers"
	"aigateway/internal/translate"
)

const unbounded = math.MaxInt32

var (
	chatOnly          = core.NewCapabilitySet(core.CapabilityChat)
	chatAndEmbeddings = core.NewCapabilitySet(core.CapabilityChat, core.CapabilityEmbeddings)
)

func isEmbeddingModel(modelID string) bool {
	return strings.Contains(strings.ToLower(modelID), "embed")
}

// servesByName routes embedding-named models to embeddings and everything
// else to chat.
func servesByName(c core.Capability, modelID string) bool {
	if c == core.CapabilityEmbeddings {
		return isEmbeddingModel(modelID)
	}
	return !isEmbeddingModel(modelID)
}

// OpenAI is the api.openai.com variant
var OpenAI = Variant{
	Kind:           core.ProviderOpenAI,
	DefaultBaseURL: "https://api.openai.com/v1",
	Capabilities:   chatAndEmbeddings,
	Serves:         servesByName,
	StreamUsage:    true,
	Profile: func(modelID string) core.OptionProfile {
		if isOSeriesModel(modelID) {
			return core.OptionProfile{
				Provider: core.ProviderOpenAI,
				Supported: translate.Supports(
					core.OptionMaxTokens, core.OptionN, core.OptionStop,
					core.OptionSeed, core.OptionUser, core.OptionExtra,
				),
				Ranges: map[core.Option]core.Range{
					core.OptionMaxTokens: {Min: 1, Max: unbounded},
					core.OptionN:         {Min: 1, Max: 128},
					core.OptionStop:      {Min: 0, Max: 4},
				},
			}
		}
		return core.OptionProfile{
			Provider: core.ProviderOpenAI,
			Supported: translate.Supports(
				core.OptionTemperature, core.OptionTopP, core.OptionMaxTokens, core.OptionN,
				core.OptionStop, core.OptionPresencePenalty, core.OptionFrequencyPenalty,
				core.OptionSeed, core.OptionUser, core.OptionExtra,
			),
			Ranges: map[core.Option]core.Range{
				core.OptionTemperature:      {Min: 0, Max: 2},
				core.OptionTopP:             {Min: 0, Max: 1},
				core.OptionMaxTokens:        {Min: 1, Max: unbounded},
				core.OptionN:                {Min: 1, Max: 128},
				core.OptionStop:             {Min: 0, Max: 4},
				core.OptionPresencePenalty:  {Min: -2, Max: 2},
				core.OptionFrequencyPenalty: {Min: -2, Max: 2},
			},
		}
	},
}

// Groq serves Groq's OpenAI-compatible API; n must be 1
var Groq = Variant{
	Kind:           core.ProviderGroq,
	DefaultBaseURL: "https://api.groq.com/openai/v1",
	Capabilities:   chatOnly,
	Profile: fixedProfile(core.ProviderGroq,
		map[core.Option]core.Range{
			core.OptionTemperature:      {Min: 0, Max: 2},
			core.OptionTopP:             {Min: 0, Max: 1},
			core.OptionMaxTokens:        {Min: 1, Max: unbounded},
			core.OptionN:                {Min: 1, Max: 1},
			core.OptionStop:             {Min: 0, Max: 4},
			core.OptionPresencePenalty:  {Min: -2, Max: 2},
			core.OptionFrequencyPenalty: {Min: -2, Max: 2},
		},
		core.OptionSeed, core.OptionUser,
	),
}

// XAI serves xAI's OpenAI-compatible API
var XAI = Variant{
	Kind:           core.ProviderXAI,
	DefaultBaseURL: "https://api.x.ai/v1",
	Capabilities:   chatOnly,
	Profile: fixedProfile(core.ProviderXAI,
		map[core.Option]core.Range{
			core.OptionTemperature:      {Min: 0, Max: 2},
			core.OptionTopP:             {Min: 0, Max: 1},
			core.OptionMaxTokens:        {Min: 1, Max: unbounded},
			core.OptionN:                {Min: 1, Max: 128},
			core.OptionStop:             {Min: 0, Max: 4},
			core.OptionPresencePenalty:  {Min: -2, Max: 2},
			core.OptionFrequencyPenalty: {Min: -2, Max: 2},
		},
		core.OptionSeed, core.OptionUser,
	),
}

// Mistral serves Mistral's chat and embeddings API
var Mistral = Variant{
	Kind:           core.ProviderMistral,
	DefaultBaseURL: "https://api.mistral.ai/v1",
	Capabilities:   chatAndEmbeddings,
	Serves:         servesByName,
	Profile: fixedProfile(core.ProviderMistral,
		map[core.Option]core.Range{
			core.OptionTemperature:      {Min: 0, Max: 1.5},
			core.OptionTopP:             {Min: 0, Max: 1},
			core.OptionMaxTokens:        {Min: 1, Max: unbounded},
			core.OptionN:                {Min: 1, Max: unbounded},
			core.OptionStop:             {Min: 0, Max: unbounded},
			core.OptionPresencePenalty:  {Min: -2, Max: 2},
			core.OptionFrequencyPenalty: {Min: -2, Max: 2},
		},
	),
}

// Ollama serves a local Ollama server through its /v1 compatibility layer.
// Any pulled model can chat and embed.
var Ollama = Variant{
	Kind:           core.ProviderOllama,
	DefaultBaseURL: "http://localhost:11434/v1",
	Capabilities:   chatAndEmbeddings,
	StreamUsage:    true,
	Profile: fixedProfile(core.ProviderOllama,
		map[core.Option]core.Range{
			core.OptionTemperature:      {Min: 0, Max: 2},
			core.OptionTopP:             {Min: 0, Max: 1},
			core.OptionMaxTokens:        {Min: 1, Max: unbounded},
			core.OptionStop:             {Min: 0, Max: unbounded},
			core.OptionPresencePenalty:  {Min: -2, Max: 2},
			core.OptionFrequencyPenalty: {Min: -2, Max: 2},
		},
		core.OptionSeed,
	),
}

// fixedProfile builds a model-independent profile. Every ranged option is
// supported, plus the listed unranged ones.
func fixedProfile(kind core.ProviderKind, ranges map[core.Option]core.Range, unranged ...core.Option) func(string) core.OptionProfile {
	supported := translate.Supports(unranged...)
	for o := range ranges {
		supported[o] = true
	}
	profile := core.OptionProfile{Provider: kind, Supported: supported, Ranges: ranges}
	return func(string) core.OptionProfile { return profile }
}

// CompatibleRegistrations registers the OpenAI-compatible kinds other than
// OpenAI itself
var CompatibleRegistrations = []providers.Registration{
	VariantRegistration(Groq),
	VariantRegistration(XAI),
	VariantRegistration(Mistral),
	VariantRegistration(Ollama),
}
