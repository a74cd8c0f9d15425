// Package translate holds the option policy every provider translator runs
// under. Options a provider has no equivalent for are dropped with a warning,
// or rejected when the endpoint is strict or the caller marked them
// required. Out-of-range numbers are always rejected, never clamped.
package translate

import (
	"fmt"
	"sort"

	"aigateway/internal/core"
)

// Report records what the policy did to a request.
type Report struct {
	Warnings []string
	Dropped  []core.Option
}

// ValidateChat checks the provider-independent shape of a chat request.
func ValidateChat(req *core.ChatRequest) error {
	if req == nil {
		return core.NewInvalidRequestError("request body is required", nil)
	}
	if len(req.Messages) == 0 {
		return core.NewInvalidRequestError("messages must not be empty", nil)
	}
	for i, m := range req.Messages {
		switch m.Role {
		case core.RoleSystem, core.RoleUser, core.RoleAssistant:
		default:
			return core.NewInvalidRequestError(fmt.Sprintf("messages[%d]: unsupported role %q", i, m.Role), nil)
		}
	}
	return nil
}

// ValidateEmbeddings checks the provider-independent shape of an embeddings request.
func ValidateEmbeddings(req *core.EmbeddingRequest) error {
	if req == nil {
		return core.NewInvalidRequestError("request body is required", nil)
	}
	if len(req.Input) == 0 {
		return core.NewInvalidRequestError("input must not be empty", nil)
	}
	return nil
}

// Apply runs the option policy for profile and returns a copy of req that
// only carries options the provider supports.
func Apply(profile core.OptionProfile, req *core.ChatRequest, strict bool) (*core.ChatRequest, Report, error) {
	out := *req
	var report Report
	provider := string(profile.Provider)

	for _, opt := range Present(req) {
		if opt == core.OptionExtra {
			continue
		}
		if !profile.Supported[opt] {
			if strict || req.IsRequired(string(opt)) {
				return nil, report, core.NewTranslationError(provider,
					fmt.Sprintf("option %q is not supported by provider %q", opt, provider))
			}
			clearOption(&out, opt)
			report.Dropped = append(report.Dropped, opt)
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("option %q is not supported by provider %q and was dropped", opt, provider))
			continue
		}
		if r, bounded := profile.Ranges[opt]; bounded {
			if v, ok := numericValue(req, opt); ok && (v < r.Min || v > r.Max) {
				return nil, report, core.NewTranslationError(provider,
					fmt.Sprintf("option %q=%v is outside the range [%v, %v] accepted by provider %q",
						opt, v, r.Min, r.Max, provider))
			}
		}
	}

	if len(req.Extra) > 0 && !profile.Supported[core.OptionExtra] {
		keys := make([]string, 0, len(req.Extra))
		for k := range req.Extra {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			if strict || req.IsRequired(k) {
				return nil, report, core.NewTranslationError(provider,
					fmt.Sprintf("parameter %q is not supported by provider %q", k, provider))
			}
			report.Warnings = append(report.Warnings,
				fmt.Sprintf("parameter %q is not supported by provider %q and was dropped", k, provider))
		}
		report.Dropped = append(report.Dropped, core.OptionExtra)
		out.Extra = nil
	}

	return &out, report, nil
}

// Present lists the recognized options set on req, in a stable order.
func Present(req *core.ChatRequest) []core.Option {
	var opts []core.Option
	add := func(set bool, o core.Option) {
		if set {
			opts = append(opts, o)
		}
	}
	add(req.Temperature != nil, core.OptionTemperature)
	add(req.TopP != nil, core.OptionTopP)
	add(req.TopK != nil, core.OptionTopK)
	add(req.MaxTokens != nil, core.OptionMaxTokens)
	add(req.N != nil, core.OptionN)
	add(len(req.Stop) > 0, core.OptionStop)
	add(req.PresencePenalty != nil, core.OptionPresencePenalty)
	add(req.FrequencyPenalty != nil, core.OptionFrequencyPenalty)
	add(req.Seed != nil, core.OptionSeed)
	add(req.User != "", core.OptionUser)
	add(len(req.Extra) > 0, core.OptionExtra)
	return opts
}

func clearOption(req *core.ChatRequest, opt core.Option) {
	switch opt {
	case core.OptionTemperature:
		req.Temperature = nil
	case core.OptionTopP:
		req.TopP = nil
	case core.OptionTopK:
		req.TopK = nil
	case core.OptionMaxTokens:
		req.MaxTokens = nil
	case core.OptionN:
		req.N = nil
	case core.OptionStop:
		req.Stop = nil
	case core.OptionPresencePenalty:
		req.PresencePenalty = nil
	case core.OptionFrequencyPenalty:
		req.FrequencyPenalty = nil
	case core.OptionSeed:
		req.Seed = nil
	case core.OptionUser:
		req.User = ""
	}
}

func numericValue(req *core.ChatRequest, opt core.Option) (float64, bool) {
	switch opt {
	case core.OptionTemperature:
		return derefFloat(req.Temperature)
	case core.OptionTopP:
		return derefFloat(req.TopP)
	case core.OptionTopK:
		return derefInt(req.TopK)
	case core.OptionMaxTokens:
		return derefInt(req.MaxTokens)
	case core.OptionN:
		return derefInt(req.N)
	case core.OptionPresencePenalty:
		return derefFloat(req.PresencePenalty)
	case core.OptionFrequencyPenalty:
		return derefFloat(req.FrequencyPenalty)
	case core.OptionStop:
		return float64(len(req.Stop)), true
	}
	return 0, false
}

func derefFloat(v *float64) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return *v, true
}

func derefInt(v *int) (float64, bool) {
	if v == nil {
		return 0, false
	}
	return float64(*v), true
}

// Supports builds a Supported table from a list of options.
func Supports(opts ...core.Option) map[core.Option]bool {
	m := make(map[core.Option]bool, len(opts))
	for _, o := range opts {
		m[o] = true
	}
	return m
}
