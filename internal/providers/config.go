package providers

import (
	"encoding/json"
	"strings"

	"aigateway/internal/core"
)

// DefaultCredential is a provider-wide credential discovered from the environment.
type DefaultCredential struct {
	Kind     core.ProviderKind
	Secret   []byte
	Metadata map[string]string
}

// String never includes the secret
func (d DefaultCredential) String() string {
	return "default credential for " + string(d.Kind)
}

// knownProviderEnvs maps well-known provider kinds to their environment variables.
// This list is the authoritative source for default credential discovery.
var knownProviderEnvs = []struct {
	kind       core.ProviderKind
	apiKeyEnv  string
	baseURLEnv string
}{
	{core.ProviderOpenAI, "OPENAI_API_KEY", "OPENAI_BASE_URL"},
	{core.ProviderAnthropic, "ANTHROPIC_API_KEY", "ANTHROPIC_BASE_URL"},
	{core.ProviderGemini, "GEMINI_API_KEY", "GEMINI_BASE_URL"},
	{core.ProviderXAI, "XAI_API_KEY", "XAI_BASE_URL"},
	{core.ProviderGroq, "GROQ_API_KEY", "GROQ_BASE_URL"},
	{core.ProviderMistral, "MISTRAL_API_KEY", "MISTRAL_BASE_URL"},
	{core.ProviderOllama, "OLLAMA_API_KEY", "OLLAMA_BASE_URL"},
}

// BaseURLOverrides returns the per-kind base URLs set in the environment.
func BaseURLOverrides(getenv func(string) string) map[core.ProviderKind]string {
	out := make(map[core.ProviderKind]string)
	for _, kp := range knownProviderEnvs {
		if v := strings.TrimSpace(getenv(kp.baseURLEnv)); v != "" {
			out[kp.kind] = v
		}
	}
	return out
}

// DiscoverDefaultCredentials reads well-known provider key variables.
// Ollama needs no key and is seeded whenever OLLAMA_BASE_URL is set;
// Bedrock is seeded from the standard AWS variables. Values that still
// contain an unexpanded ${...} placeholder are ignored.
func DiscoverDefaultCredentials(getenv func(string) string) []DefaultCredential {
	var out []DefaultCredential
	for _, kp := range knownProviderEnvs {
		key := strings.TrimSpace(getenv(kp.apiKeyEnv))
		baseURL := strings.TrimSpace(getenv(kp.baseURLEnv))
		if strings.Contains(key, "${") {
			key = ""
		}
		md := map[string]string{}
		if baseURL != "" {
			md[core.MetadataBaseURL] = baseURL
		}
		switch {
		case key != "":
			out = append(out, DefaultCredential{Kind: kp.kind, Secret: []byte(key), Metadata: md})
		case kp.kind == core.ProviderOllama && baseURL != "":
			out = append(out, DefaultCredential{Kind: kp.kind, Secret: []byte("ollama"), Metadata: md})
		}
	}

	if cred, ok := awsDefaultCredential(getenv); ok {
		out = append(out, cred)
	}
	return out
}

// AWSSecret is the JSON shape of a Bedrock credential secret.
type AWSSecret struct {
	AccessKeyID     string `json:"aws_access_key_id"`
	SecretAccessKey string `json:"aws_secret_access_key"`
	SessionToken    string `json:"aws_session_token,omitempty"`
}

func awsDefaultCredential(getenv func(string) string) (DefaultCredential, bool) {
	s := AWSSecret{
		AccessKeyID:     getenv("AWS_ACCESS_KEY_ID"),
		SecretAccessKey: getenv("AWS_SECRET_ACCESS_KEY"),
		SessionToken:    getenv("AWS_SESSION_TOKEN"),
	}
	if s.AccessKeyID == "" || s.SecretAccessKey == "" {
		return DefaultCredential{}, false
	}
	secret, err := json.Marshal(s)
	if err != nil {
		return DefaultCredential{}, false
	}
	md := map[string]string{}
	region := getenv("AWS_REGION")
	if region == "" {
		region = getenv("AWS_DEFAULT_REGION")
	}
	if region != "" {
		md[core.MetadataRegion] = region
	}
	return DefaultCredential{Kind: core.ProviderBedrock, Secret: secret, Metadata: md}, true
}
