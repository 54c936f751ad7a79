package settings

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// Secret names.
const (
	SecretAnthropicAPIKey  = "anthropic_api_key"
	SecretOpenAIAPIKey     = "openai_api_key"
	SecretBraveAPIKey      = "brave_api_key"
	SecretGmailAppPassword = "gmail_app_password"
	SecretS3AccessKey      = "s3_access_key"
	SecretS3SecretKey      = "s3_secret_key"
	SecretRedisPassword    = "redis_password"
)

// envOverrides maps secret names to the environment variables that take precedence over the file.
var envOverrides = map[string]string{
	SecretAnthropicAPIKey:  "ANTHROPIC_API_KEY",
	SecretOpenAIAPIKey:     "OPENAI_API_KEY",
	SecretBraveAPIKey:      "BRAVE_API_KEY",
	SecretGmailAppPassword: "GMAIL_APP_PASSWORD",
	SecretS3AccessKey:      "NESTOR_S3_ACCESS_KEY",
	SecretS3SecretKey:      "NESTOR_S3_SECRET_KEY",
	SecretRedisPassword:    "NESTOR_REDIS_PASSWORD",
}

// SecretNames lists every known secret, sorted.
func SecretNames() []string {
	out := make([]string, 0, len(envOverrides))
	for name := range envOverrides {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// EnvVar returns the environment variable overriding name.
func EnvVar(name string) (string, bool) {
	v, ok := envOverrides[strings.TrimSpace(name)]
	return v, ok
}

// ProviderKeyName returns the secret holding the API key of an llm provider.
func ProviderKeyName(provider string) (string, error) {
	switch strings.ToLower(strings.TrimSpace(provider)) {
	case "anthropic":
		return SecretAnthropicAPIKey, nil
	case "openai":
		return SecretOpenAIAPIKey, nil
	default:
		return "", fmt.Errorf("unknown provider %q", provider)
	}
}

// SecretsStore persists user-managed secrets to a local file (0600), separate from config.yaml.
//
// The file is read once and cached; Reload re-reads it. Environment variables override file
// values. Secrets are never logged; callers that report status should use Status.
type SecretsStore struct {
	path   string
	getenv func(string) string

	mu     sync.Mutex
	cached *secretsFile
}

func NewSecretsStore(path string) *SecretsStore {
	return &SecretsStore{path: filepath.Clean(strings.TrimSpace(path)), getenv: os.Getenv}
}

func (s *SecretsStore) Path() string {
	if s == nil {
		return ""
	}
	return strings.TrimSpace(s.path)
}

type secretsFile struct {
	SchemaVersion int               `json:"schema_version"`
	Secrets       map[string]string `json:"secrets,omitempty"`
}

// Get returns the secret value and whether it is set. Environment overrides win.
func (s *SecretsStore) Get(name string) (string, bool, error) {
	if s == nil {
		return "", false, errors.New("nil secrets store")
	}
	name, err := checkName(name)
	if err != nil {
		return "", false, err
	}
	if env, ok := envOverrides[name]; ok && s.getenv != nil {
		if v := strings.TrimSpace(s.getenv(env)); v != "" {
			return v, true, nil
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.snapshotLocked()
	if err != nil {
		return "", false, err
	}
	v := strings.TrimSpace(sf.Secrets[name])
	return v, v != "", nil
}

// Status reports which secrets are set, without revealing values.
func (s *SecretsStore) Status() (map[string]bool, error) {
	out := make(map[string]bool, len(envOverrides))
	for _, name := range SecretNames() {
		_, ok, err := s.Get(name)
		if err != nil {
			return nil, err
		}
		out[name] = ok
	}
	return out, nil
}

func (s *SecretsStore) Set(name string, value string) error {
	value = strings.TrimSpace(value)
	if value == "" {
		return errors.New("missing secret value")
	}
	return s.ApplyPatches([]SecretPatch{{Name: name, Value: &value}})
}

func (s *SecretsStore) Clear(name string) error {
	return s.ApplyPatches([]SecretPatch{{Name: name, Value: nil}})
}

type SecretPatch struct {
	Name string
	// Value is the new value to set. If nil, the secret is cleared.
	Value *string
}

func (s *SecretsStore) ApplyPatches(patches []SecretPatch) error {
	if s == nil {
		return errors.New("nil secrets store")
	}
	if len(patches) == 0 {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	sf, err := s.loadLocked()
	if err != nil {
		return err
	}
	if sf.Secrets == nil {
		sf.Secrets = make(map[string]string)
	}

	for _, p := range patches {
		name, err := checkName(p.Name)
		if err != nil {
			return err
		}
		if p.Value == nil {
			delete(sf.Secrets, name)
			continue
		}
		v := strings.TrimSpace(*p.Value)
		if v == "" {
			return errors.New("missing secret value")
		}
		sf.Secrets[name] = v
	}

	if len(sf.Secrets) == 0 {
		sf.Secrets = nil
	}
	if err := s.saveLocked(sf); err != nil {
		return err
	}
	s.cached = sf
	return nil
}

// Reload drops the cached file contents so the next read sees the file on disk.
func (s *SecretsStore) Reload() error {
	if s == nil {
		return errors.New("nil secrets store")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	sf, err := s.loadLocked()
	if err != nil {
		return err
	}
	s.cached = sf
	return nil
}

func checkName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", errors.New("missing secret name")
	}
	if _, ok := envOverrides[name]; !ok {
		return "", fmt.Errorf("unknown secret %q", name)
	}
	return name, nil
}

func (s *SecretsStore) snapshotLocked() (*secretsFile, error) {
	if s.cached != nil {
		return s.cached, nil
	}
	sf, err := s.loadLocked()
	if err != nil {
		return nil, err
	}
	s.cached = sf
	return sf, nil
}

func (s *SecretsStore) loadLocked() (*secretsFile, error) {
	path := strings.TrimSpace(s.path)
	if path == "" || path == "." {
		return nil, errors.New("missing secrets path")
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &secretsFile{SchemaVersion: 1}, nil
		}
		return nil, err
	}
	var sf secretsFile
	if err := json.Unmarshal(b, &sf); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	if sf.SchemaVersion == 0 {
		sf.SchemaVersion = 1
	}
	return &sf, nil
}

func (s *SecretsStore) saveLocked(sf *secretsFile) error {
	if sf == nil {
		return errors.New("nil secrets")
	}
	path := strings.TrimSpace(s.path)
	if path == "" {
		return errors.New("missing secrets path")
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	b, err := json.MarshalIndent(sf, "", "  ")
	if err != nil {
		return err
	}
	b = append(b, '\n')

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, b, 0o600); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
