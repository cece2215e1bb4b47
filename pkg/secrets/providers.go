package secrets

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/secretsmanager"
	vault "github.com/hashicorp/vault/api"
	"golang.org/x/crypto/chacha20poly1305"
)

type vaultProvider struct {
	client     *vault.Client
	mountPath  string
	keyID      string
	secretPath string
}

func newVaultProvider(ctx context.Context) (*vaultProvider, error) {
	cfg := vault.DefaultConfig()
	cfg.Address = os.Getenv("VAULT_ADDR")
	cfg.Timeout = 5 * time.Second
	client, err := vault.NewClient(cfg)
	if err != nil {
		return nil, err
	}
	if tokenFile := os.Getenv("VAULT_TOKEN_FILE"); tokenFile != "" {
		tokenBytes, err := os.ReadFile(tokenFile)
		if err != nil {
			return nil, fmt.Errorf("failed to read VAULT_TOKEN_FILE: %w", err)
		}
		client.SetToken(strings.TrimSpace(string(tokenBytes)))
	} else if token := os.Getenv("VAULT_TOKEN"); token != "" {
		client.SetToken(token)
	}
	healthCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	if _, err := client.Sys().HealthWithContext(healthCtx); err != nil {
		return nil, fmt.Errorf("vault health check failed: %w", err)
	}
	return &vaultProvider{
		client:     client,
		mountPath:  getEnvOrDefault("VAULT_MOUNT_PATH", "transit"),
		keyID:      getEnvOrDefault("VAULT_KEY_ID", "pastebin"),
		secretPath: getEnvOrDefault("VAULT_SECRET_PATH", "secret/data/pastebin"),
	}, nil
}
func (v *vaultProvider) Name() string { return "vault" }

// Decrypt runs a transit decrypt. The ciphertext is the "vault:v1:..." string.
func (v *vaultProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	path := fmt.Sprintf("%s/decrypt/%s", v.mountPath, v.keyID)
	secret, err := v.client.Logical().WriteWithContext(ctx, path, map[string]interface{}{
		"ciphertext": string(ciphertext),
	})
	if err != nil {
		return nil, err
	}
	if secret == nil {
		return nil, errors.New("vault: empty decrypt response")
	}
	plaintextB64, ok := secret.Data["plaintext"].(string)
	if !ok {
		return nil, errors.New("vault: plaintext not found")
	}
	return base64.StdEncoding.DecodeString(plaintextB64)
}

// GetSecret reads the "value" field of a KV v2 entry under the secret path.
func (v *vaultProvider) GetSecret(ctx context.Context, key string) (string, error) {
	secret, err := v.client.Logical().ReadWithContext(ctx, fmt.Sprintf("%s/%s", v.secretPath, key))
	if err != nil {
		return "", err
	}
	if secret == nil || secret.Data == nil {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	data, ok := secret.Data["data"].(map[string]interface{})
	if !ok {
		return "", errors.New("vault: invalid secret format")
	}
	value, ok := data["value"].(string)
	if !ok {
		return "", errors.New("vault: value not found")
	}
	return value, nil
}

type awsProvider struct {
	kmsClient *kms.Client
	smClient  *secretsmanager.Client
	prefix    string
}

func newAWSProvider(ctx context.Context) (*awsProvider, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(os.Getenv("AWS_REGION")))
	if err != nil {
		return nil, err
	}
	return &awsProvider{
		kmsClient: kms.NewFromConfig(cfg),
		smClient:  secretsmanager.NewFromConfig(cfg),
		prefix:    getEnvOrDefault("AWS_SECRET_PREFIX", "pastebin/"),
	}, nil
}
func (a *awsProvider) Name() string { return "aws" }
func (a *awsProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	result, err := a.kmsClient.Decrypt(ctx, &kms.DecryptInput{CiphertextBlob: ciphertext})
	if err != nil {
		return nil, fmt.Errorf("aws kms decrypt failed: %w", err)
	}
	return result.Plaintext, nil
}
func (a *awsProvider) GetSecret(ctx context.Context, key string) (string, error) {
	id := a.prefix + key
	result, err := a.smClient.GetSecretValue(ctx, &secretsmanager.GetSecretValueInput{SecretId: &id})
	if err != nil {
		return "", fmt.Errorf("failed to get secret %s: %w", id, err)
	}
	if result.SecretString == nil {
		return "", errors.New("secret is binary, not string")
	}
	return *result.SecretString, nil
}

// envProvider opens values sealed with SECRETS_LOCAL_KEY and reads plain
// secrets from the process environment. Meant for development.
type envProvider struct {
	key []byte
}

func newEnvProvider(key string) (*envProvider, error) {
	decoded, err := base64.StdEncoding.DecodeString(key)
	if err != nil {
		return nil, fmt.Errorf("SECRETS_LOCAL_KEY must be base64-encoded: %w", err)
	}
	if len(decoded) != chacha20poly1305.KeySize {
		return nil, fmt.Errorf("SECRETS_LOCAL_KEY must be exactly 32 bytes when decoded (got %d bytes)", len(decoded))
	}
	return &envProvider{key: decoded}, nil
}
func (e *envProvider) Name() string { return "env" }
func (e *envProvider) Decrypt(ctx context.Context, ciphertext []byte) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return open(ciphertext, e.key)
}
func (e *envProvider) GetSecret(_ context.Context, key string) (string, error) {
	val, ok := os.LookupEnv(key)
	if !ok || val == "" {
		return "", fmt.Errorf("%w: %s", ErrNotFound, key)
	}
	return val, nil
}

// SealLocal encrypts plaintext for the env provider with XChaCha20-Poly1305.
// The output is what goes into <NAME>_CIPHERTEXT after base64 encoding.
func SealLocal(key, plaintext []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize(), aead.NonceSize()+len(plaintext)+aead.Overhead())
	if _, err := rand.Read(nonce); err != nil {
		return nil, err
	}
	return aead.Seal(nonce, nonce, plaintext, nil), nil
}
func open(ciphertext, key []byte) ([]byte, error) {
	aead, err := chacha20poly1305.NewX(key)
	if err != nil {
		return nil, err
	}
	nonceSize := aead.NonceSize()
	if len(ciphertext) < nonceSize+aead.Overhead() {
		return nil, errors.New("ciphertext too short")
	}
	nonce, body := ciphertext[:nonceSize], ciphertext[nonceSize:]
	plaintext, err := aead.Open(nil, nonce, body, nil)
	if err != nil {
		return nil, ErrDecryptionFailed
	}
	return plaintext, nil
}
func getEnvOrDefault(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}
