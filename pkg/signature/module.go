package signature

import (
	"context"
	"errors"
	"fmt"
	"os"

	"licensing-controlplane/pkg/config"

	"github.com/hashicorp/vault-client-go"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("signature",
	fx.Provide(
		ProvideKeyring,
		func(k *Keyring) Signer { return k },
	),
)

type Params struct {
	fx.In
	Config *config.Config
	Vault  *vault.Client `optional:"true"`
}

// ProvideKeyring loads the signing key from Vault, then from a PEM file.
// Outside production an ephemeral key is generated when neither is configured.
func ProvideKeyring(p Params) (*Keyring, error) {
	cfg := p.Config.License

	if p.Vault != nil && cfg.VaultKeyPath != "" {
		pemData, err := readVaultKey(context.Background(), p.Vault, cfg.VaultKeyPath, cfg.VaultKeyField)
		if err != nil {
			return nil, err
		}
		return keyringFromPEM(pemData, "vault")
	}

	if cfg.SigningKeyPath != "" {
		pemData, err := os.ReadFile(cfg.SigningKeyPath)
		if err != nil {
			return nil, fmt.Errorf("signature: read signing key: %w", err)
		}
		return keyringFromPEM(pemData, "file")
	}

	if p.Config.AppEnv == "production" {
		return nil, errors.New("signature: no signing key configured")
	}

	zap.L().Warn("[Signature] no signing key configured, generating an ephemeral key; signatures will not survive a restart")
	key, err := GenerateKey(2048)
	if err != nil {
		return nil, err
	}
	return NewKeyring(key)
}

func keyringFromPEM(data []byte, source string) (*Keyring, error) {
	key, err := ParsePrivateKeyPEM(data)
	if err != nil {
		return nil, err
	}

	k, err := NewKeyring(key)
	if err != nil {
		return nil, err
	}

	zap.L().Info("[Signature] signing key loaded", zap.String("source", source), zap.String("key_id", k.KeyID()))
	return k, nil
}

func readVaultKey(ctx context.Context, client *vault.Client, path, field string) ([]byte, error) {
	if field == "" {
		field = "private_key_pem"
	}

	secret, err := client.Secrets.KvV2Read(ctx, path, vault.WithMountPath("secret"))
	if err != nil {
		return nil, fmt.Errorf("signature: read vault secret: %w", err)
	}

	val, ok := secret.Data.Data[field].(string)
	if !ok || val == "" {
		return nil, fmt.Errorf("signature: vault secret %s has no %s field", path, field)
	}

	return []byte(val), nil
}
