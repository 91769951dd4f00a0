// Command keygen creates the RSA key that signs licenses and stores it in
// Vault or in a PEM file.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"licensing-controlplane/pkg/hashistack/secretmanager"
	"licensing-controlplane/pkg/signature"

	"github.com/hashicorp/vault-client-go"
	"github.com/hashicorp/vault-client-go/schema"
	"go.uber.org/zap"
)

func main() {
	var (
		bits      = flag.Int("bits", 2048, "RSA key size")
		out       = flag.String("out", "", "write the private key PEM to this file")
		vaultPath = flag.String("vault-path", "", "write the private key PEM to this KV v2 path")
		field     = flag.String("vault-field", "private_key_pem", "field name inside the Vault secret")
		pubOut    = flag.String("public-out", "", "also write the public key PEM to this file")
	)
	flag.Parse()

	zapLog := zap.Must(zap.NewProduction())
	defer zapLog.Sync()

	if *out == "" && *vaultPath == "" {
		zapLog.Fatal("one of -out or -vault-path is required")
	}

	key, err := signature.GenerateKey(*bits)
	if err != nil {
		zapLog.Fatal("failed to generate key", zap.Error(err))
	}
	keys, err := signature.NewKeyring(key)
	if err != nil {
		zapLog.Fatal("failed to build keyring", zap.Error(err))
	}
	privPEM := signature.EncodePrivateKeyPEM(key)

	if *out != "" {
		if err := writeNew(*out, privPEM, 0o600); err != nil {
			zapLog.Fatal("failed to write private key", zap.String("path", *out), zap.Error(err))
		}
		zapLog.Info("private key written", zap.String("path", *out))
	}

	if *vaultPath != "" {
		client, err := secretmanager.ProvideVault()
		if err != nil {
			zapLog.Fatal("failed to create vault client", zap.Error(err))
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		_, err = client.Secrets.KvV2Write(ctx, *vaultPath, schema.KvV2WriteRequest{
			Data: map[string]any{*field: string(privPEM)},
		}, vault.WithMountPath("secret"))
		if err != nil {
			zapLog.Fatal("failed to write key to vault", zap.String("path", *vaultPath), zap.Error(err))
		}
		zapLog.Info("private key stored in vault", zap.String("path", *vaultPath), zap.String("field", *field))
	}

	if *pubOut != "" {
		pubPEM, err := signature.EncodePublicKeyPEM(keys.PublicKey())
		if err != nil {
			zapLog.Fatal("failed to encode public key", zap.Error(err))
		}
		if err := writeNew(*pubOut, pubPEM, 0o644); err != nil {
			zapLog.Fatal("failed to write public key", zap.String("path", *pubOut), zap.Error(err))
		}
	}

	fmt.Println(keys.KeyID())
}

// writeNew refuses to overwrite an existing key file.
func writeNew(path string, data []byte, perm os.FileMode) error {
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, perm)
	if err != nil {
		return err
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
