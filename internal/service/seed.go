package service

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/and161185/consulta/internal/errs"
)

type seedFile struct {
	Accounts []NewAccount `yaml:"accounts"`
}

// LoadSeedFile reads development accounts from a YAML file.
func LoadSeedFile(path string) ([]NewAccount, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open seed: %w", err)
	}
	defer f.Close()
	return LoadSeed(f)
}

// LoadSeed decodes an `accounts:` list. Unknown fields are errors.
func LoadSeed(r io.Reader) ([]NewAccount, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var sf seedFile
	if err := dec.Decode(&sf); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("decode seed: %w", err)
	}
	return sf.Accounts, nil
}

// Seed registers accounts that do not exist yet and returns how many it created.
func Seed(ctx context.Context, auth AuthService, accounts []NewAccount, log *zap.Logger) (int, error) {
	created := 0
	for _, na := range accounts {
		_, err := auth.Register(ctx, na)
		switch {
		case err == nil:
			created++
			log.Info("seeded account", zap.String("email", na.Email), zap.Strings("roles", na.Roles))
		case errors.Is(err, errs.ErrAlreadyExists):
			log.Debug("seed account exists", zap.String("email", na.Email))
		default:
			return created, fmt.Errorf("seed %s: %w", na.Email, err)
		}
	}
	return created, nil
}
