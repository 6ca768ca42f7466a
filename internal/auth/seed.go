package auth

import (
	"context"
	"errors"
	"os"

	"gopkg.in/yaml.v3"
)

// Development-only bootstrap identity, mirrored by config/users.yaml.
const (
	DefaultAdminUsername = "admin"
	DefaultAdminPassword = "aegisd_initial_secure_pw!"
)

type seedFile struct {
	Users []struct {
		Username string `yaml:"username"`
		Password string `yaml:"password"`
		Role     Role   `yaml:"role"`
	} `yaml:"users"`
}

// SeedFromFile creates any users listed in a YAML file that do not exist yet.
// Intended for development environments only; production stores are populated
// through the admin create-user operation.
func SeedFromFile(ctx context.Context, store UserStore, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var sf seedFile
	if err := yaml.Unmarshal(data, &sf); err != nil {
		return err
	}
	for _, u := range sf.Users {
		if u.Username == "" || u.Password == "" {
			continue
		}
		if err := store.Create(ctx, u.Username, u.Password, u.Role); err != nil {
			if errors.Is(err, ErrUserExists) {
				continue
			}
			return err
		}
	}
	return nil
}

// SeedDefaultAdmin creates the built-in development admin if absent.
func SeedDefaultAdmin(ctx context.Context, store UserStore) error {
	err := store.Create(ctx, DefaultAdminUsername, DefaultAdminPassword, RoleAdmin)
	if errors.Is(err, ErrUserExists) {
		return nil
	}
	return err
}
