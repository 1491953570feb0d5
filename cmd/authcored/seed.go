package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/MrEthical07/authcore"
	"github.com/MrEthical07/authcore/password"
	"github.com/MrEthical07/authcore/permission"
)

// Seed is the bootstrap data loaded from YAML at startup.
type Seed struct {
	Permissions []string   `yaml:"permissions"`
	Roles       []SeedRole `yaml:"roles"`
	Users       []SeedUser `yaml:"users"`
}

type SeedRole struct {
	ID          string   `yaml:"id"`
	Name        string   `yaml:"name"`
	Description string   `yaml:"description"`
	Permissions []string `yaml:"permissions"`
}

type SeedUser struct {
	Email    string   `yaml:"email"`
	Password string   `yaml:"password"`
	Verified bool     `yaml:"verified"`
	Roles    []string `yaml:"roles"`
}

func loadSeed(path string) (*Seed, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read seed: %w", err)
	}
	return parseSeed(data)
}

func parseSeed(data []byte) (*Seed, error) {
	var seed Seed
	if err := yaml.Unmarshal(data, &seed); err != nil {
		return nil, fmt.Errorf("parse seed: %w", err)
	}
	names := make(map[string]bool, len(seed.Roles))
	for i := range seed.Roles {
		r := &seed.Roles[i]
		r.Name = strings.TrimSpace(r.Name)
		if r.Name == "" {
			return nil, fmt.Errorf("seed role %d: name required", i)
		}
		if r.ID == "" {
			r.ID = r.Name
		}
		names[r.Name] = true
	}
	for i, u := range seed.Users {
		if strings.TrimSpace(u.Email) == "" || u.Password == "" {
			return nil, fmt.Errorf("seed user %d: email and password required", i)
		}
		for _, role := range u.Roles {
			if !names[role] {
				return nil, fmt.Errorf("seed user %s: unknown role %q", u.Email, role)
			}
		}
	}
	return &seed, nil
}

// seedTarget is implemented by both store backends.
type seedTarget struct {
	createUser func(context.Context, authcore.User) (authcore.User, error)
	createRole func(context.Context, permission.Role) error
}

// apply creates roles and users, then grants through the engine so the
// permission registry validates every name.
func (s *Seed) apply(ctx context.Context, engine *authcore.Engine, target seedTarget, hasher password.Algorithm) error {
	roleIDs := make(map[string]string, len(s.Roles))
	for _, r := range s.Roles {
		err := target.createRole(ctx, permission.Role{
			ID:          r.ID,
			Name:        r.Name,
			Description: r.Description,
			Active:      true,
		})
		if err != nil {
			return fmt.Errorf("seed role %s: %w", r.Name, err)
		}
		if err := engine.SetRolePermissions(ctx, r.ID, r.Permissions); err != nil {
			return fmt.Errorf("seed role %s permissions: %w", r.Name, err)
		}
		roleIDs[r.Name] = r.ID
	}

	for _, u := range s.Users {
		hash, err := hasher.Hash(u.Password)
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		created, err := target.createUser(ctx, authcore.User{
			Email:        u.Email,
			PasswordHash: hash,
			Active:       true,
			Verified:     u.Verified,
		})
		if err != nil {
			return fmt.Errorf("seed user %s: %w", u.Email, err)
		}
		for _, role := range u.Roles {
			err := engine.AssignRole(ctx, created.ID, roleIDs[role], permission.AssignOptions{AssignedBy: "seed"})
			if err != nil {
				return fmt.Errorf("seed user %s role %s: %w", u.Email, role, err)
			}
		}
	}
	return nil
}
