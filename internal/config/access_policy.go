package config

import (
	"errors"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// User is one basic-auth principal. PasswordHash is a bcrypt hash; Password is
// accepted for local development only.
type User struct {
	Role         string `yaml:"role"`
	PasswordHash string `yaml:"password_hash"`
	Password     string `yaml:"password"`
}

type AccessPolicy struct {
	Roles map[string][]string `yaml:"roles"`
	Users map[string]User     `yaml:"users"`
}

// LoadAccessPolicy reads the YAML policy at path. A missing file yields the
// given default roles and no users. Roles listed in the file replace the
// default entry for that role; other defaults are kept.
func LoadAccessPolicy(path string, defaults map[string][]string) (AccessPolicy, error) {
	policy := AccessPolicy{
		Roles: make(map[string][]string, len(defaults)),
		Users: map[string]User{},
	}
	for role, departments := range defaults {
		policy.Roles[normalize(role)] = append([]string(nil), departments...)
	}

	path = strings.TrimSpace(path)
	if path == "" {
		return policy, nil
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return policy, nil
		}
		return AccessPolicy{}, fmt.Errorf("read access policy: %w", err)
	}

	var file AccessPolicy
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return AccessPolicy{}, fmt.Errorf("parse access policy: %w", err)
	}
	for role, departments := range file.Roles {
		role = normalize(role)
		if role == "" {
			return AccessPolicy{}, errors.New("access policy: empty role name")
		}
		policy.Roles[role] = append([]string(nil), departments...)
	}
	for username, user := range file.Users {
		username = strings.TrimSpace(username)
		if username == "" {
			return AccessPolicy{}, errors.New("access policy: empty username")
		}
		user.Role = normalize(user.Role)
		if _, ok := policy.Roles[user.Role]; !ok {
			return AccessPolicy{}, fmt.Errorf("access policy: user %s has unknown role %q", username, user.Role)
		}
		if user.PasswordHash == "" && user.Password == "" {
			return AccessPolicy{}, fmt.Errorf("access policy: user %s has no credentials", username)
		}
		policy.Users[username] = user
	}
	return policy, nil
}

// UserRoles returns the sorted set of roles held by at least one user.
func (p AccessPolicy) UserRoles() []string {
	seen := make(map[string]struct{}, len(p.Users))
	for _, u := range p.Users {
		seen[u.Role] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for role := range seen {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func normalize(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
