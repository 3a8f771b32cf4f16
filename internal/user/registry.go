// Package user holds the registered-user registry consumed by the scan
// cycle and the notification worker. User CRUD lives outside this system;
// the registry is loaded from a YAML file at boot.
package user

import (
	"fmt"
	"os"
	"sort"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

// DefaultPlanCap bounds a user's active watchlist when the file does not
// set one.
const DefaultPlanCap = 20

// User is one registered scanner user.
type User struct {
	ID              string   `yaml:"id"`
	PlanCap         int      `yaml:"plan_cap"`
	Watchlist       []string `yaml:"watchlist"`
	TZOffsetHours   int      `yaml:"tz_offset_hours"`
	TelegramChatID  string   `yaml:"telegram_chat_id"`
	TelegramEnabled bool     `yaml:"telegram_enabled"`
	Admin           bool     `yaml:"admin"`
	StrategiesFile  string   `yaml:"strategies_file"`
}

// ActiveSymbols returns the watchlist bounded by the plan cap.
func (u User) ActiveSymbols() []string {
	cap := u.PlanCap
	if cap <= 0 {
		cap = DefaultPlanCap
	}
	if len(u.Watchlist) > cap {
		return u.Watchlist[:cap]
	}
	return u.Watchlist
}

// Registry is the in-memory user set, ordered by ID for deterministic scan
// cycles.
type Registry struct {
	users []User
}

type usersFile struct {
	Users []User `yaml:"users"`
}

// Load reads the users YAML file. Users without an ID are skipped with a
// warning.
func Load(path string) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("users file: %w", err)
	}
	var f usersFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("users file %s: %w", path, err)
	}

	reg := &Registry{}
	for _, u := range f.Users {
		if u.ID == "" {
			log.Warn().Str("path", path).Msg("user without id skipped")
			continue
		}
		reg.users = append(reg.users, u)
	}
	sort.Slice(reg.users, func(i, j int) bool { return reg.users[i].ID < reg.users[j].ID })
	return reg, nil
}

// NewRegistry builds a registry directly; used by tests and the one-shot
// scan command.
func NewRegistry(users ...User) *Registry {
	reg := &Registry{users: append([]User(nil), users...)}
	sort.Slice(reg.users, func(i, j int) bool { return reg.users[i].ID < reg.users[j].ID })
	return reg
}

// Users returns all users ordered by ID.
func (r *Registry) Users() []User { return r.users }

// Get returns the user with the given ID.
func (r *Registry) Get(id string) (User, bool) {
	for _, u := range r.users {
		if u.ID == id {
			return u, true
		}
	}
	return User{}, false
}

// Universe is the sorted union of every user's active symbols.
func (r *Registry) Universe() []string {
	seen := map[string]struct{}{}
	var out []string
	for _, u := range r.users {
		for _, s := range u.ActiveSymbols() {
			if _, ok := seen[s]; ok {
				continue
			}
			seen[s] = struct{}{}
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// Notifiable returns users with Telegram delivery enabled. When adminOnly
// is set, only admin users are returned.
func (r *Registry) Notifiable(adminOnly bool) []User {
	var out []User
	for _, u := range r.users {
		if !u.TelegramEnabled || u.TelegramChatID == "" {
			continue
		}
		if adminOnly && !u.Admin {
			continue
		}
		out = append(out, u)
	}
	return out
}
