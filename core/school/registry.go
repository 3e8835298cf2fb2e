package school

import (
	"context"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/trezcool/edusmart/core"
)

// RegistryEntry is one tenant as listed to the super admin. Passwords are never exposed.
type RegistryEntry struct {
	ID       string `json:"id"`
	Info     Info   `json:"info"`
	Username string `json:"username,omitempty"` // empty when no admin is bound to the tenant
	Batches  int    `json:"batches"`
	Students int    `json:"students"`
}

// Registry joins every tenant with its admin, newest tenant first.
// search, when given, matches the name, owner, phone or id (case-insensitive).
func (svc *Service) Registry(ctx context.Context, search string) ([]RegistryEntry, error) {
	schools, err := svc.store.Get(ctx, SchoolsPath)
	if err != nil {
		return nil, errors.Wrap(err, "reading schools")
	}
	admins, err := svc.Admins(ctx)
	if err != nil {
		return nil, err
	}
	return JoinRegistry(schools, admins, search)
}

// JoinRegistry builds the registry out of a schools snapshot and the admin credentials.
func JoinRegistry(schools core.Snapshot, admins []Admin, search string) ([]RegistryEntry, error) {
	usernames := make(map[string]string, len(admins))
	for _, a := range admins { // admins are ordered by username: the first one wins
		if _, ok := usernames[a.SchoolID]; !ok {
			usernames[a.SchoolID] = a.Username
		}
	}

	search = strings.ToLower(strings.TrimSpace(search))
	entries := make([]RegistryEntry, 0, len(schools.Keys()))
	for _, id := range schools.Keys() {
		node := schools.Child(id)
		var info Info
		if err := node.Child("info").Decode(&info); err != nil {
			return nil, errors.Wrapf(err, "decoding info of %q", id)
		}
		if search != "" && !matchesSearch(search, id, info) {
			continue
		}
		entry := RegistryEntry{ID: id, Info: info, Username: usernames[id]}
		batches, err := BatchesFromSnapshot(node.Child("batches"))
		if err != nil {
			return nil, err
		}
		entry.Batches = len(batches)
		for _, b := range batches {
			entry.Students += len(b.Students)
		}
		entries = append(entries, entry)
	}
	sort.SliceStable(entries, func(i, j int) bool {
		return entries[i].Info.CreatedAt > entries[j].Info.CreatedAt
	})
	return entries, nil
}

func matchesSearch(search, id string, info Info) bool {
	for _, s := range []string{id, info.Name, info.Owner, info.Phone} {
		if strings.Contains(strings.ToLower(s), search) {
			return true
		}
	}
	return false
}
