package firestore

import (
	"context"
	"strings"

	fs "cloud.google.com/go/firestore"
	"firebase.google.com/go/v4/auth"
	"google.golang.org/api/iterator"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/infrastructure/remote/schema"
	"github.com/servevlc/platform/shared/common"
)

// AccountRepository pairs Firebase Auth users with account documents keyed
// by the user's uid.
type AccountRepository struct {
	store *Store
}

func (r *AccountRepository) collection() *fs.CollectionRef {
	return r.store.client.Collection(schema.AccountsCollection)
}

// ListAll returns every account document plus the auth users that have no
// document yet.
func (r *AccountRepository) ListAll(ctx context.Context) ([]*entity.Account, error) {
	var out []*entity.Account
	err := r.store.do(ctx, func(ctx context.Context) error {
		accounts, err := readAll(r.collection().Documents(ctx), decodeAccount)
		if err != nil {
			return wrap(err, "list account documents")
		}

		known := make(map[string]struct{}, len(accounts))
		for _, a := range accounts {
			known[a.RemoteID] = struct{}{}
		}

		users := r.store.auth.Users(ctx, "")
		for {
			u, err := users.Next()
			if err == iterator.Done {
				break
			}
			if err != nil {
				return wrap(err, "list auth users")
			}
			if _, ok := known[u.UID]; ok {
				continue
			}
			accounts = append(accounts, identityAccount(u.UserRecord))
		}

		out = accounts
		return nil
	})
	return out, err
}

// FindBySurrogate returns the account document stored under uid
func (r *AccountRepository) FindBySurrogate(ctx context.Context, remoteID string) (*entity.Account, error) {
	var out *entity.Account
	err := r.store.do(ctx, func(ctx context.Context) error {
		snap, err := r.collection().Doc(remoteID).Get(ctx)
		if err != nil {
			return wrap(err, "get account "+remoteID)
		}
		out, err = decodeAccount(snap)
		return err
	})
	return out, err
}

// Upsert creates or updates the auth user, then writes the account
// document. A user already registered under the same email is reused.
func (r *AccountRepository) Upsert(ctx context.Context, account *entity.Account) (*entity.Account, error) {
	var uid string
	err := r.store.do(ctx, func(ctx context.Context) error {
		var err error
		uid, err = r.ensureUser(ctx, account)
		if err != nil {
			return err
		}

		stored := account.Clone()
		stored.RemoteID = uid
		_, err = r.collection().Doc(uid).Set(ctx, schema.AccountToDocument(stored))
		return wrap(err, "write account "+uid)
	})
	if err != nil {
		return nil, err
	}

	out := account.Clone()
	out.RemoteID = uid
	return out, nil
}

func (r *AccountRepository) ensureUser(ctx context.Context, account *entity.Account) (string, error) {
	uid := account.RemoteID
	if uid == "" {
		existing, err := r.store.auth.GetUserByEmail(ctx, strings.TrimSpace(account.Email))
		switch {
		case err == nil:
			uid = existing.UID
		case !auth.IsUserNotFound(err):
			return "", wrap(err, "look up auth user "+account.Email)
		}
	}

	if uid != "" {
		_, err := r.store.auth.UpdateUser(ctx, uid, userToUpdate(account))
		if err == nil {
			return uid, nil
		}
		if !auth.IsUserNotFound(err) {
			return "", wrap(err, "update auth user "+uid)
		}
	}

	created, err := r.store.auth.CreateUser(ctx, userToCreate(account, uid))
	if err != nil {
		return "", wrap(err, "create auth user "+account.Email)
	}
	return created.UID, nil
}

func userToCreate(a *entity.Account, uid string) *auth.UserToCreate {
	params := (&auth.UserToCreate{}).
		Email(a.Email).
		Disabled(a.State.Disabled())
	if uid != "" {
		params = params.UID(uid)
	}
	if a.DisplayName != "" {
		params = params.DisplayName(a.DisplayName)
	}
	if a.Credential != "" {
		params = params.Password(a.Credential)
	}
	return params
}

func userToUpdate(a *entity.Account) *auth.UserToUpdate {
	params := (&auth.UserToUpdate{}).
		Email(a.Email).
		Disabled(a.State.Disabled())
	if a.DisplayName != "" {
		params = params.DisplayName(a.DisplayName)
	}
	if a.Credential != "" {
		params = params.Password(a.Credential)
	}
	return params
}

// identityAccount maps an auth user without an account document. It
// carries no timestamp.
func identityAccount(u *auth.UserRecord) *entity.Account {
	state := entity.AccountStateActive
	if u.Disabled {
		state = entity.AccountStateBlocked
	}
	return &entity.Account{
		RemoteID:    u.UID,
		Email:       u.Email,
		DisplayName: u.DisplayName,
		State:       state,
	}
}

func decodeAccount(snap *fs.DocumentSnapshot) (*entity.Account, error) {
	var doc schema.AccountDocument
	if err := snap.DataTo(&doc); err != nil {
		return nil, common.WrapError(err, common.ErrCodeInternal, "decode account document")
	}
	doc.ID = snap.Ref.ID
	return doc.ToEntity(), nil
}
