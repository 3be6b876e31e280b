package mongodb

import (
	"context"
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/infrastructure/remote/schema"
)

// IdentityDocument is the identity record of an account
type IdentityDocument struct {
	ID           string `bson:"_id"`
	Email        string `bson:"email"`
	DisplayName  string `bson:"displayName"`
	PasswordHash string `bson:"passwordHash,omitempty"`
	Disabled     bool   `bson:"disabled"`
}

// AccountRepository pairs identity records with account documents keyed by
// the identity id.
type AccountRepository struct {
	store *Store
}

func (r *AccountRepository) accounts() *mongo.Collection {
	return r.store.database.Collection(schema.AccountsCollection)
}

func (r *AccountRepository) identities() *mongo.Collection {
	return r.store.database.Collection(schema.IdentitiesCollection)
}

// ListAll returns every account document plus identities without one
func (r *AccountRepository) ListAll(ctx context.Context) ([]*entity.Account, error) {
	var out []*entity.Account
	err := r.store.do(ctx, func(ctx context.Context) error {
		docs, err := findAll[schema.AccountDocument](ctx, r.accounts(), bson.M{})
		if err != nil {
			return wrap(err, "list account documents")
		}
		identities, err := findAll[IdentityDocument](ctx, r.identities(), bson.M{})
		if err != nil {
			return wrap(err, "list identities")
		}

		known := make(map[string]struct{}, len(docs))
		accounts := make([]*entity.Account, 0, len(identities))
		for _, d := range docs {
			known[d.ID] = struct{}{}
			accounts = append(accounts, d.ToEntity())
		}
		for _, id := range identities {
			if _, ok := known[id.ID]; !ok {
				accounts = append(accounts, id.toAccount())
			}
		}
		out = accounts
		return nil
	})
	return out, err
}

// FindBySurrogate returns the account document stored under remoteID
func (r *AccountRepository) FindBySurrogate(ctx context.Context, remoteID string) (*entity.Account, error) {
	var out *entity.Account
	err := r.store.do(ctx, func(ctx context.Context) error {
		var doc schema.AccountDocument
		if err := r.accounts().FindOne(ctx, bson.M{"_id": remoteID}).Decode(&doc); err != nil {
			return wrap(err, "get account "+remoteID)
		}
		out = doc.ToEntity()
		return nil
	})
	return out, err
}

// Upsert writes the identity, reusing one registered under the same email,
// then replaces the account document.
func (r *AccountRepository) Upsert(ctx context.Context, account *entity.Account) (*entity.Account, error) {
	var uid string
	err := r.store.do(ctx, func(ctx context.Context) error {
		var err error
		uid, err = r.ensureIdentity(ctx, account)
		if err != nil {
			return err
		}
		stored := account.Clone()
		stored.RemoteID = uid
		return wrap(r.store.replace(ctx, schema.AccountsCollection, uid, schema.AccountToDocument(stored)),
			"write account "+uid)
	})
	if err != nil {
		return nil, err
	}

	out := account.Clone()
	out.RemoteID = uid
	return out, nil
}

func (r *AccountRepository) ensureIdentity(ctx context.Context, account *entity.Account) (string, error) {
	identity, err := r.findIdentity(ctx, account)
	if err != nil {
		return "", err
	}
	if identity == nil {
		identity = &IdentityDocument{ID: account.RemoteID}
		if identity.ID == "" {
			identity.ID = uuid.NewString()
		}
	}

	identity.Email = strings.TrimSpace(account.Email)
	identity.DisplayName = account.DisplayName
	identity.Disabled = account.State.Disabled()
	if account.Credential != "" && !credentialMatches(identity.PasswordHash, account.Credential) {
		hash, err := bcrypt.GenerateFromPassword([]byte(account.Credential), bcrypt.DefaultCost)
		if err != nil {
			return "", err
		}
		identity.PasswordHash = string(hash)
	}

	if err := r.store.replace(ctx, schema.IdentitiesCollection, identity.ID, identity); err != nil {
		return "", wrap(err, "write identity "+identity.Email)
	}
	return identity.ID, nil
}

// findIdentity looks the identity up by id when the account is linked,
// by email otherwise
func (r *AccountRepository) findIdentity(ctx context.Context, account *entity.Account) (*IdentityDocument, error) {
	filter := identityFilter(account)
	if filter == nil {
		return nil, nil
	}

	var doc IdentityDocument
	err := r.identities().FindOne(ctx, filter).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, nil
	}
	if err != nil {
		return nil, wrap(err, "look up identity")
	}
	return &doc, nil
}

// identityFilter never falls back to email for a linked account, so a
// missing identity is recreated under the linked id.
func identityFilter(account *entity.Account) bson.M {
	if account.RemoteID != "" {
		return bson.M{"_id": account.RemoteID}
	}
	if email := strings.TrimSpace(account.Email); email != "" {
		return bson.M{"email": bson.M{
			"$regex": "^" + regexp.QuoteMeta(email) + "$", "$options": "i",
		}}
	}
	return nil
}

func (d IdentityDocument) toAccount() *entity.Account {
	state := entity.AccountStateActive
	if d.Disabled {
		state = entity.AccountStateBlocked
	}
	return &entity.Account{
		RemoteID:    d.ID,
		Email:       d.Email,
		DisplayName: d.DisplayName,
		State:       state,
	}
}

// credentialMatches reports whether hash already encodes credential
func credentialMatches(hash, credential string) bool {
	if hash == "" {
		return false
	}
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(credential)) == nil
}
