package mongodb

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/crypto/bcrypt"

	"github.com/servevlc/platform/services/sync-service/domain/entity"
	"github.com/servevlc/platform/services/sync-service/domain/repository"
	"github.com/servevlc/platform/shared/common"
)

var (
	_ repository.AccountStore         = (*AccountRepository)(nil)
	_ repository.WorkItemStore        = (*WorkItemRepository)(nil)
	_ repository.AccountHistoryStore  = (*AccountHistoryRepository)(nil)
	_ repository.WorkItemHistoryStore = (*WorkItemHistoryRepository)(nil)
	_ repository.SnapshotSink         = (*Store)(nil)
)

func TestWrapMapsDriverErrors(t *testing.T) {
	notFound := wrap(fmt.Errorf("find: %w", mongo.ErrNoDocuments), "get account")
	assert.True(t, common.IsNotFound(notFound))

	dup := wrap(mongo.WriteException{WriteErrors: mongo.WriteErrors{{Code: 11000, Message: "E11000"}}}, "write identity")
	assert.True(t, common.HasErrorCode(dup, common.ErrCodeConflict))

	other := wrap(errors.New("connection reset"), "list")
	assert.True(t, common.HasErrorCode(other, common.ErrCodeExternalService))

	assert.NoError(t, wrap(nil, "noop"))
}

func TestCredentialMatches(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	require.NoError(t, err)

	assert.True(t, credentialMatches(string(hash), "secret"))
	assert.False(t, credentialMatches(string(hash), "other"))
	assert.False(t, credentialMatches("", "secret"))
}

func TestIdentityToAccount(t *testing.T) {
	a := IdentityDocument{ID: "uid-1", Email: "a@x.com", Disabled: true}.toAccount()

	assert.Equal(t, "uid-1", a.RemoteID)
	assert.Equal(t, entity.AccountStateBlocked, a.State)
	assert.Nil(t, a.UpdatedAt)
}

func TestIdentityFilter(t *testing.T) {
	linked := identityFilter(&entity.Account{RemoteID: "uid-1", Email: "a@x.com"})
	assert.Equal(t, bson.M{"_id": "uid-1"}, linked)

	unlinked := identityFilter(&entity.Account{Email: " a.b@x.com "})
	assert.Equal(t, bson.M{"email": bson.M{"$regex": `^a\.b@x\.com$`, "$options": "i"}}, unlinked)

	assert.Nil(t, identityFilter(&entity.Account{}))
}
