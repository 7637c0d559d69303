package services

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/mongo"

	"greendrake/offerdesk/internal/db"
	"greendrake/offerdesk/internal/ident"
	"greendrake/offerdesk/internal/models"
	"greendrake/offerdesk/internal/utils"
)

func TestUserService_RegisterAndAuthenticate(t *testing.T) {
	database := utils.SetupTestDB(t, "offerdesk_test_users", db.UsersCollection)
	ctx := context.Background()
	require.NoError(t, db.EnsureIndexes(ctx, database))
	svc := NewUserService(database)

	user, err := svc.Register(ctx, RegisterInput{
		Name:     "Ann",
		Email:    " Ann@Example.com ",
		Password: "secret123",
		Locality: models.Locality{City: "Austin"},
	})
	require.NoError(t, err)
	assert.Equal(t, "ann@example.com", user.Email)
	assert.Equal(t, models.RoleUser, user.Role)
	assert.NotEqual(t, "secret123", user.PasswordHash)

	_, err = svc.Register(ctx, RegisterInput{Email: "ann@example.com", Password: "other"})
	assert.ErrorIs(t, err, ErrEmailExists)

	_, err = svc.Authenticate(ctx, "ann@example.com", "wrong")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody@example.com", "secret123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)

	logged, err := svc.Authenticate(ctx, "ANN@example.com", "secret123")
	require.NoError(t, err)
	assert.True(t, logged.IsLoggedIn)

	found, err := svc.FindByID(ctx, user.ID)
	require.NoError(t, err)
	assert.True(t, found.IsLoggedIn)
	assert.Equal(t, "Austin", found.City)

	_, err = svc.FindByID(ctx, ident.New())
	assert.ErrorIs(t, err, mongo.ErrNoDocuments)
}

func TestUserService_CreateAdminAndList(t *testing.T) {
	database := utils.SetupTestDB(t, "offerdesk_test_admins", db.UsersCollection)
	ctx := context.Background()
	require.NoError(t, db.EnsureIndexes(ctx, database))
	svc := NewUserService(database)

	admin, err := svc.CreateAdmin(ctx, RegisterInput{Name: "Root", Email: "root@example.com", Password: "pw"})
	require.NoError(t, err)
	assert.True(t, admin.IsAdmin())

	_, err = svc.Register(ctx, RegisterInput{Name: "Bob", Email: "bob@example.com", Password: "pw"})
	require.NoError(t, err)

	users, err := svc.ListAll(ctx)
	require.NoError(t, err)
	assert.Len(t, users, 2)
	for i := 1; i < len(users); i++ {
		assert.Negative(t, bytes.Compare(users[i-1].ID[:], users[i].ID[:]))
	}

	_, err = svc.Register(ctx, RegisterInput{Email: "x@example.com"})
	assert.Error(t, err)
}
