package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"greendrake/offerdesk/internal/auth"
	"greendrake/offerdesk/internal/db"
	"greendrake/offerdesk/internal/ident"
	"greendrake/offerdesk/internal/models"
)

var (
	// ErrEmailExists is returned when an attempt is made to use an email that already exists.
	ErrEmailExists = errors.New("email already in use by another account")
	// ErrInvalidCredentials is returned for an unknown email or wrong password.
	ErrInvalidCredentials = errors.New("invalid email or password")
)

// RegisterInput carries the fields accepted at registration.
type RegisterInput struct {
	Name     string
	Email    string
	Password string
	models.Locality
}

// IUserService defines the interface for user-related operations.
type IUserService interface {
	Register(ctx context.Context, in RegisterInput) (*models.User, error)
	CreateAdmin(ctx context.Context, in RegisterInput) (*models.User, error)
	Authenticate(ctx context.Context, email, password string) (*models.User, error)
	FindByID(ctx context.Context, userID ident.ID) (*models.User, error)
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	ListAll(ctx context.Context) ([]models.User, error)
}

type userService struct {
	db *mongo.Database
}

// NewUserService creates a new UserService.
func NewUserService(database *mongo.Database) IUserService {
	return &userService{db: database}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (s *userService) Register(ctx context.Context, in RegisterInput) (*models.User, error) {
	return s.create(ctx, in, models.RoleUser)
}

func (s *userService) CreateAdmin(ctx context.Context, in RegisterInput) (*models.User, error) {
	return s.create(ctx, in, models.RoleAdmin)
}

func (s *userService) create(ctx context.Context, in RegisterInput, role models.Role) (*models.User, error) {
	email := normalizeEmail(in.Email)
	if email == "" {
		return nil, errors.New("email is required")
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	now := time.Now().UTC()
	user := &models.User{
		Name:         strings.TrimSpace(in.Name),
		Email:        email,
		PasswordHash: hash,
		Role:         role,
		Locality: models.Locality{
			City:  strings.TrimSpace(in.City),
			State: strings.TrimSpace(in.State),
			Area:  strings.TrimSpace(in.Area),
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	collection := s.db.Collection(db.UsersCollection)
	err = db.Try(func() error {
		user.GenID()
		_, insertErr := collection.InsertOne(ctx, user)
		return insertErr
	})
	if err != nil {
		if db.IsDuplicateKeyOnIndex(err, db.UserEmailIndex) {
			return nil, ErrEmailExists
		}
		return nil, fmt.Errorf("error inserting user %s: %w", email, err)
	}

	log.Printf("Registered %s user %s (%s)", role, user.ID, email)
	return user, nil
}

// Authenticate checks the password and flags the user as logged in.
func (s *userService) Authenticate(ctx context.Context, email, password string) (*models.User, error) {
	user, err := s.FindByEmail(ctx, email)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !auth.CheckPasswordHash(password, user.PasswordHash) {
		return nil, ErrInvalidCredentials
	}

	now := time.Now().UTC()
	_, err = s.db.Collection(db.UsersCollection).UpdateByID(ctx, user.ID, bson.M{
		"$set": bson.M{"is_logged_in": true, "updated_at": now},
	})
	if err != nil {
		return nil, fmt.Errorf("error updating login state for user %s: %w", user.ID, err)
	}
	user.IsLoggedIn = true
	user.UpdatedAt = now
	return user, nil
}

// FindByID returns mongo.ErrNoDocuments when the user does not exist.
func (s *userService) FindByID(ctx context.Context, userID ident.ID) (*models.User, error) {
	var user models.User
	err := s.db.Collection(db.UsersCollection).FindOne(ctx, bson.M{"_id": userID}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by ID %s: %w", userID, err)
	}
	return &user, nil
}

// FindByEmail returns mongo.ErrNoDocuments when no user has this email.
func (s *userService) FindByEmail(ctx context.Context, email string) (*models.User, error) {
	var user models.User
	err := s.db.Collection(db.UsersCollection).FindOne(ctx, bson.M{"email": normalizeEmail(email)}).Decode(&user)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, mongo.ErrNoDocuments
		}
		return nil, fmt.Errorf("error finding user by email %s: %w", email, err)
	}
	return &user, nil
}

// ListAll returns every user ordered by id.
func (s *userService) ListAll(ctx context.Context) ([]models.User, error) {
	cursor, err := s.db.Collection(db.UsersCollection).Find(ctx, bson.M{}, options.Find().SetSort(bson.D{{Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("error listing users: %w", err)
	}
	defer cursor.Close(ctx)

	users := []models.User{}
	if err := cursor.All(ctx, &users); err != nil {
		return nil, fmt.Errorf("error decoding users: %w", err)
	}
	return users, nil
}
